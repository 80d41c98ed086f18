package client

import (
	"github.com/lockstep-dev/lockstep/internal/emitter"
	"github.com/lockstep-dev/lockstep/internal/protocol"
)

// Room mirrors a server-side room. Rooms in the lobby listing carry only the
// snapshot fields; the joined room additionally tracks members, parameters,
// ownership and lockstep state, kept current by server notifications.
//
// Events on any room mirror: "update" after a snapshot refresh, "destroy"
// when the mirror is torn down. A joined room additionally emits
// "player.joined" (info), "player.left" (info), "owner" (*Player),
// "parameter" (key, value), "countdown.start" (seconds), "countdown.update"
// (seconds), "countdown.cancel", "countdown.end", "started" (seed), "tick"
// (tick, players). Mirror fields and callbacks belong to the client's loop
// goroutine.
type Room struct {
	client *Client
	events emitter.Emitter

	ID          string
	Name        string
	GameIdent   string
	GameVersion string
	PlayerCount int
	MinPlayers  int
	MaxPlayers  int
	TickRate    int

	Players   *InstanceList[protocol.PlayerID, *Player]
	Params    *protocol.Params
	Owner     *Player
	Seed      int
	Countdown int
	IsStarted bool

	// TickCount is the last accepted server tick, -1 before the first.
	TickCount int
}

func (r *Room) applyInfo(info protocol.RoomInfo) {
	r.ID = info.ID
	r.Name = info.Name
	r.GameIdent = info.GameIdent
	r.GameVersion = info.GameVersion
	r.PlayerCount = info.PlayerCount
	r.MinPlayers = info.MinPlayers
	r.MaxPlayers = info.MaxPlayers
	r.TickRate = info.TickRate
	r.events.Emit("update")
}

// setOwner moves the ownership flag off the previous owner's mirror and onto
// the new one, then announces the change on the room.
func (r *Room) setOwner(p *Player) {
	if r.Owner != nil {
		r.Owner.setOwner(false)
	}
	r.Owner = p
	if p != nil {
		p.setOwner(true)
	}
	r.events.Emit("owner", p)
}

// destroy tears the mirror down: member mirrors drain through the list's
// removal path so their own destroy hooks run, then the room releases its
// listeners.
func (r *Room) destroy() {
	r.events.Emit("destroy")
	if r.Players != nil {
		r.Players.Clear()
	}
	r.Owner = nil
	r.events.Destroy()
}

func (r *Room) On(event string, fn emitter.Callback) int {
	return r.events.On(event, fn)
}

func (r *Room) Once(event string, fn emitter.Callback) int {
	return r.events.Once(event, fn)
}

func (r *Room) Unbind(event string, id int) {
	r.events.Unbind(event, id)
}

// Start asks the server to begin the countdown; zero seconds loads the room
// immediately. Owner only.
func (r *Room) Start(seconds int) *Future {
	return r.client.request(protocol.ClientRoomStart, seconds)
}

// Cancel aborts a running countdown. Owner only.
func (r *Room) Cancel() *Future {
	return r.client.request(protocol.ClientRoomCancel, nil)
}

// SetParameter sets a shared key/value visible to every member.
func (r *Room) SetParameter(key string, value any) *Future {
	return r.client.request(protocol.ClientRoomSetParam, protocol.Param{Key: key, Value: value}.Tuple())
}

// SetPassword replaces the join password; nil opens the room. Owner only.
func (r *Room) SetPassword(password *string) *Future {
	var payload any
	if password != nil {
		payload = *password
	}
	return r.client.request(protocol.ClientRoomSetPassword, payload)
}

// SetOwner transfers ownership to another member. Owner only.
func (r *Room) SetOwner(id protocol.PlayerID) *Future {
	return r.client.request(protocol.ClientRoomSetOwner, uint32(id))
}

// Leave exits the room, returning the client to the lobby listing.
func (r *Room) Leave() *Future {
	return r.client.request(protocol.ClientRoomLeave, nil)
}

// Send queues an input event for the next tick confirmation.
func (r *Room) Send(event any) {
	r.client.queueEvent(event)
}

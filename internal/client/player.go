package client

import (
	"github.com/lockstep-dev/lockstep/internal/emitter"
	"github.com/lockstep-dev/lockstep/internal/protocol"
)

// Player mirrors one server-side player. Events holds the input events this
// player contributed to the current tick; the batch is attached right before
// the tick callback runs and cleared right after. IsOwner tracks whether this
// player currently owns the room.
//
// Events: "update" after a snapshot refresh, "owner" (bool) when room
// ownership moves onto or off this player, "destroy" when the mirror is
// removed from its list.
type Player struct {
	events emitter.Emitter

	ID      protocol.PlayerID
	Name    string
	IsOwner bool
	Events  []any
}

func (p *Player) On(event string, fn emitter.Callback) int {
	return p.events.On(event, fn)
}

func (p *Player) Once(event string, fn emitter.Callback) int {
	return p.events.Once(event, fn)
}

func (p *Player) Unbind(event string, id int) {
	p.events.Unbind(event, id)
}

func (p *Player) applyInfo(info protocol.PlayerInfo) {
	p.ID = info.ID
	p.Name = info.Name
	p.events.Emit("update")
}

func (p *Player) setOwner(isOwner bool) {
	p.IsOwner = isOwner
	p.events.Emit("owner", isOwner)
}

func (p *Player) clearEvents() {
	p.Events = nil
}

func (p *Player) destroy() {
	p.events.Emit("destroy")
	p.events.Destroy()
}

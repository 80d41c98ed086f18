package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lockstep-dev/lockstep/internal/protocol"
)

// tickSlack is the margin under which the tick loop stops using the coarse
// timer and re-arms through the zero-delay queue instead. Timer firings can
// land a few milliseconds late; the immediate path absorbs that.
const tickSlack = 3 * time.Millisecond

// Room is an authoritative game room: lobby membership, the countdown and
// load gate, and the lockstep tick loop once running. All methods run on the
// server loop goroutine.
type Room struct {
	server *Server
	log    *zap.Logger

	id          string
	name        string
	gameIdent   string
	gameVersion string
	minPlayers  int
	maxPlayers  int
	tickRate    int
	password    *string
	params      *protocol.Params

	players []*Player
	owner   *Player

	isStarted bool
	isLoaded  bool
	destroyed bool

	countdown      int
	countdownTimer *time.Timer

	// tickCount is -1 until the first tick broadcast, which carries 0.
	tickCount    int
	tickInterval time.Duration
	nextTickAt   time.Time
	loopTimer    *time.Timer
	events       []protocol.PlayerEvent
}

func newRoom(s *Server, id, gameIdent, gameVersion string, req protocol.CreateRoom) *Room {
	return &Room{
		server:       s,
		log:          s.log.With(zap.String("room", id), zap.String("name", req.Name)),
		id:           id,
		name:         req.Name,
		gameIdent:    gameIdent,
		gameVersion:  gameVersion,
		minPlayers:   req.MinPlayers,
		maxPlayers:   req.MaxPlayers,
		tickRate:     req.TickRate,
		password:     req.Password,
		params:       protocol.NewParams(),
		tickCount:    -1,
		tickInterval: time.Duration(float64(time.Second) / float64(req.TickRate)),
	}
}

func (r *Room) String() string { return fmt.Sprintf("%s (%s)", r.name, r.id) }

func (r *Room) isFull() bool         { return len(r.players) >= r.maxPlayers }
func (r *Room) isReady() bool        { return len(r.players) >= r.minPlayers }
func (r *Room) isCountingDown() bool { return r.countdownTimer != nil }

func (r *Room) passwordMatches(supplied *string) bool {
	if r.password == nil {
		return true
	}
	return supplied != nil && *supplied == *r.password
}

func (r *Room) info() protocol.RoomInfo {
	return protocol.RoomInfo{
		ID:          r.id,
		Name:        r.name,
		GameIdent:   r.gameIdent,
		GameVersion: r.gameVersion,
		PlayerCount: len(r.players),
		MinPlayers:  r.minPlayers,
		MaxPlayers:  r.maxPlayers,
		TickRate:    r.tickRate,
	}
}

func (r *Room) playerRows() []any {
	rows := make([]any, 0, len(r.players))
	for _, p := range r.players {
		rows = append(rows, protocol.PlayerInfo{ID: p.id, Name: p.name}.Tuple())
	}
	return rows
}

func (r *Room) broadcast(action protocol.Action, payload any) {
	for _, p := range r.players {
		p.send(action, payload)
	}
}

// addPlayer appends p to membership and brings it up to date: the room
// snapshot, the refreshed player list, the join notification, and for
// late joiners the current owner and every parameter in insertion order.
// The first member becomes the owner.
func (r *Room) addPlayer(p *Player) {
	r.players = append(r.players, p)
	p.send(protocol.ServerRoomJoined, r.info().Tuple())
	r.broadcast(protocol.ServerRoomPlayerList, r.playerRows())
	r.broadcast(protocol.ServerRoomPlayerJoined, protocol.PlayerInfo{ID: p.id, Name: p.name}.Tuple())
	if len(r.players) == 1 {
		r.setOwner(p)
	} else {
		p.send(protocol.ServerRoomSetOwner, uint32(r.owner.id))
		r.params.Each(func(key string, value any) {
			p.send(protocol.ServerRoomParamSet, protocol.Param{Key: key, Value: value}.Tuple())
		})
	}
	r.server.broadcastRoomList()
}

// removePlayer drops p from membership along with any of its unconfirmed
// events. Ownership transfers to the earliest remaining member; an emptied
// room is destroyed.
func (r *Room) removePlayer(p *Player) {
	for i, member := range r.players {
		if member == p {
			r.players = append(r.players[:i:i], r.players[i+1:]...)
			break
		}
	}
	kept := r.events[:0]
	for _, e := range r.events {
		if e.Player != p.id {
			kept = append(kept, e)
		}
	}
	r.events = kept

	if len(r.players) == 0 {
		r.destroy()
		r.server.removeRoom(r)
		return
	}

	r.broadcast(protocol.ServerRoomPlayerLeft, protocol.PlayerInfo{ID: p.id, Name: p.name}.Tuple())
	r.broadcast(protocol.ServerRoomPlayerList, r.playerRows())
	if r.owner == p {
		r.setOwner(r.players[0])
	}
	r.server.broadcastRoomList()
}

func (r *Room) setOwner(p *Player) {
	r.owner = p
	r.broadcast(protocol.ServerRoomSetOwner, uint32(p.id))
}

// setOwnerByID transfers ownership to the member with the given id. It
// reports false when no member matches.
func (r *Room) setOwnerByID(id protocol.PlayerID) bool {
	for _, p := range r.players {
		if p.id == id {
			r.setOwner(p)
			return true
		}
	}
	return false
}

func (r *Room) setParameter(key string, value any) {
	r.params.Set(key, value)
	r.broadcast(protocol.ServerRoomParamSet, protocol.Param{Key: key, Value: value}.Tuple())
}

func (r *Room) setPassword(password *string) {
	r.password = password
}

// start begins the countdown, or loads immediately when seconds is zero.
func (r *Room) start(seconds int) {
	r.isStarted = true
	r.log.Info("starting", zap.Int("countdown", seconds))
	if seconds == 0 {
		r.load()
		return
	}
	r.countdown = seconds
	r.broadcast(protocol.ServerRoomCountdownStarted, seconds)
	r.broadcast(protocol.ServerRoomCountdownUpdated, r.countdown)
	r.armCountdown()
}

func (r *Room) armCountdown() {
	r.countdownTimer = time.AfterFunc(time.Second, func() {
		r.server.postTask(r.countdownStep)
	})
}

func (r *Room) countdownStep() {
	if r.destroyed || !r.isCountingDown() {
		return
	}
	r.countdown--
	r.broadcast(protocol.ServerRoomCountdownUpdated, r.countdown)
	if r.countdown <= 0 {
		r.countdownTimer = nil
		r.load()
		return
	}
	r.armCountdown()
}

func (r *Room) cancel() {
	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
		r.countdownTimer = nil
	}
	r.isStarted = false
	r.countdown = 0
	r.broadcast(protocol.ServerRoomCountdownCanceled, nil)
	r.log.Info("countdown canceled")
}

// load tells every member to load its assets and starts the tick scheduler.
// The loop idles on the load gate until all members confirm.
func (r *Room) load() {
	r.broadcast(protocol.ServerRoomLoad, nil)
	r.nextTickAt = time.Now().Add(r.tickInterval)
	r.loopStep()
}

// loopStep is the deadline scheduler. Past the deadline it runs one update
// and advances the deadline; then it re-arms either through a coarse timer
// (plenty of time left) or through the zero-delay queue (deadline imminent).
func (r *Room) loopStep() {
	if r.destroyed {
		return
	}
	now := time.Now()
	if !now.Before(r.nextTickAt) {
		r.update()
		r.nextTickAt = r.nextTickAt.Add(r.tickInterval)
		if r.nextTickAt.Before(now) {
			r.nextTickAt = now.Add(r.tickInterval)
		}
	}
	remain := time.Until(r.nextTickAt)
	if remain > tickSlack {
		r.loopTimer = time.AfterFunc(remain-tickSlack, func() {
			r.server.postTask(r.loopStep)
		})
	} else {
		r.loopTimer = nil
		r.server.schedule(r.loopStep)
	}
}

// update fires at most one transition per deadline: either the tick
// advances, or the load gate completes, never both. When neither condition
// holds the room stalls until a slow member catches up.
func (r *Room) update() {
	latest := r.tickCount
	allLoaded := true
	for i, p := range r.players {
		if i == 0 || p.tick < latest {
			latest = p.tick
		}
		if !p.isLoaded {
			allLoaded = false
		}
	}

	switch {
	case r.isLoaded && latest == r.tickCount:
		r.tickCount = (r.tickCount + 1) % 256
		r.broadcast(protocol.ServerTickUpdate, protocol.TickUpdate{Tick: r.tickCount, Events: r.events}.Tuple())
		r.events = nil
	case !r.isLoaded && allLoaded:
		seed := r.server.cfg.Seed()
		r.broadcast(protocol.ServerRoomCountdownEnded, nil)
		r.broadcast(protocol.ServerRoomStarted, seed)
		r.isLoaded = true
		r.log.Info("running", zap.Int("seed", seed))
	}
}

// addPlayerEvents appends p's events to the pending batch, each tagged with
// p's id, keeping arrival order. Events beyond the per-tick cap are dropped
// without an error.
func (r *Room) addPlayerEvents(p *Player, events []any) {
	if max := r.server.cfg.MaxPlayerEventsPerTick; len(events) > max {
		events = events[:max]
	}
	for _, data := range events {
		r.events = append(r.events, protocol.PlayerEvent{Player: p.id, Data: data})
	}
}

func (r *Room) destroy() {
	r.destroyed = true
	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
		r.countdownTimer = nil
	}
	if r.loopTimer != nil {
		r.loopTimer.Stop()
		r.loopTimer = nil
	}
	r.log.Info("destroyed")
}

// Package client is the connecting side of the lockstep protocol: it keeps
// local mirrors of the server's rooms and players, correlates requests with
// their replies through futures, and drives the tick confirmation loop.
//
// A Client owns one loop goroutine; every mirror mutation and every event
// callback happens there. Register handlers before Connect or from inside
// callbacks, and treat mirror objects as loop-confined.
package client

import (
	"go.uber.org/zap"

	"github.com/lockstep-dev/lockstep/internal/emitter"
	"github.com/lockstep-dev/lockstep/internal/protocol"
	"github.com/lockstep-dev/lockstep/internal/transport"
)

type message interface{}

type frame struct{ data []byte }

type connClosed struct{ remote bool }

type call struct{ fn func() }

type inspect struct {
	fn   func()
	done chan struct{}
}

type shutdown struct{ done chan struct{} }

// Client events: "hello" (protocol.Hello), "room.list" (the room list),
// "room.joined" (*Room), "room.left" (*Room), "error" (protocol.ErrorCode,
// for unsolicited errors), "unknown.message" (raw frame), "close" (remote
// bool).
type Client struct {
	log    *zap.Logger
	codec  protocol.Codec
	events emitter.Emitter

	inbox chan message
	done  chan struct{}

	conn        transport.Conn
	nextRequest uint32
	pending     map[uint32]*Future
	helloFut    *Future

	hello protocol.Hello
	self  *Player
	rooms *InstanceList[string, *Room]
	room  *Room

	outgoing    []any
	loadHandler func(*Room) error
}

func New(log *zap.Logger, codec protocol.Codec) *Client {
	c := &Client{
		log:     log.Named("client"),
		codec:   codec,
		inbox:   make(chan message, 256),
		done:    make(chan struct{}),
		pending: make(map[uint32]*Future),
		rooms:   NewInstanceList[string, *Room](),
	}
	go c.run()
	return c
}

func (c *Client) On(event string, fn emitter.Callback) int {
	return c.events.On(event, fn)
}

func (c *Client) Once(event string, fn emitter.Callback) int {
	return c.events.Once(event, fn)
}

func (c *Client) Unbind(event string, id int) {
	c.events.Unbind(event, id)
}

// SetLoadHandler installs the asset-loading hook invoked when the joined
// room begins loading. A nil handler confirms immediately. The handler runs
// on its own goroutine; returning an error abandons the room.
func (c *Client) SetLoadHandler(fn func(*Room) error) {
	c.post(call{func() { c.loadHandler = fn }})
}

// Connect binds an established connection and returns a future that
// resolves with the server hello.
func (c *Client) Connect(conn transport.Conn) *Future {
	f := newFuture()
	c.post(call{func() {
		if c.conn != nil {
			f.fail(&ClosedError{})
			return
		}
		c.conn = conn
		c.helloFut = f
		conn.Bind(transport.Events{
			Message: func(data []byte) { c.post(frame{data: data}) },
			Close:   func(remote bool) { c.post(connClosed{remote: remote}) },
		})
	}})
	return f
}

// Login performs the handshake; the future resolves with the local player
// mirror carrying the server-assigned id.
func (c *Client) Login(gameIdent, gameVersion, name string) *Future {
	return c.request(protocol.ClientLogin, protocol.Login{
		Protocol:    protocol.Version,
		GameIdent:   gameIdent,
		GameVersion: gameVersion,
		PlayerName:  name,
	}.Tuple())
}

// CreateRoom creates and joins a room; the future resolves with the joined
// *Room mirror.
func (c *Client) CreateRoom(name string, minPlayers, maxPlayers, tickRate int, password *string) *Future {
	return c.request(protocol.ClientRoomCreate, protocol.CreateRoom{
		Name:       name,
		MinPlayers: minPlayers,
		MaxPlayers: maxPlayers,
		TickRate:   tickRate,
		Password:   password,
	}.Tuple())
}

// JoinRoom joins an existing room by id; the future resolves with the
// joined *Room mirror.
func (c *Client) JoinRoom(id string, password *string) *Future {
	return c.request(protocol.ClientRoomJoin, protocol.JoinRoom{
		RoomID:   id,
		Password: password,
	}.Tuple())
}

// Close tears down the connection and stops the loop. Pending futures fail
// with a local ClosedError.
func (c *Client) Close() {
	done := make(chan struct{})
	select {
	case c.inbox <- shutdown{done: done}:
		<-done
	case <-c.done:
	}
}

func (c *Client) post(m message) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

// do runs fn on the loop and waits for it; test hook.
func (c *Client) do(fn func()) {
	done := make(chan struct{})
	select {
	case c.inbox <- inspect{fn: fn, done: done}:
		<-done
	case <-c.done:
	}
}

func (c *Client) run() {
	for m := range c.inbox {
		switch msg := m.(type) {
		case frame:
			c.dispatch(msg.data)
		case connClosed:
			c.teardown(&ClosedError{Remote: msg.remote})
			c.events.Emit("close", msg.remote)
		case call:
			msg.fn()
		case inspect:
			msg.fn()
			close(msg.done)
		case shutdown:
			if c.conn != nil {
				_ = c.conn.Close()
			}
			c.teardown(&ClosedError{})
			close(c.done)
			close(msg.done)
			return
		}
	}
}

// teardown fails everything waiting on the connection and resets mirror
// state. The client itself stays usable for a fresh Connect.
func (c *Client) teardown(cause *ClosedError) {
	c.conn = nil
	if c.helloFut != nil {
		f := c.helloFut
		c.helloFut = nil
		select {
		case <-f.Done():
		default:
			f.fail(cause)
		}
	}
	for rid, f := range c.pending {
		delete(c.pending, rid)
		f.fail(cause)
	}
	c.self = nil
	if c.room != nil {
		c.room.destroy()
		c.room = nil
	}
	c.outgoing = nil
	c.nextRequest = 0
	c.rooms.Clear()
}

// Self returns the local player mirror, nil before login. Loop goroutine
// only.
func (c *Client) Self() *Player { return c.self }

// JoinedRoom returns the joined room mirror, nil while in the lobby. Loop
// goroutine only.
func (c *Client) JoinedRoom() *Room { return c.room }

// Rooms returns the lobby room listing. Loop goroutine only.
func (c *Client) Rooms() *InstanceList[string, *Room] { return c.rooms }

// request assigns the next id, records the future, and sends the envelope.
func (c *Client) request(action protocol.Action, payload any) *Future {
	f := newFuture()
	c.post(call{func() {
		if c.conn == nil {
			f.fail(&ClosedError{})
			return
		}
		c.nextRequest++
		rid := c.nextRequest
		c.pending[rid] = f
		c.send(rid, action, payload)
	}})
	return f
}

// queueEvent buffers an input event for the next tick confirmation. Loop
// goroutine only; call it from tick or room callbacks.
func (c *Client) queueEvent(event any) {
	c.outgoing = append(c.outgoing, event)
}

func (c *Client) send(rid uint32, action protocol.Action, payload any) {
	data, err := c.codec.Encode(protocol.Envelope{RequestID: rid, Action: action, Payload: payload})
	if err != nil {
		c.log.Error("encode failed", zap.Stringer("action", action), zap.Error(err))
		return
	}
	if err := c.conn.Send(data); err != nil {
		c.log.Debug("send failed", zap.Stringer("action", action), zap.Error(err))
	}
}

// resolveReq settles the pending future for rid, if any.
func (c *Client) resolveReq(rid uint32, value any) {
	if f, ok := c.pending[rid]; ok {
		delete(c.pending, rid)
		f.resolve(value)
	}
}

func (c *Client) failReq(rid uint32, err error) {
	if f, ok := c.pending[rid]; ok {
		delete(c.pending, rid)
		f.fail(err)
	}
}

func (c *Client) dispatch(data []byte) {
	env, err := c.codec.Decode(data)
	if err != nil {
		c.log.Debug("unknown message", zap.Error(err))
		c.events.Emit("unknown.message", data)
		return
	}

	switch env.Action {
	case protocol.ActionError:
		code, err := protocol.DecodeErrorCode(env.Payload)
		if err != nil {
			c.events.Emit("unknown.message", data)
			return
		}
		if env.RequestID > 0 {
			c.failReq(env.RequestID, &ProtocolError{Code: code})
		} else {
			c.events.Emit("error", code)
		}

	case protocol.ServerHello:
		hello, err := protocol.DecodeHello(env.Payload)
		if err != nil {
			return
		}
		c.hello = hello
		if c.helloFut != nil {
			c.helloFut.resolve(hello)
			c.helloFut = nil
		}
		c.events.Emit("hello", hello)

	case protocol.RespondLogin:
		info, err := protocol.DecodePlayerInfo(env.Payload)
		if err != nil {
			return
		}
		c.self = &Player{ID: info.ID, Name: info.Name}
		c.resolveReq(env.RequestID, c.self)

	case protocol.ServerRoomList:
		c.handleRoomList(env.Payload)

	case protocol.ServerRoomJoined:
		info, err := protocol.DecodeRoomInfo(env.Payload)
		if err != nil {
			return
		}
		room := &Room{
			client:    c,
			Players:   NewInstanceList[protocol.PlayerID, *Player](),
			Params:    protocol.NewParams(),
			TickCount: -1,
		}
		room.applyInfo(info)
		c.room = room
		c.events.Emit("room.joined", room)

	case protocol.RespondRoomJoined:
		c.resolveReq(env.RequestID, c.room)

	case protocol.RespondRoomLeft:
		room := c.room
		c.room = nil
		c.outgoing = nil
		c.resolveReq(env.RequestID, nil)
		c.events.Emit("room.left", room)
		if room != nil {
			room.destroy()
		}

	case protocol.RespondRoomStart, protocol.RespondRoomCancel,
		protocol.RespondRoomOwnerSet, protocol.RespondRoomParamSet,
		protocol.RespondRoomPasswordSet:
		c.resolveReq(env.RequestID, nil)

	case protocol.ServerRoomPlayerList:
		c.handlePlayerList(env.Payload)

	case protocol.ServerRoomPlayerJoined:
		if info, err := protocol.DecodePlayerInfo(env.Payload); err == nil && c.room != nil {
			p, _ := c.room.Players.Get(info.ID)
			c.room.events.Emit("player.joined", p)
		}

	case protocol.ServerRoomPlayerLeft:
		if info, err := protocol.DecodePlayerInfo(env.Payload); err == nil && c.room != nil {
			p, _ := c.room.Players.Get(info.ID)
			c.room.events.Emit("player.left", p)
		}

	case protocol.ServerRoomSetOwner:
		if id, err := protocol.DecodePlayerID(env.Payload); err == nil && c.room != nil {
			p, _ := c.room.Players.Get(id)
			c.room.setOwner(p)
		}

	case protocol.ServerRoomParamSet:
		if param, err := protocol.DecodeParam(env.Payload); err == nil && c.room != nil {
			c.room.Params.Set(param.Key, param.Value)
			c.room.events.Emit("parameter", param.Key, param.Value)
		}

	case protocol.ServerRoomCountdownStarted:
		if n, err := protocol.DecodeInt(env.Payload); err == nil && c.room != nil {
			c.room.Countdown = n
			c.room.events.Emit("countdown.start", n)
		}

	case protocol.ServerRoomCountdownUpdated:
		if n, err := protocol.DecodeInt(env.Payload); err == nil && c.room != nil {
			c.room.Countdown = n
			c.room.events.Emit("countdown.update", n)
		}

	case protocol.ServerRoomCountdownCanceled:
		if c.room != nil {
			c.room.Countdown = 0
			c.room.events.Emit("countdown.cancel")
		}

	case protocol.ServerRoomCountdownEnded:
		if c.room != nil {
			c.room.events.Emit("countdown.end")
		}

	case protocol.ServerRoomLoad:
		c.handleLoad()

	case protocol.ServerRoomStarted:
		if seed, err := protocol.DecodeInt(env.Payload); err == nil && c.room != nil {
			c.room.Seed = seed
			c.room.IsStarted = true
			c.room.TickCount = -1
			c.room.events.Emit("started", seed)
		}

	case protocol.ServerTickUpdate:
		c.handleTickUpdate(env.Payload)

	default:
		c.log.Debug("unhandled message", zap.Stringer("action", env.Action))
		c.events.Emit("unknown.message", data)
	}
}

func (c *Client) handleRoomList(payload any) {
	rows, err := protocol.DecodeRoomList(payload)
	if err != nil {
		return
	}
	byID := make(map[string]protocol.RoomInfo, len(rows))
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
		keys = append(keys, row.ID)
	}
	c.rooms.Update(keys,
		func(id string) *Room {
			room := &Room{client: c}
			room.applyInfo(byID[id])
			return room
		},
		func(room *Room) { room.applyInfo(byID[room.ID]) },
	)
	c.events.Emit("room.list", c.rooms)
}

func (c *Client) handlePlayerList(payload any) {
	rows, err := protocol.DecodePlayerList(payload)
	if err != nil || c.room == nil {
		return
	}
	byID := make(map[protocol.PlayerID]protocol.PlayerInfo, len(rows))
	keys := make([]protocol.PlayerID, 0, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
		keys = append(keys, row.ID)
	}
	c.room.Players.Update(keys,
		func(id protocol.PlayerID) *Player {
			return &Player{ID: id, Name: byID[id].Name}
		},
		func(p *Player) { p.applyInfo(byID[p.ID]) },
	)
	c.room.PlayerCount = len(rows)
}

// handleLoad runs the load hook off the loop. Success confirms with the
// loaded action; failure abandons the room.
func (c *Client) handleLoad() {
	room := c.room
	if room == nil {
		return
	}
	fn := c.loadHandler
	go func() {
		var err error
		if fn != nil {
			err = fn(room)
		}
		c.post(call{func() {
			if c.room != room || c.conn == nil {
				return
			}
			if err != nil {
				c.log.Warn("load failed, leaving room", zap.Error(err))
				room.Leave()
				return
			}
			c.send(0, protocol.ClientRoomLoaded, nil)
		}})
	}()
}

// handleTickUpdate accepts a tick only when it differs from the last seen
// tick by 1 or 255 (wraparound). On acceptance it attaches the batch to the
// per-player mirrors, runs the tick callback, immediately confirms with the
// locally queued events, then clears both buffers.
func (c *Client) handleTickUpdate(payload any) {
	room := c.room
	if room == nil || !room.IsStarted {
		return
	}
	update, err := protocol.DecodeTickUpdate(payload)
	if err != nil {
		return
	}

	delta := update.Tick - room.TickCount
	if delta < 0 {
		delta = -delta
	}
	if delta != 1 && delta != 255 {
		return
	}
	room.TickCount = update.Tick

	for _, e := range update.Events {
		if p, ok := room.Players.Get(e.Player); ok {
			p.Events = append(p.Events, e.Data)
		}
	}

	players := room.Players.All()
	room.events.Emit("tick", update.Tick, players)

	outgoing := c.outgoing
	c.outgoing = nil
	c.send(0, protocol.ClientTickConfirm, protocol.TickConfirm{
		Tick:   room.TickCount,
		Events: outgoing,
	}.Tuple())

	for _, p := range players {
		p.clearEvents()
	}
}

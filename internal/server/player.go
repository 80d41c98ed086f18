package server

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lockstep-dev/lockstep/internal/protocol"
	"github.com/lockstep-dev/lockstep/internal/transport"
)

// Player is the authoritative per-connection state after a successful login.
// It translates inbound protocol actions into room and server operations,
// validating each one before any state changes.
type Player struct {
	server *Server
	conn   transport.Conn
	log    *zap.Logger

	id          protocol.PlayerID
	name        string
	gameIdent   string
	gameVersion string

	room        *Room
	isConnected bool
	isLoaded    bool
	// tick is the last confirmed tick, -1 until the first confirmation.
	tick int

	// responseID correlates the reply to the request currently being
	// handled.
	responseID uint32
}

func newPlayer(s *Server, conn transport.Conn, gameIdent, gameVersion, name string) *Player {
	id := s.cfg.NextPlayerID()
	return &Player{
		server:      s,
		conn:        conn,
		log:         s.log.With(zap.Uint32("player", uint32(id)), zap.String("name", name)),
		id:          id,
		name:        name,
		gameIdent:   gameIdent,
		gameVersion: gameVersion,
		isConnected: true,
		tick:        -1,
	}
}

func (p *Player) String() string { return fmt.Sprintf("%s#%d", p.name, p.id) }

func (p *Player) isOwnerOfRoom() bool {
	return p.room != nil && p.room.owner == p
}

func (p *Player) handle(env protocol.Envelope) {
	p.responseID = env.RequestID

	if p.room != nil {
		switch env.Action {
		case protocol.ClientRoomLeave:
			p.leaveRoom()
		case protocol.ClientRoomSetOwner:
			p.roomSetOwner(env.Payload)
		case protocol.ClientRoomSetParam:
			p.roomSetParameter(env.Payload)
		case protocol.ClientRoomSetPassword:
			p.roomSetPassword(env.Payload)
		case protocol.ClientRoomStart:
			p.roomStart(env.Payload)
		case protocol.ClientRoomCancel:
			p.roomCancel()
		case protocol.ClientRoomLoaded:
			p.isLoaded = true
		case protocol.ClientTickConfirm:
			p.confirmTick(env.Payload)
		default:
			p.log.Debug("unknown action in room", zap.Stringer("action", env.Action))
			p.sendError(protocol.CodeUnknownAction)
		}
		return
	}

	switch env.Action {
	case protocol.ClientRoomCreate:
		p.roomCreate(env.Payload)
	case protocol.ClientRoomJoin:
		p.roomJoin(env.Payload)
	default:
		p.log.Debug("unknown action in lobby", zap.Stringer("action", env.Action))
		p.sendError(protocol.CodeUnknownAction)
	}
}

func (p *Player) roomCreate(payload any) {
	req, err := protocol.DecodeCreateRoom(payload)
	switch {
	case err != nil,
		!protocol.ValidRoomName(req.Name),
		!protocol.ValidPlayerCount(req.MinPlayers, p.server.cfg.MinRoomPlayers, p.server.cfg.MaxRoomPlayers),
		!protocol.ValidPlayerCount(req.MaxPlayers, p.server.cfg.MinRoomPlayers, p.server.cfg.MaxRoomPlayers),
		!protocol.ValidTickRate(req.TickRate, p.server.cfg.MinTicksPerSecond, p.server.cfg.MaxTicksPerSecond),
		!protocol.ValidPassword(req.Password):
		p.sendError(protocol.CodeInvalidParameter)
	default:
		room := p.server.createRoom(p.gameIdent, p.gameVersion, req)
		if room == nil {
			p.sendError(protocol.CodeServerMaxRooms)
			return
		}
		p.joinRoom(room)
	}
}

func (p *Player) roomJoin(payload any) {
	req, err := protocol.DecodeJoinRoom(payload)
	if err != nil || !protocol.ValidRoomID(req.RoomID) || !protocol.ValidPassword(req.Password) {
		p.sendError(protocol.CodeInvalidParameter)
		return
	}

	room := p.server.roomByID(req.RoomID)
	switch {
	case room == nil:
		p.sendError(protocol.CodeRoomNotFound)
	case room.isStarted:
		p.sendError(protocol.CodeRoomStarted)
	case room.gameIdent != p.gameIdent:
		p.sendError(protocol.CodeRoomGameIdent)
	case room.gameVersion != p.gameVersion:
		p.sendError(protocol.CodeRoomGameVersion)
	case room.isFull():
		p.sendError(protocol.CodeRoomFull)
	case !room.passwordMatches(req.Password):
		p.sendError(protocol.CodeRoomInvalidPassword)
	default:
		p.joinRoom(room)
	}
}

func (p *Player) joinRoom(room *Room) {
	p.room = room
	p.isLoaded = false
	p.tick = -1
	room.addPlayer(p)
	p.respond(protocol.RespondRoomJoined, nil)
}

func (p *Player) leaveRoom() {
	room := p.room
	// Clear the back-reference first so the room-list rebroadcast reaches
	// this player before the reply below.
	p.room = nil
	room.removePlayer(p)
	p.respond(protocol.RespondRoomLeft, nil)
}

func (p *Player) roomSetOwner(payload any) {
	if !p.isOwnerOfRoom() {
		p.sendError(protocol.CodeRoomNotOwner)
		return
	}
	id, err := protocol.DecodePlayerID(payload)
	if err != nil || !p.room.setOwnerByID(id) {
		p.sendError(protocol.CodeInvalidParameter)
		return
	}
	p.respond(protocol.RespondRoomOwnerSet, nil)
}

func (p *Player) roomSetParameter(payload any) {
	param, err := protocol.DecodeParam(payload)
	switch {
	case err != nil, !protocol.ValidParamKey(param.Key):
		p.sendError(protocol.CodeInvalidParameter)
	case p.room.isStarted:
		p.sendError(protocol.CodeRoomStarted)
	default:
		p.room.setParameter(param.Key, param.Value)
		p.respond(protocol.RespondRoomParamSet, nil)
	}
}

func (p *Player) roomSetPassword(payload any) {
	if !p.isOwnerOfRoom() {
		p.sendError(protocol.CodeRoomNotOwner)
		return
	}
	if p.room.isStarted {
		p.sendError(protocol.CodeRoomStarted)
		return
	}
	password, err := protocol.DecodePassword(payload)
	if err != nil || !protocol.ValidPassword(password) {
		p.sendError(protocol.CodeInvalidParameter)
		return
	}
	p.room.setPassword(password)
	p.respond(protocol.RespondRoomPasswordSet, nil)
}

func (p *Player) roomStart(payload any) {
	switch {
	case !p.isOwnerOfRoom():
		p.sendError(protocol.CodeRoomNotOwner)
	case p.room.isStarted:
		p.sendError(protocol.CodeRoomStarted)
	case !p.room.isReady():
		p.sendError(protocol.CodeRoomNotReady)
	default:
		seconds, err := protocol.DecodeInt(payload)
		if err != nil || !protocol.ValidCountdown(seconds, p.server.cfg.MinCountdown, p.server.cfg.MaxCountdown) {
			p.sendError(protocol.CodeInvalidParameter)
			return
		}
		p.room.start(seconds)
		p.respond(protocol.RespondRoomStart, nil)
	}
}

func (p *Player) roomCancel() {
	switch {
	case !p.isOwnerOfRoom():
		p.sendError(protocol.CodeRoomNotOwner)
	case !p.room.isCountingDown():
		p.sendError(protocol.CodeRoomNotCountingDown)
	default:
		p.room.cancel()
		p.respond(protocol.RespondRoomCancel, nil)
	}
}

// confirmTick applies a tick confirmation: the reported tick must differ
// from the stored one by exactly 1 (normal advance) or 255 (wraparound from
// 255 back to 0). Anything else is rejected without touching state.
func (p *Player) confirmTick(payload any) {
	if p.room == nil || !p.room.isStarted || !p.room.isLoaded {
		return
	}

	confirm, err := protocol.DecodeTickConfirm(payload)
	if err != nil {
		p.sendError(protocol.CodeInvalidParameter)
		return
	}

	delta := confirm.Tick - p.tick
	if delta < 0 {
		delta = -delta
	}
	if !protocol.ValidTickIndex(confirm.Tick) || (delta != 1 && delta != 255) {
		p.sendError(protocol.CodeInvalidParameter)
		return
	}

	p.room.addPlayerEvents(p, confirm.Events)
	p.tick = confirm.Tick
}

func (p *Player) destroy() {
	if p.room != nil {
		room := p.room
		p.room = nil
		room.removePlayer(p)
	}
	_ = p.conn.Close()
	p.isConnected = false
	p.server.removePlayer(p)
	p.log.Debug("destroyed")
}

// send delivers a notification (request id 0).
func (p *Player) send(action protocol.Action, payload any) {
	if !p.isConnected {
		return
	}
	p.server.sendTo(p.conn, 0, action, payload)
}

// respond replies to the request currently being handled.
func (p *Player) respond(action protocol.Action, payload any) {
	p.respondTo(p.responseID, action, payload)
}

func (p *Player) respondTo(rid uint32, action protocol.Action, payload any) {
	if !p.isConnected {
		return
	}
	p.server.sendTo(p.conn, rid, action, payload)
}

func (p *Player) sendError(code protocol.ErrorCode) {
	if !p.isConnected {
		return
	}
	p.server.sendError(p.conn, p.responseID, code)
}

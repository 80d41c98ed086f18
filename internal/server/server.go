// Package server holds the authoritative side of the lockstep session
// protocol: the session registry, the room state machines, and the tick
// engine. All authoritative state is owned by a single run-loop goroutine;
// transport readers and timers communicate with it exclusively through typed
// inbox messages, so none of it needs locking.
package server

import (
	"fmt"
	mrand "math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/lockstep-dev/lockstep/internal/protocol"
	"github.com/lockstep-dev/lockstep/internal/transport"
)

type message interface{ isMessage() }

type connOpened struct{ conn transport.Conn }

type connFrame struct {
	conn transport.Conn
	data []byte
}

type connClosed struct {
	conn   transport.Conn
	remote bool
}

// task carries a timer callback onto the run loop.
type task struct{ fn func() }

// inspect runs fn on the loop and signals done; used by tests to observe
// state without races.
type inspect struct {
	fn   func()
	done chan struct{}
}

type shutdown struct{ done chan struct{} }

func (connOpened) isMessage() {}
func (connFrame) isMessage()  {}
func (connClosed) isMessage() {}
func (task) isMessage()       {}
func (inspect) isMessage()    {}
func (shutdown) isMessage()   {}

// session tracks a connection from accept until login completes or the
// connection dies.
type session struct {
	conn      transport.Conn
	idleTimer *time.Timer
	player    *Player
}

// Server owns the room and player tables and runs the protocol loop.
type Server struct {
	cfg   Config
	log   *zap.Logger
	codec protocol.Codec

	inbox chan message
	// immediate is the zero-delay reschedule queue. Only the run loop
	// touches it; entries run before the next inbox receive, giving the
	// tick engine its high-precision path.
	immediate []func()
	done      chan struct{}

	sessions  map[transport.Conn]*session
	rooms     map[string]*Room
	roomOrder []*Room
	players   map[protocol.PlayerID]*Player
	names     map[string]*Player
	order     []*Player
}

func New(cfg Config, log *zap.Logger, codec protocol.Codec) *Server {
	if cfg.NextPlayerID == nil {
		cfg.NextPlayerID = RandomSeededIDs()
	}
	if cfg.Seed == nil {
		cfg.Seed = DefaultConfig().Seed
	}
	s := &Server{
		cfg:      cfg,
		log:      log.Named("server"),
		codec:    codec,
		inbox:    make(chan message, 1024),
		done:     make(chan struct{}),
		sessions: make(map[transport.Conn]*session),
		rooms:    make(map[string]*Room),
		players:  make(map[protocol.PlayerID]*Player),
		names:    make(map[string]*Player),
	}
	go s.run()
	return s
}

// Attach wires a listener's connections into the run loop.
func (s *Server) Attach(l transport.Listener) {
	l.OnConnection(func(conn transport.Conn) {
		s.post(connOpened{conn: conn})
	})
}

// Close tears down every session and stops the run loop.
func (s *Server) Close() {
	done := make(chan struct{})
	select {
	case s.inbox <- shutdown{done: done}:
		<-done
	case <-s.done:
	}
}

func (s *Server) post(m message) {
	select {
	case s.inbox <- m:
	case <-s.done:
	}
}

// postTask delivers a timer callback to the loop.
func (s *Server) postTask(fn func()) { s.post(task{fn: fn}) }

// schedule enqueues a zero-delay callback. Loop goroutine only.
func (s *Server) schedule(fn func()) { s.immediate = append(s.immediate, fn) }

// do runs fn on the loop and waits for it; test hook.
func (s *Server) do(fn func()) {
	done := make(chan struct{})
	select {
	case s.inbox <- inspect{fn: fn, done: done}:
		<-done
	case <-s.done:
	}
}

func (s *Server) run() {
	for {
		// Zero-delay callbacks run before blocking on the inbox, but
		// inbound traffic that is already queued still wins, mirroring an
		// event loop that services IO before immediates.
		if len(s.immediate) > 0 {
			select {
			case m := <-s.inbox:
				if s.handle(m) {
					return
				}
			default:
				fn := s.immediate[0]
				s.immediate = s.immediate[1:]
				fn()
			}
			continue
		}
		if s.handle(<-s.inbox) {
			return
		}
	}
}

// handle processes one inbox message and reports whether the loop should
// exit.
func (s *Server) handle(m message) bool {
	switch msg := m.(type) {
	case connOpened:
		s.onConnOpened(msg.conn)
	case connFrame:
		s.onConnFrame(msg.conn, msg.data)
	case connClosed:
		s.onConnClosed(msg.conn, msg.remote)
	case task:
		msg.fn()
	case inspect:
		msg.fn()
		close(msg.done)
	case shutdown:
		s.teardown()
		close(s.done)
		close(msg.done)
		return true
	}
	return false
}

// onConnOpened greets the connection and arms the idle-eviction timer; the
// timer is canceled the instant a login succeeds.
func (s *Server) onConnOpened(conn transport.Conn) {
	sess := &session{conn: conn}
	s.sessions[conn] = sess

	conn.Bind(transport.Events{
		Message: func(data []byte) { s.post(connFrame{conn: conn, data: data}) },
		Close:   func(remote bool) { s.post(connClosed{conn: conn, remote: remote}) },
	})

	s.sendTo(conn, 0, protocol.ServerHello, protocol.Hello{
		Protocol:       protocol.Version,
		ServerVersion:  protocol.ServerVersion,
		MinRoomPlayers: s.cfg.MinRoomPlayers,
		MaxRoomPlayers: s.cfg.MaxRoomPlayers,
	}.Tuple())

	sess.idleTimer = time.AfterFunc(s.cfg.MaxConnectionIdleTime, func() {
		s.postTask(func() { s.evictIdle(conn) })
	})
}

func (s *Server) evictIdle(conn transport.Conn) {
	sess, ok := s.sessions[conn]
	if !ok || sess.player != nil {
		return
	}
	s.log.Info("evicting idle connection")
	conn.Reject()
}

func (s *Server) onConnFrame(conn transport.Conn, data []byte) {
	sess, ok := s.sessions[conn]
	if !ok {
		return
	}

	env, err := s.codec.Decode(data)
	if err != nil {
		// No parseable request id means no correlation; drop silently.
		s.log.Debug("dropping malformed message", zap.Error(err))
		return
	}

	if sess.player != nil {
		sess.player.handle(env)
		return
	}
	s.handleLogin(sess, env)
}

func (s *Server) onConnClosed(conn transport.Conn, remote bool) {
	sess, ok := s.sessions[conn]
	if !ok {
		return
	}
	delete(s.sessions, conn)
	if sess.idleTimer != nil {
		sess.idleTimer.Stop()
	}
	if sess.player != nil {
		s.log.Info("player disconnected",
			zap.Stringer("player", sess.player),
			zap.Bool("remote", remote))
		sess.player.destroy()
	}
}

// handleLogin validates a login request in the order the protocol mandates;
// the first failing check short-circuits with its specific error code.
func (s *Server) handleLogin(sess *session, env protocol.Envelope) {
	if env.Action != protocol.ClientLogin {
		s.sendError(sess.conn, env.RequestID, protocol.CodeInvalidParameter)
		return
	}

	login, err := protocol.DecodeLogin(env.Payload)
	switch {
	case err != nil,
		!protocol.ValidVersion(login.Protocol):
		s.sendError(sess.conn, env.RequestID, protocol.CodeInvalidParameter)
	case login.Protocol != protocol.Version:
		s.sendError(sess.conn, env.RequestID, protocol.CodeProtocolMismatch)
	case !protocol.ValidGameIdent(login.GameIdent):
		s.sendError(sess.conn, env.RequestID, protocol.CodeInvalidParameter)
	case !protocol.ValidVersion(login.GameVersion):
		s.sendError(sess.conn, env.RequestID, protocol.CodeInvalidParameter)
	case !protocol.ValidPlayerName(login.PlayerName):
		s.sendError(sess.conn, env.RequestID, protocol.CodeInvalidParameter)
	case len(s.players) >= s.cfg.MaxPlayers:
		s.sendError(sess.conn, env.RequestID, protocol.CodeServerFull)
	case s.names[login.PlayerName] != nil:
		s.sendError(sess.conn, env.RequestID, protocol.CodeNameInUse)
	default:
		sess.idleTimer.Stop()
		sess.conn.Accept()

		player := newPlayer(s, sess.conn, login.GameIdent, login.GameVersion, login.PlayerName)
		sess.player = player
		s.players[player.id] = player
		s.names[player.name] = player
		s.order = append(s.order, player)

		player.respondTo(env.RequestID, protocol.RespondLogin,
			protocol.PlayerInfo{ID: player.id, Name: player.name}.Tuple())
		s.sendRoomList(player)

		s.log.Info("player logged in",
			zap.Stringer("player", player),
			zap.String("game", login.GameIdent))
	}
}

func (s *Server) removePlayer(p *Player) {
	delete(s.players, p.id)
	delete(s.names, p.name)
	for i, other := range s.order {
		if other == p {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

// createRoom allocates a room with a collision-retried generated id, or
// returns nil when the room table is full.
func (s *Server) createRoom(gameIdent, gameVersion string, req protocol.CreateRoom) *Room {
	if len(s.rooms) >= s.cfg.MaxRooms {
		return nil
	}

	id := generateRoomID()
	for s.rooms[id] != nil {
		id = generateRoomID()
	}

	room := newRoom(s, id, gameIdent, gameVersion, req)
	s.rooms[id] = room
	s.roomOrder = append(s.roomOrder, room)
	s.broadcastRoomList()
	return room
}

func (s *Server) removeRoom(r *Room) {
	delete(s.rooms, r.id)
	for i, other := range s.roomOrder {
		if other == r {
			s.roomOrder = append(s.roomOrder[:i:i], s.roomOrder[i+1:]...)
			break
		}
	}
	s.broadcastRoomList()
}

func (s *Server) roomByID(id string) *Room { return s.rooms[id] }

func (s *Server) roomRows() []any {
	rows := make([]any, 0, len(s.roomOrder))
	for _, room := range s.roomOrder {
		rows = append(rows, room.info().Tuple())
	}
	return rows
}

// broadcastRoomList refreshes the room list for every player currently in
// the lobby (not in any room).
func (s *Server) broadcastRoomList() {
	for _, player := range s.order {
		if player.room == nil {
			s.sendRoomList(player)
		}
	}
}

func (s *Server) sendRoomList(p *Player) {
	p.send(protocol.ServerRoomList, s.roomRows())
}

func (s *Server) teardown() {
	s.log.Info("closing")

	// Destroying every player cascades room teardown once rooms empty out.
	players := make([]*Player, len(s.order))
	copy(players, s.order)
	for _, p := range players {
		p.destroy()
	}

	for conn, sess := range s.sessions {
		if sess.idleTimer != nil {
			sess.idleTimer.Stop()
		}
		_ = conn.Close()
	}
	s.sessions = make(map[transport.Conn]*session)
}

func (s *Server) sendTo(conn transport.Conn, rid uint32, action protocol.Action, payload any) {
	data, err := s.codec.Encode(protocol.Envelope{RequestID: rid, Action: action, Payload: payload})
	if err != nil {
		s.log.Error("encode failed", zap.Stringer("action", action), zap.Error(err))
		return
	}
	if err := conn.Send(data); err != nil {
		s.log.Debug("send failed", zap.Stringer("action", action), zap.Error(err))
	}
}

func (s *Server) sendError(conn transport.Conn, rid uint32, code protocol.ErrorCode) {
	s.sendTo(conn, rid, protocol.ActionError, uint32(code))
}

// generateRoomID produces ids of the form 12-3456-7890-1234.
func generateRoomID() string {
	digits := func(n int) string {
		out := make([]byte, n)
		for i := range out {
			out[i] = byte('0' + mrand.IntN(10))
		}
		return string(out)
	}
	return fmt.Sprintf("%s-%s-%s-%s", digits(2), digits(4), digits(4), digits(4))
}

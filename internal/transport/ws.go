package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const wsWriteTimeout = 3 * time.Second

// wsConn adapts a coder/websocket connection to the Conn contract. A single
// reader goroutine delivers messages; writes are serialized by a mutex and
// bounded by a deadline context.
type wsConn struct {
	id      string
	ws      *websocket.Conn
	log     *zap.Logger
	msgType websocket.MessageType

	writeMu sync.Mutex

	bound  chan struct{}
	events Events

	localClose atomic.Bool
}

func newWSConn(ws *websocket.Conn, binary bool, log *zap.Logger) *wsConn {
	msgType := websocket.MessageText
	if binary {
		msgType = websocket.MessageBinary
	}
	id := uuid.NewString()
	return &wsConn{
		id:      id,
		ws:      ws,
		log:     log.With(zap.String("conn", id)),
		msgType: msgType,
		bound:   make(chan struct{}),
	}
}

func (c *wsConn) Bind(ev Events) {
	c.events = ev
	close(c.bound)
}

func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return c.ws.Write(ctx, c.msgType, data)
}

func (c *wsConn) Accept() {}

func (c *wsConn) Reject() {
	c.localClose.Store(true)
	_ = c.ws.Close(websocket.StatusPolicyViolation, "rejected")
}

func (c *wsConn) Close() error {
	c.localClose.Store(true)
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}

// readLoop pumps inbound messages until the connection dies, then reports the
// close direction. It waits for Bind so no message can outrun the handler
// registration.
func (c *wsConn) readLoop() {
	<-c.bound
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			remote := !c.localClose.Load()
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && remote {
				c.log.Debug("connection read ended", zap.Error(err))
			}
			c.events.Close(remote)
			return
		}
		c.events.Message(data)
	}
}

// WSListener accepts websocket connections on /ws and serves a /healthz
// probe, mirroring the mux layout of the draft backend this server grew out
// of.
type WSListener struct {
	log    *zap.Logger
	binary bool
	onConn func(Conn)

	srv      *http.Server
	listener net.Listener
}

func NewWSListener(log *zap.Logger, binary bool) *WSListener {
	return &WSListener{log: log.Named("ws"), binary: binary}
}

func (l *WSListener) OnConnection(fn func(Conn)) { l.onConn = fn }

func (l *WSListener) Listen(addr string) error {
	if l.onConn == nil {
		return errors.New("transport: OnConnection not set")
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws", l.handleWS)

	netListener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	l.listener = netListener
	l.srv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := l.srv.Serve(netListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("serve stopped", zap.Error(err))
		}
	}()

	l.log.Info("listening", zap.String("addr", netListener.Addr().String()))
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *WSListener) Addr() string {
	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

func (l *WSListener) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	conn := newWSConn(ws, l.binary, l.log)
	l.onConn(conn)
	conn.readLoop()
}

func (l *WSListener) Close() error {
	if l.srv == nil {
		return nil
	}
	return l.srv.Close()
}

// WSDialer opens client-side websocket connections.
type WSDialer struct {
	log    *zap.Logger
	binary bool
}

func NewWSDialer(log *zap.Logger, binary bool) *WSDialer {
	return &WSDialer{log: log.Named("ws"), binary: binary}
}

// Dial connects to url (ws://host:port/ws). The caller must Bind the
// returned Conn before traffic flows.
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn := newWSConn(ws, d.binary, d.log)
	go conn.readLoop()
	return conn, nil
}

package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrLoopbackClosed = errors.New("transport: loopback connection closed")

const loopbackBuffer = 256

// loopEnd is one endpoint of an in-process connection pair. Messages travel
// through the peer's buffered inbox channel, preserving send order; a pump
// goroutine per endpoint delivers them to the bound Events.
type loopEnd struct {
	peer *loopEnd

	inbox  chan []byte
	closed chan struct{}

	bound  chan struct{}
	events Events

	down           atomic.Bool
	closedByRemote bool
}

// NewLoopbackPair returns two connected endpoints. Closing either side
// surfaces remote=true on the other and remote=false locally. Queued
// in-flight messages are delivered before the close event.
func NewLoopbackPair() (Conn, Conn) {
	a := &loopEnd{
		inbox:  make(chan []byte, loopbackBuffer),
		closed: make(chan struct{}),
		bound:  make(chan struct{}),
	}
	b := &loopEnd{
		inbox:  make(chan []byte, loopbackBuffer),
		closed: make(chan struct{}),
		bound:  make(chan struct{}),
	}
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

func (e *loopEnd) Bind(ev Events) {
	e.events = ev
	close(e.bound)
}

func (e *loopEnd) Send(data []byte) error {
	// Copy so the caller may reuse its buffer.
	msg := make([]byte, len(data))
	copy(msg, data)

	// Check the closed channels first: in a single select the enqueue case
	// could win the random pick even after a close.
	select {
	case <-e.closed:
		return ErrLoopbackClosed
	case <-e.peer.closed:
		return ErrLoopbackClosed
	default:
	}
	select {
	case <-e.closed:
		return ErrLoopbackClosed
	case <-e.peer.closed:
		return ErrLoopbackClosed
	case e.peer.inbox <- msg:
		return nil
	}
}

func (e *loopEnd) Accept() {}

func (e *loopEnd) Reject() { e.teardown(false) }

func (e *loopEnd) Close() error {
	e.teardown(false)
	return nil
}

// teardown closes this end and then notifies the peer. The CAS makes the
// peer's reciprocal call a no-op rather than a reentrant lock on this end.
func (e *loopEnd) teardown(byRemote bool) {
	if !e.down.CompareAndSwap(false, true) {
		return
	}
	e.closedByRemote = byRemote
	close(e.closed)
	e.peer.teardown(true)
}

func (e *loopEnd) pump() {
	<-e.bound
	for {
		select {
		case data := <-e.inbox:
			e.events.Message(data)
		case <-e.closed:
			// Drain messages that were queued before the close.
			for {
				select {
				case data := <-e.inbox:
					e.events.Message(data)
				default:
					e.events.Close(e.closedByRemote)
					return
				}
			}
		}
	}
}

// Loopback is an in-process Listener/Dialer pair: every Dial hands the server
// half to the registered connection sink and returns the client half. It lets
// a client and server talk through real transport machinery without a socket.
type Loopback struct {
	mu     sync.Mutex
	onConn func(Conn)
}

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) OnConnection(fn func(Conn)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConn = fn
}

func (l *Loopback) Listen(addr string) error { return nil }

func (l *Loopback) Close() error { return nil }

func (l *Loopback) Dial(ctx context.Context, addr string) (Conn, error) {
	l.mu.Lock()
	sink := l.onConn
	l.mu.Unlock()
	if sink == nil {
		return nil, errors.New("transport: loopback has no connection sink")
	}
	client, server := NewLoopbackPair()
	sink(server)
	return client, nil
}

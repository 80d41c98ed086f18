// Package transport defines the duplex message channel the protocol runs
// over, plus a WebSocket implementation and an in-process loopback pair.
// Implementations deliver whole messages in send order.
package transport

// Events receives a connection's inbound traffic. Both callbacks run on the
// connection's reader goroutine: Message once per inbound message in arrival
// order, then Close exactly once, with remote reporting whether the peer
// (rather than the local side) initiated the teardown.
type Events struct {
	Message func(data []byte)
	Close   func(remote bool)
}

// Conn is one end of an established duplex channel. Bind must be called
// exactly once before any traffic is delivered; implementations hold inbound
// messages until then.
type Conn interface {
	Bind(ev Events)
	Send(data []byte) error
	// Accept confirms a server-side connection after handshake validation.
	Accept()
	// Reject hard-closes a server-side connection that never completed the
	// handshake. The peer observes a remote-initiated close.
	Reject()
	Close() error
}

// Listener produces server-side connections.
type Listener interface {
	// OnConnection registers the sink for inbound connections. Must be set
	// before Listen.
	OnConnection(fn func(Conn))
	Listen(addr string) error
	Close() error
}

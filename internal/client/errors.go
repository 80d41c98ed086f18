package client

import (
	"fmt"

	"github.com/lockstep-dev/lockstep/internal/protocol"
)

// ProtocolError is a request rejection from the server, carrying the
// protocol error code.
type ProtocolError struct {
	Code protocol.ErrorCode
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("client: request rejected: %s", e.Code)
}

// ClosedError settles every pending future when the connection goes away.
// Remote distinguishes a server-side or network close from a local Close.
type ClosedError struct {
	Remote bool
}

func (e *ClosedError) Error() string {
	if e.Remote {
		return "client: connection closed by server"
	}
	return "client: connection closed"
}

package relay

import (
	"context"

	"github.com/Tyrowin/roomrelay/internal/chat"
)

// Conn is one client's duplex message channel as seen by the hub. Transports
// (gRPC streams, WebSocket connections) adapt to it.
//
// Recv blocks until the next inbound event; io.EOF means the client closed
// its side cleanly. Send is only called from the session's outbound loop.
// Context is done once the underlying connection is gone and is polled as
// the liveness signal.
type Conn interface {
	Recv(ctx context.Context) (chat.Message, error)
	Send(msg chat.Message) error
	Context() context.Context
}

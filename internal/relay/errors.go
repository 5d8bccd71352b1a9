package relay

import "errors"

var (
	// ErrHandshake means the connection ended or misbehaved before its first
	// event could establish a session. Nothing was registered.
	ErrHandshake = errors.New("relay: invalid session handshake")
	// ErrDuplicateUser means another live session already uses the user id.
	ErrDuplicateUser = errors.New("relay: user already connected")
	// ErrReservedUser means the client claimed the server's own identity.
	ErrReservedUser = errors.New("relay: user id is reserved")
	// ErrHubClosed is returned once the hub has shut down.
	ErrHubClosed = errors.New("relay: hub closed")
	// ErrSessionPanic wraps a recovered panic from one session's handling.
	ErrSessionPanic = errors.New("relay: session panicked")
	// ErrQueueClosed is returned by Put after Close and by Get at the sentinel.
	ErrQueueClosed = errors.New("relay: delivery queue closed")
	// ErrQueueEmpty is returned by Get when its wait elapses.
	ErrQueueEmpty = errors.New("relay: delivery queue empty")
)

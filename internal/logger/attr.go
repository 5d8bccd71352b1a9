package logger

import (
	"log/slog"
	"runtime"
)

// Helpers return an empty Attr for zero values; slog drops empty attrs, so
// callers can pass them unconditionally.

// Error records err under "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the emitting subsystem.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// UserID records a client identifier.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// Username records a display name.
func Username(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("username", name)
}

// RoomID records a room identifier.
func RoomID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("room_id", id)
}

// Addr records a network address.
func Addr(addr string) slog.Attr {
	if addr == "" {
		return slog.Attr{}
	}
	return slog.String("addr", addr)
}

// Transport records which transport carried a session.
func Transport(name string) slog.Attr {
	return slog.String("transport", name)
}

// Count records a named counter.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Stack captures the current goroutine's stack.
func Stack() slog.Attr {
	buf := make([]byte, 64<<10)
	buf = buf[:runtime.Stack(buf, false)]
	return slog.String("stack", string(buf))
}

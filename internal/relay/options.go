package relay

import (
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/logger"
)

const (
	// DefaultHistorySize is the number of messages replayed to new joiners.
	DefaultHistorySize = 50
	// DefaultPollInterval bounds how long an outbound loop waits on an empty
	// queue before rechecking the connection.
	DefaultPollInterval = time.Second
)

// Option configures a Hub.
type Option func(*Hub)

// WithDefaultRoom sets the room used when a handshake names none.
func WithDefaultRoom(room string) Option {
	return func(h *Hub) {
		if room = strings.TrimSpace(room); room != "" {
			h.defaultRoom = room
		}
	}
}

// WithHistorySize sets per-room history capacity.
func WithHistorySize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.historySize = n
		}
	}
}

// WithPollInterval sets the outbound queue wait.
func WithPollInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.logger = log.With(logger.Component("relay"))
		}
	}
}

func defaultHub() *Hub {
	return &Hub{
		defaultRoom:  chat.DefaultRoom,
		historySize:  DefaultHistorySize,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		logger:       slog.Default().With(logger.Component("relay")),
	}
}

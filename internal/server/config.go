package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// EnvPrefix is prepended to every configuration variable.
const EnvPrefix = "RELAY_"

const (
	defaultGRPCAddr        = ":50051"
	defaultHTTPAddr        = ":8080"
	defaultMaxMessageSize  = 4096
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the relay server settings.
type Config struct {
	GRPCAddr        string          `env:"GRPC_ADDR" envDefault:":50051"`
	HTTPAddr        string          `env:"HTTP_ADDR" envDefault:":8080"`
	DefaultRoom     string          `env:"DEFAULT_ROOM" envDefault:"general"`
	HistorySize     int             `env:"HISTORY_SIZE" envDefault:"50"`
	PollInterval    time.Duration   `env:"POLL_INTERVAL" envDefault:"1s"`
	ShutdownTimeout time.Duration   `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	AllowedOrigins  []string        `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:8080" envSeparator:","`
	MaxMessageSize  int64           `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	RateLimit       RateLimitConfig
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string `env:"LOG_FORMAT" envDefault:"text"`
}

// NewConfig returns a Config populated with default values, ignoring the
// process environment.
func NewConfig() *Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	}); err != nil {
		// Defaults are static; failing to parse them is a programming error.
		panic(fmt.Sprintf("server: invalid default config: %v", err))
	}
	return &cfg
}

// NewConfigFromEnv reads RELAY_* variables, falling back to defaults for
// anything unset. Malformed values are reported as errors.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	sanitized := cfg.Sanitize()
	return &sanitized, nil
}

// Sanitize returns a copy of cfg with non-positive or empty values replaced by
// their defaults.
func (cfg Config) Sanitize() Config {
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = defaultGRPCAddr
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = chat.DefaultRoom
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = relay.DefaultHistorySize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = relay.DefaultPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// HubOptions translates the relay settings into hub options.
func (cfg Config) HubOptions() []relay.Option {
	return []relay.Option{
		relay.WithDefaultRoom(cfg.DefaultRoom),
		relay.WithHistorySize(cfg.HistorySize),
		relay.WithPollInterval(cfg.PollInterval),
	}
}

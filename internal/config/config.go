// Package config handles loading and validating runtime configuration for the Company Chat server.
// Configuration values (like the database URL and chat tuning knobs) are read from environment
// variables rather than being hardcoded, so the same binary can run in dev, staging, and
// production without changing any code — just swap the environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	// go-env decodes environment variables into a struct using `env:"..."` tags,
	// including defaults and time.Duration parsing.
	env "github.com/Netflix/go-env"
	// godotenv reads a .env file and loads its key=value pairs into the process environment.
	// In production, real env vars are used instead.
	"github.com/joho/godotenv"
)

// Roster sources for the "user_list" event sent to a newly admitted connection.
const (
	RosterLive      = "live"      // names of the connections currently in the group
	RosterDirectory = "directory" // every user of the company, online or not
)

// Config holds all runtime configuration values for the application.
type Config struct {
	Port           string `env:"PORT,default=8080"`                         // TCP port the HTTP server listens on
	Env            string `env:"ENV,default=development"`                   // "development", "staging", or "production"
	DatabaseURL    string `env:"DATABASE_URL"`                              // PostgreSQL connection string
	MigrationsPath string `env:"MIGRATIONS_PATH,default=file://migrations"` // Source URL for golang-migrate
	JWTSecret      string `env:"JWT_SECRET"`                                // HMAC key used to verify bearer tokens
	LogLevel       string `env:"LOG_LEVEL,default=info"`                    // zap level: debug, info, warn, error
	CORSOrigins    string `env:"CORS_ORIGINS,default=*"`                    // Comma separated list for the cors middleware

	Chat Chat

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Chat groups the settings of the websocket fan-out engine.
type Chat struct {
	SendTimeout     time.Duration `env:"CHAT_SEND_TIMEOUT,default=5s"` // Per-member delivery bound; a timeout evicts the member
	SendBuffer      int           `env:"CHAT_SEND_BUFFER,default=256"` // Outbound frames queued per connection
	MaxMessageBytes int64         `env:"CHAT_MAX_MESSAGE_BYTES,default=4096"`
	RateLimit       float64       `env:"CHAT_RATE_LIMIT,default=5"` // Inbound messages per second per connection
	RateBurst       int           `env:"CHAT_RATE_BURST,default=10"`
	FanoutWorkers   int           `env:"CHAT_FANOUT_WORKERS,default=16"` // Concurrent deliveries per broadcast
	RosterSource    string        `env:"CHAT_ROSTER_SOURCE,default=live"`
	PingInterval    time.Duration `env:"CHAT_PING_INTERVAL,default=54s"`
	PongWait        time.Duration `env:"CHAT_PONG_WAIT,default=60s"`
}

// Load reads configuration from environment variables and returns a populated Config.
// It first tries to load a .env file for local development; a missing file is fine.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first setting that would prevent the server from starting.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return c.Chat.Validate()
}

// Validate checks the chat tuning values.
func (c Chat) Validate() error {
	if c.SendTimeout <= 0 || c.PingInterval <= 0 || c.PongWait <= 0 {
		return errors.New("chat timeouts must be positive")
	}
	if c.PingInterval >= c.PongWait {
		return fmt.Errorf("CHAT_PING_INTERVAL (%s) must be shorter than CHAT_PONG_WAIT (%s)", c.PingInterval, c.PongWait)
	}
	if c.SendBuffer <= 0 || c.FanoutWorkers <= 0 || c.MaxMessageBytes <= 0 {
		return errors.New("chat buffer, worker and message sizes must be positive")
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return errors.New("chat rate limit and burst must be positive")
	}
	switch c.RosterSource {
	case RosterLive, RosterDirectory:
		return nil
	default:
		return fmt.Errorf("unknown CHAT_ROSTER_SOURCE %q", c.RosterSource)
	}
}

// AllowedOrigins splits CORSOrigins, dropping blanks.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

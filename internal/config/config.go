// Package config loads runtime configuration from environment variables.
// Every external collaborator (Redis block store, Postgres accounts database,
// NATS moderator) is optional: an empty address means the corresponding
// in-process fallback is used.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds the full server configuration.
type App struct {
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":8080"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"256"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"100000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`

	Matchmaking Matchmaking
	Redis       Redis
	Postgres    Postgres
	NATS        NATS
}

// Matchmaking holds pairing-lifecycle tunables.
type Matchmaking struct {
	// RequeueDelay is the WebRTC teardown grace between a skip and the
	// re-enqueue of the affected sessions.
	RequeueDelay time.Duration `env:"REQUEUE_DELAY" envDefault:"200ms"`
}

// Redis locates the block-list store. Empty Addr disables block filtering.
type Redis struct {
	Addr string `env:"REDIS_ADDR"`
}

// Postgres locates the accounts database used for token authentication.
// Empty DSN leaves all sessions anonymous.
type Postgres struct {
	DSN string `env:"POSTGRES_DSN"`
}

// NATS locates the message broker and the remote moderator service riding on
// it. Empty URL falls back to the in-process content filter.
type NATS struct {
	URL               string        `env:"NATS_URL"`
	ModerationTimeout time.Duration `env:"MODERATION_TIMEOUT" envDefault:"2s"`
}

// Load parses environment variables into the App config.
func Load() (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no snapshot exists for the name.
var ErrNotFound = errors.New("store: snapshot not found")

// Record is the persisted engine snapshot: one row per supervisor name,
// overwritten on every observable transition. Snapshot is the JSON-encoded
// engine state.
type Record struct {
	Name      string
	Snapshot  []byte
	UpdatedAt time.Time
}

// Store persists and reloads the engine state snapshot.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, name string) (Record, error)
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Type string `toml:"type" json:"type" mapstructure:"type"` // "sqlite" (default) or "postgres"

	// SQLite specific. Empty path means in-memory.
	Path string `toml:"path,omitempty" json:"path,omitempty" mapstructure:"path"`

	// PostgreSQL specific.
	DSN string `toml:"dsn,omitempty" json:"dsn,omitempty" mapstructure:"dsn"`

	// Connection pooling.
	MaxOpenConns int           `toml:"max_open_conns,omitempty" json:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
	MaxIdleConns int           `toml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty" mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `toml:"conn_max_age,omitempty" json:"conn_max_age,omitempty" mapstructure:"conn_max_age"`
}

package store

import (
	"context"
	"fmt"
	"strings"
)

// New builds a Store from config and ensures its schema. The default backend
// is sqlite.
func New(config Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(config.Type) {
	case "", "sqlite":
		s, err = NewSQLiteStore(config)
	case "postgres", "postgresql":
		s, err = NewPostgresStore(config)
	default:
		return nil, fmt.Errorf("store: unsupported type %q", config.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return s, nil
}

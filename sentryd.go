// Package sentryd supervises a single workload: it keeps one long-running
// service alive, rebuilds and restarts it when its source tree changes or it
// crashes, and persists its health as a durable state record.
package sentryd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sentryd/internal/config"
	"github.com/loykin/sentryd/internal/engine"
	"github.com/loykin/sentryd/internal/metrics"
	"github.com/loykin/sentryd/internal/server"
	"github.com/loykin/sentryd/internal/state"
	"github.com/loykin/sentryd/internal/store"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.FileConfig

type EngineConfig = engine.Config

type Engine = engine.Engine

type State = state.State

type Phase = state.Phase

// Exit codes returned by Run.
const (
	ExitOK            = engine.ExitOK
	ExitFailure       = engine.ExitFailure
	ExitIndeterminate = engine.ExitIndeterminate
)

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// Run builds the store, engine, and optional status server from the config
// file at path and supervises until shutdown. It returns the process exit
// code. SIGHUP re-reads the config file at the same path.
func Run(ctx context.Context, path string) (int, error) {
	fc, err := cfg.Load(path)
	if err != nil {
		return ExitFailure, err
	}
	ecfg, err := fc.Engine()
	if err != nil {
		return ExitFailure, err
	}

	st, err := store.New(fc.Store)
	if err != nil {
		return ExitFailure, fmt.Errorf("sentryd: open state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return ExitFailure, fmt.Errorf("sentryd: register metrics: %w", err)
	}

	eng := engine.New(ecfg, st)
	eng.SetReloadConfig(func() (engine.Config, error) {
		nfc, err := cfg.Load(path)
		if err != nil {
			return engine.Config{}, err
		}
		return nfc.Engine()
	})

	if fc.Server.Enabled {
		srv := server.NewServer(fc.Server.Listen, fc.Server.BasePath, fc.App.Name, st)
		defer func() { _ = srv.Close() }()
		slog.Info("status server listening", "addr", fc.Server.Listen)
	}

	return eng.Run(ctx), nil
}

// Package engine is the supervision core: it threads filesystem change
// events, health ticks, and operator signals into one lifecycle for a single
// supervised workload. The main loop is the sole owner of the workload handle
// and of the engine state; background tasks only feed it via channels.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/loykin/sentryd/internal/child"
	"github.com/loykin/sentryd/internal/state"
	"github.com/loykin/sentryd/internal/store"
	"github.com/loykin/sentryd/internal/watcher"
)

// Exit codes. ExitIndeterminate signals an outer process manager that the
// workload may still be alive and a forced kill could be required.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitIndeterminate = 100
)

// Defaults applied by New when the config leaves them zero.
const (
	DefaultInterval      = 5 * time.Second
	DefaultStopTimeout   = 3 * time.Second
	DefaultChangesNeeded = 3
)

// Config parameterizes one engine run.
type Config struct {
	Name           string        // supervisor name; keys the persisted snapshot
	WatchPath      string        // source tree watched for changes
	IgnorePaths    []string      // resolved absolute subtrees excluded from watching
	ChangesNeeded  int           // filtered change events required to trigger a rebuild
	Interval       time.Duration // health tick cadence
	StopTimeout    time.Duration // bounded workload termination window
	MaxRAMMB       float64       // memory ceiling; 0 disables the check
	ErrorLogCap    int           // bounded error ring size
	InstallCommand string        // optional; failure tolerated
	BuildCommand   string        // optional; failure fatal
	Child          child.Spec    // run command, workdir, env, pid file, output log
}

// Process is the engine's view of a spawned workload. *child.Child satisfies
// it; tests substitute fakes.
type Process interface {
	PID() int
	Running() bool
	DrainStdout() []state.OutputLine
	DrainStderr() []state.OutputLine
	Metrics() (child.Metrics, error)
	Stop(wait time.Duration) error
	RemovePIDFile()
}

// Engine is the lifecycle state machine. All mutation happens on the
// goroutine running Run; the two request flags are the only cross-goroutine
// inputs and are observed once per loop iteration, then cleared.
type Engine struct {
	cfg   Config
	st    *state.State
	store store.Store

	workload    Process
	changeCount int

	reload atomic.Bool
	quit   atomic.Bool

	// Seams: replaced by tests, and by SetReloadConfig for SIGHUP.
	spawn        func(child.Spec) (Process, error)
	runStep      func(ctx context.Context, command string) error
	events       <-chan watcher.Event
	reloadConfig func() (Config, error)
}

// New builds an engine over the given store. The store must have its schema
// ensured already (see store.New).
func New(cfg Config, st store.Store) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ChangesNeeded <= 0 {
		cfg.ChangesNeeded = DefaultChangesNeeded
	}
	if cfg.ErrorLogCap <= 0 {
		cfg.ErrorLogCap = state.DefaultErrorCap
	}
	e := &Engine{cfg: cfg, store: st}
	e.spawn = func(spec child.Spec) (Process, error) { return child.Spawn(spec) }
	e.runStep = func(ctx context.Context, command string) error {
		return child.RunStep(ctx, command, e.cfg.Child.WorkDir, e.cfg.Child.Env)
	}
	return e
}

// SetReloadConfig installs the function invoked on reload to re-read
// configuration from its source.
func (e *Engine) SetReloadConfig(f func() (Config, error)) { e.reloadConfig = f }

// SetEvents injects a pre-built change stream instead of letting Run create
// its own watcher.
func (e *Engine) SetEvents(ev <-chan watcher.Event) { e.events = ev }

// RequestReload flags a configuration reload. Idempotent; acted on by the
// main loop after the in-flight iteration completes.
func (e *Engine) RequestReload() { e.reload.Store(true) }

// RequestShutdown flags a graceful shutdown. Idempotent.
func (e *Engine) RequestShutdown() { e.quit.Store(true) }

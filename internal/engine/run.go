package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/sentryd/internal/metrics"
	"github.com/loykin/sentryd/internal/state"
	"github.com/loykin/sentryd/internal/store"
	"github.com/loykin/sentryd/internal/watcher"
)

// Run drives the engine until shutdown and returns the process exit code.
// The sequence is: load or create state, install/build/spawn the workload,
// start watching the source tree, then loop over change events and health
// ticks. Reload and shutdown flags are checked after every handled trigger,
// reload first.
func (e *Engine) Run(ctx context.Context) int {
	e.initState(ctx)

	stopSignals := e.notifySignals()
	defer stopSignals()

	slog.Info("supervisor started", "name", e.cfg.Name, "watch", e.cfg.WatchPath)

	if code, fatal := e.buildAndSpawn(ctx, true); fatal {
		return code
	}

	if e.events == nil {
		w, err := watcher.New(e.cfg.WatchPath, e.cfg.IgnorePaths)
		if err != nil {
			slog.Error("failed to start directory watch", "error", err)
			e.st.AppendError(state.ErrGeneral, err.Error())
			metrics.IncError(string(state.ErrGeneral))
			// The workload spawned above must not outlive a fatal init.
			if serr := e.stopWorkload(); serr != nil {
				slog.Error("failed to terminate workload during wind-down", "error", serr)
			}
			metrics.SetChildUp(false)
			e.windDown(ctx)
			return ExitFailure
		}
		defer func() { _ = w.Close() }()
		e.events = w.Events()
	}

	e.setPhase(ctx, state.PhaseRunning, "nominal")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				slog.Error("change stream closed, shutting down")
				e.quit.Store(true)
				break
			}
			if code, fatal := e.onChange(ctx, ev); fatal {
				return code
			}
		case <-ticker.C:
			if code, fatal := e.healthTick(ctx); fatal {
				return code
			}
		case <-ctx.Done():
			e.quit.Store(true)
		}

		// Flags set by signal listeners are observed here, once per
		// iteration, and cleared only after being fully processed.
		// Reload outranks a pending shutdown check: it implies a full
		// configuration refresh before any further spawn decision.
		if e.reload.Load() {
			if code, fatal := e.doReload(ctx); fatal {
				return code
			}
			e.reload.Store(false)
			metrics.IncReload()
		}
		if e.quit.Load() {
			return e.shutdown(ctx)
		}
	}
}

// initState loads the previous snapshot from the store when present,
// otherwise starts fresh. A revived snapshot keeps its event counter but is
// otherwise reset for the new run.
func (e *Engine) initState(ctx context.Context) {
	rec, err := e.store.Load(ctx, e.cfg.Name)
	if err == nil {
		var snap state.State
		if jerr := json.Unmarshal(rec.Snapshot, &snap); jerr == nil {
			slog.Info("loaded previous state", "phase", snap.Phase, "events", snap.EventCounter)
			e.st = state.FromSnapshot(snap, e.cfg.ErrorLogCap)
		} else {
			slog.Warn("previous state unreadable, starting fresh", "error", jerr)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("failed to load previous state", "error", err)
	}
	if e.st == nil {
		e.st = state.New(e.cfg.Name, e.cfg.ErrorLogCap)
	}
	e.st.Name = e.cfg.Name
	e.persist(ctx)
}

// onChange handles one filtered change event: bump the aggregation counter
// and, at the threshold, tear down and rebuild the workload. The counter is
// reset exactly once per triggered rebuild.
func (e *Engine) onChange(ctx context.Context, ev watcher.Event) (int, bool) {
	e.changeCount++
	metrics.IncChangeEvent()
	slog.Info("change detected", "count", e.changeCount, "needed", e.cfg.ChangesNeeded, "paths", ev.Paths)
	if e.changeCount < e.cfg.ChangesNeeded {
		return 0, false
	}

	slog.Info("change threshold reached, rebuilding workload")
	e.changeCount = 0
	metrics.IncRebuild()

	if err := e.stopWorkload(); err != nil {
		slog.Error("failed to terminate workload for rebuild", "error", err)
		e.st.AppendError(state.ErrGeneral, "rebuild teardown failed: "+err.Error())
		metrics.IncError(string(state.ErrGeneral))
		e.persist(ctx)
		// The old instance may still be dying; the next health tick will
		// respawn once it is observed down.
		return 0, false
	}
	if code, fatal := e.buildAndSpawn(ctx, true); fatal {
		return code, true
	}
	e.setPhase(ctx, state.PhaseRunning, "nominal")
	return 0, false
}

// buildAndSpawn runs the rebuild protocol: optional install (failure
// tolerated), optional build (failure fatal), then spawn (failure fatal).
// The new workload replaces e.workload only after all steps complete.
func (e *Engine) buildAndSpawn(ctx context.Context, withInstall bool) (int, bool) {
	e.setPhase(ctx, state.PhaseBuilding, "building")

	if withInstall && e.cfg.InstallCommand != "" {
		slog.Debug("running install step", "command", e.cfg.InstallCommand)
		if err := e.runStep(ctx, e.cfg.InstallCommand); err != nil {
			slog.Error("install step failed, continuing", "error", err)
			e.st.AppendError(state.ErrGeneral, "install step failed: "+err.Error())
			metrics.IncError(string(state.ErrGeneral))
		}
	}
	if e.cfg.BuildCommand != "" {
		slog.Debug("running build step", "command", e.cfg.BuildCommand)
		if err := e.runStep(ctx, e.cfg.BuildCommand); err != nil {
			slog.Error("build step failed", "error", err)
			e.st.AppendError(state.ErrBuildFailed, err.Error())
			metrics.IncError(string(state.ErrBuildFailed))
			e.windDown(ctx)
			return ExitFailure, true
		}
	}

	w, err := e.spawn(e.cfg.Child)
	if err != nil {
		slog.Error("failed to spawn workload", "error", err)
		e.st.AppendError(state.ErrInputOutput, "spawn failed: "+err.Error())
		metrics.IncError(string(state.ErrInputOutput))
		e.windDown(ctx)
		return ExitIndeterminate, true
	}
	e.workload = w
	e.st.ChildPID = w.PID()
	metrics.SetChildUp(true)
	slog.Info("workload spawned", "pid", w.PID())
	return 0, false
}

// healthTick drains captured output, respawns a crashed workload, enforces
// the memory ceiling, trims the error ring, and persists the snapshot.
func (e *Engine) healthTick(ctx context.Context) (int, bool) {
	if e.workload == nil {
		return 0, false
	}

	if added := e.st.MergeStdout(e.workload.DrainStdout()); added > 0 {
		slog.Debug("captured workload stdout", "lines", added)
	}
	if added := e.st.MergeStderr(e.workload.DrainStderr()); added > 0 {
		slog.Debug("captured workload stderr", "lines", added)
	}

	if !e.workload.Running() {
		slog.Warn("workload is not running, respawning", "pid", e.workload.PID())
		metrics.SetChildUp(false)
		// Reap any stragglers in the old process group before replacing it.
		_ = e.workload.Stop(500 * time.Millisecond)
		// Crash respawn: build step only, never install, and the change
		// aggregation counter is left untouched.
		if code, fatal := e.buildAndSpawn(ctx, false); fatal {
			return code, true
		}
		metrics.IncRespawn()
		e.setPhase(ctx, state.PhaseRunning, "respawned after crash")
	}

	e.st.TrimErrors()

	if m, err := e.workload.Metrics(); err == nil {
		e.st.MemoryMB = m.MemoryMB
		e.st.CPUPercent = m.CPUPercent
		metrics.SetChildMemoryMB(m.MemoryMB)
		metrics.SetChildCPUPercent(m.CPUPercent)
		if e.cfg.MaxRAMMB > 0 && m.MemoryMB >= e.cfg.MaxRAMMB {
			slog.Warn("workload exceeded memory ceiling", "memory_mb", m.MemoryMB, "ceiling_mb", e.cfg.MaxRAMMB)
			e.st.AppendError(state.ErrOverRAM, "workload has exceeded the memory ceiling")
			metrics.IncError(string(state.ErrOverRAM))
			e.setPhase(ctx, state.PhaseWarning, "memory ceiling exceeded")
		} else {
			// A healthy check clears a previous warning.
			e.setPhase(ctx, state.PhaseRunning, "nominal")
		}
	} else {
		slog.Error("failed to read workload metrics", "error", err)
		e.st.AppendError(state.ErrGeneral, "failed to read workload metrics: "+err.Error())
		metrics.IncError(string(state.ErrGeneral))
		e.setPhase(ctx, state.PhaseWarning, "failed to read workload metrics")
	}
	return 0, false
}

// doReload re-reads configuration, regenerates state, and replaces the
// workload. A teardown failure leaves the node indeterminate and exits with
// the distinct code so an outer manager can intervene.
func (e *Engine) doReload(ctx context.Context) (int, bool) {
	slog.Info("reload requested, reinitializing")
	if e.reloadConfig != nil {
		ncfg, err := e.reloadConfig()
		if err != nil {
			slog.Error("failed to reload configuration, keeping current", "error", err)
			e.st.AppendError(state.ErrInputOutput, "config reload failed: "+err.Error())
			metrics.IncError(string(state.ErrInputOutput))
		} else {
			e.cfg = ncfg
		}
	}

	e.st = nil
	e.initState(ctx)

	if err := e.stopWorkload(); err != nil {
		slog.Error("failed to terminate workload during reload", "error", err)
		e.st.AppendError(state.ErrGeneral, "reload teardown failed: "+err.Error())
		metrics.IncError(string(state.ErrGeneral))
		e.windDown(ctx)
		return ExitIndeterminate, true
	}
	if code, fatal := e.buildAndSpawn(ctx, true); fatal {
		return code, true
	}
	e.setPhase(ctx, state.PhaseRunning, "reloaded")
	return 0, false
}

// shutdown attempts a bounded-timeout termination and always exits: code 0
// when the workload went down cleanly, the indeterminate code otherwise.
func (e *Engine) shutdown(ctx context.Context) int {
	slog.Info("graceful shutdown requested")
	err := e.stopWorkload()
	if e.workload != nil {
		e.workload.RemovePIDFile()
	}
	metrics.SetChildUp(false)
	if err != nil {
		slog.Error("workload termination failed within timeout", "error", err)
		e.st.AppendError(state.ErrTimedOut, "shutdown termination failed: "+err.Error())
		metrics.IncError(string(state.ErrTimedOut))
		e.windDown(ctx)
		return ExitIndeterminate
	}
	e.windDown(ctx)
	return ExitOK
}

func (e *Engine) stopWorkload() error {
	if e.workload == nil {
		return nil
	}
	return e.workload.Stop(e.cfg.StopTimeout)
}

// windDown marks the terminal phase and persists the final snapshot so the
// next startup can observe the cause. The run context may already be
// canceled at this point; the final write must still reach the store.
func (e *Engine) windDown(ctx context.Context) {
	e.st.Phase = state.PhaseStopping
	e.st.Data = "stopped"
	e.persist(context.WithoutCancel(ctx))
}

func (e *Engine) setPhase(ctx context.Context, phase state.Phase, data string) {
	e.st.Phase = phase
	e.st.Data = data
	e.persist(ctx)
}

// persist writes the current snapshot through the store. Every call is one
// observable transition: the event counter increments and the update
// timestamp refreshes. Persistence failures are logged, never fatal.
func (e *Engine) persist(ctx context.Context) {
	e.st.Touch()
	metrics.SetPhase(string(e.st.Phase))
	snap := e.st.Snapshot()
	b, err := json.Marshal(snap)
	if err != nil {
		slog.Error("failed to encode state snapshot", "error", err)
		return
	}
	if err := e.store.Save(ctx, store.Record{Name: snap.Name, Snapshot: b, UpdatedAt: snap.UpdatedAt}); err != nil {
		slog.Error("failed to persist state snapshot", "error", err)
	}
}

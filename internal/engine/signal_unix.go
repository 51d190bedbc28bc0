//go:build !windows

package engine

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// notifySignals starts the background signal listeners: SIGHUP flags a
// reload, SIGINT/SIGTERM flag a graceful shutdown. The listeners only set
// flags; the main loop observes and clears them.
func (e *Engine) notifySignals() func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for s := range ch {
			switch s {
			case syscall.SIGHUP:
				slog.Info("received SIGHUP, marked for reload")
				e.RequestReload()
			default:
				slog.Info("received interrupt, marked for graceful shutdown", "signal", s)
				e.RequestShutdown()
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

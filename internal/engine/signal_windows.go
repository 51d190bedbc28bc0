//go:build windows

package engine

import (
	"log/slog"
	"os"
	"os/signal"
)

// notifySignals on Windows only supports the interrupt path; there is no
// SIGHUP equivalent, so reloads are unavailable.
func (e *Engine) notifySignals() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		for range ch {
			slog.Info("received interrupt, marked for graceful shutdown")
			e.RequestShutdown()
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

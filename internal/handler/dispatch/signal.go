package dispatch

import (
	"context"
	"log/slog"
	"os"
)

// WatchSignals turns the first received signal into cancel and any further
// signal into exit(1). It returns when signals is closed or exit returns.
func WatchSignals(cancel context.CancelFunc, signals <-chan os.Signal, exit func(int), logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch")

	stopping := false
	for sig := range signals {
		if !stopping {
			stopping = true
			logger.Info("shutdown requested, finishing current message", "signal", sig.String())
			cancel()
			continue
		}
		logger.Warn("second signal received, exiting immediately", "signal", sig.String())
		exit(1)
		return
	}
}

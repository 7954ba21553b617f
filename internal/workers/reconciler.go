package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/autorenta/p2p-reconciler/internal/core/ports"
)

// Reconciler runs one full poll cycle and reports how many orders ended it in
// failure.
type Reconciler interface {
	ProcessCycle(ctx context.Context) (failed int, err error)
}

// ReconcilerWorker runs the reconciliation loop on a fixed poll interval and
// enforces the error-pause circuit: after too many consecutive failing cycles
// the loop pauses and alerts the operator instead of hammering the rails.
type ReconcilerWorker struct {
	logger     *slog.Logger
	reconciler Reconciler
	notifier   ports.Notifier

	pollInterval   time.Duration
	retryDelay     time.Duration
	pauseThreshold int
	pauseDuration  time.Duration

	consecutiveErrors int
}

func NewReconcilerWorker(
	logger *slog.Logger,
	reconciler Reconciler,
	notifier ports.Notifier,
	pollInterval time.Duration,
	pauseThreshold int,
	pauseDuration time.Duration,
) *ReconcilerWorker {
	return &ReconcilerWorker{
		logger:         logger,
		reconciler:     reconciler,
		notifier:       notifier,
		pollInterval:   pollInterval,
		retryDelay:     ports.SourceRetryDelay,
		pauseThreshold: pauseThreshold,
		pauseDuration:  pauseDuration,
	}
}

// Start blocks until ctx is cancelled. Each tick runs one full poll cycle;
// orders still in flight when ctx is cancelled keep their persisted state and
// are re-validated on the next process start.
func (w *ReconcilerWorker) Start(ctx context.Context) {
	w.logger.Info("Starting reconciliation worker",
		"poll_interval", w.pollInterval.String(),
		"pause_threshold", w.pauseThreshold)

	// Run an initial cycle immediately.
	w.runCycle(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reconciliation worker stopped")
			return
		case <-ticker.C:
			if w.consecutiveErrors >= w.pauseThreshold {
				w.pause(ctx)
				continue
			}
			w.runCycle(ctx)
		}
	}
}

func (w *ReconcilerWorker) runCycle(ctx context.Context) {
	failed, err := w.reconciler.ProcessCycle(ctx)
	if err != nil && ctx.Err() == nil {
		// A failed snapshot fetch is usually a blip; retry once after a short
		// delay instead of waiting out the full poll interval.
		w.logger.Warn("Poll cycle failed, retrying",
			"error", err, "retry_delay", w.retryDelay.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.retryDelay):
		}
		failed, err = w.reconciler.ProcessCycle(ctx)
	}

	switch {
	case err != nil:
		w.consecutiveErrors++
		w.logger.Error("Poll cycle failed", "error", err, "consecutive_errors", w.consecutiveErrors)
	case failed > 0:
		w.consecutiveErrors++
		w.logger.Warn("Poll cycle finished with failing orders",
			"failed", failed, "consecutive_errors", w.consecutiveErrors)
	default:
		w.consecutiveErrors = 0
	}
}

// pause backs the loop off after repeated failures. The error counter resets
// afterwards so the loop gets a clean slate.
func (w *ReconcilerWorker) pause(ctx context.Context) {
	w.logger.Warn("Too many consecutive errors, pausing", "duration", w.pauseDuration.String())
	w.notifier.Notify("P2P reconciler", "Paused after repeated errors")

	select {
	case <-ctx.Done():
	case <-time.After(w.pauseDuration):
	}
	w.consecutiveErrors = 0
}

package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/Sendo-labs/leaderboard/pkg/logging"
)

// Worker runs the ingestion pipeline on a fixed interval. Manual triggers
// share the same guard, so at most one run is in flight at a time.
type Worker struct {
	orchestrator *Orchestrator
	logger       logging.Logger
	interval     time.Duration

	mu      sync.Mutex
	running bool
}

// NewWorker creates a periodic ingestion worker
func NewWorker(orchestrator *Orchestrator, interval time.Duration, logger logging.Logger) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		orchestrator: orchestrator,
		logger:       logger,
		interval:     interval,
	}
}

// Start starts the ingestion loop. Blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval.String()).Info("Starting ingestion worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.TriggerRun(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping ingestion worker")
			return
		case <-ticker.C:
			w.TriggerRun(ctx, "schedule")
		}
	}
}

// TriggerRun executes one run unless another is already in flight, in
// which case it reports false and does nothing
func (w *Worker) TriggerRun(ctx context.Context, triggeredBy string) bool {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.WithField("trigger", triggeredBy).Warn("Ingestion run already in progress, skipping")
		return false
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if _, err := w.orchestrator.Run(ctx, triggeredBy); err != nil {
		w.logger.WithError(err).Error("Ingestion run failed")
		return true
	}
	return true
}

// Running reports whether a run is currently in flight
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

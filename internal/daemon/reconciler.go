package daemon

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler periodically requests a rescan so drift introduced outside the
// event stream (a process re-parented into another unit, a value changed by
// hand) is corrected without waiting for the next window event.
type Reconciler struct {
	interval time.Duration
	request  func() bool
	logger   *slog.Logger
}

// NewReconciler returns a reconciler that calls request every interval.
func NewReconciler(interval time.Duration, request func() bool, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		interval: interval,
		request:  request,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reconciler stopped")
			return
		case <-ticker.C:
			if !r.request() {
				r.logger.Debug("reconciler: rescan already pending")
			}
		}
	}
}

package flow

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically purges sessions older than the retention period.
type Janitor struct {
	manager   *Manager
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewJanitor creates a Janitor. A non-positive interval defaults to one hour.
func NewJanitor(m *Manager, retention, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{manager: m, retention: retention, interval: interval, now: time.Now}
}

// Sweep purges once and returns the number of removed sessions.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	return j.manager.Purge(ctx, j.now().Add(-j.retention))
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	slog.Info("Janitor.Run: starting session janitor", "retention", j.retention, "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Janitor.Run: stopping")
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				slog.Error("Janitor.Run: sweep failed", "error", err)
			}
		}
	}
}

package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically deletes pending records that were never settled.
type Janitor struct {
	ledger   *Ledger
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewJanitor creates a janitor that runs every interval and removes pending
// records older than maxAge.
func NewJanitor(ledger *Ledger, interval, maxAge time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		ledger:   ledger,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the cleanup loop. Call in a goroutine.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// Stop signals the janitor to stop.
func (j *Janitor) Stop() {
	select {
	case j.stop <- struct{}{}:
	default:
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.ledger.PurgeStalePending(ctx, j.maxAge)
	if err != nil {
		j.logger.Warn("failed to purge pending transactions", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("purged stale pending transactions", "count", n)
	}
}

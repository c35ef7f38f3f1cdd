package sessions

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically purges expired sessions.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a purge timer
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the purge loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.purge(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) purge(ctx context.Context) {
	n, err := t.service.PurgeExpired(ctx)
	if err != nil {
		t.logger.Warn("failed to purge expired sessions", "error", err)
		return
	}
	if n > 0 {
		t.logger.Info("purged expired analysis sessions", "count", n)
	}
}

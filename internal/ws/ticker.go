package ws

import (
	"context"
	"log/slog"
	"time"
)

// QuotaTicker refills every connected client's note quota on a fixed cadence.
type QuotaTicker struct {
	registry *Registry
	interval time.Duration
	log      *slog.Logger
}

func NewQuotaTicker(registry *Registry) *QuotaTicker {
	return &QuotaTicker{
		registry: registry,
		interval: time.Second,
		log:      slog.With("component", "ticker"),
	}
}

// Start blocks until ctx is cancelled.
func (t *QuotaTicker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.log.Info("quota ticker started", "interval", t.interval)
	for {
		select {
		case <-ctx.Done():
			t.log.Info("quota ticker stopped")
			return
		case <-ticker.C:
			t.tickAll()
		}
	}
}

func (t *QuotaTicker) tickAll() {
	for _, cd := range t.registry.clientSnapshot() {
		cd.mu.Lock()
		cd.quota.Tick()
		cd.mu.Unlock()
	}
}

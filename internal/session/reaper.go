package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/metrics"
	"github.com/leozw/linkpulse/internal/store"
)

// Reaper evicts tenants whose last activity is older than the idle
// timeout. Each sweep reads the usage ledger, filters it, and writes it
// back whole; fine for modest tenant counts. Per-tenant teardown goes
// through Manager.Evict so the lifecycle state stays coherent.
type Reaper struct {
	manager     *Manager
	store       *store.Files
	interval    time.Duration
	idleTimeout time.Duration
	metrics     *metrics.Collector
	logger      *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

func NewReaper(manager *Manager, files *store.Files, interval, idleTimeout time.Duration, collector *metrics.Collector, logger *zap.Logger) *Reaper {
	return &Reaper{
		manager:     manager,
		store:       files,
		interval:    interval,
		idleTimeout: idleTimeout,
		metrics:     collector,
		logger:      logger,
		now:         time.Now,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("Starting idle reaper",
		zap.Duration("interval", r.interval),
		zap.Duration("idle_timeout", r.idleTimeout),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping idle reaper")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep evicts every ledger entry older than the idle timeout and
// leaves the rest untouched, in a single ledger rewrite.
func (r *Reaper) Sweep() {
	entries, err := r.store.UsageEntries()
	if err != nil {
		r.logger.Error("Failed to read usage ledger", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	now := r.now()
	kept := make([]store.UsageEntry, 0, len(entries))

	for _, entry := range entries {
		if now.Sub(entry.Timestamp) <= r.idleTimeout {
			kept = append(kept, entry)
			continue
		}

		r.manager.Evict(entry.TenantID)
		r.metrics.RecordEviction()
		r.logger.Info("Evicted idle tenant", zap.String("tenant_id", entry.TenantID))
	}

	if err := r.store.ReplaceUsage(kept); err != nil {
		r.logger.Error("Failed to rewrite usage ledger", zap.Error(err))
	}
}

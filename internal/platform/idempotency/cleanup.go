package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleaner periodically removes expired records from stores that do not expire them on their own.
type Cleaner struct {
	store    Store
	interval time.Duration
	batch    int
	clock    func() time.Time
	logger   *zap.Logger
}

// NewCleaner configures a cleaner. Non-positive values fall back to an hourly sweep of 200 records.
func NewCleaner(store Store, interval time.Duration, batch int, logger *zap.Logger) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	if batch <= 0 {
		batch = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{store: store, interval: interval, batch: batch, clock: time.Now, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.store == nil {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep deletes expired records in batches until a batch comes back short.
func (c *Cleaner) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		removed, err := c.store.CleanupExpired(ctx, c.clock().UTC(), c.batch)
		total += removed
		if err != nil {
			c.logger.Warn("idempotency cleanup failed", zap.Error(err), zap.Int("removed", total))
			return total
		}
		if removed < c.batch {
			break
		}
	}
	if total > 0 {
		c.logger.Info("idempotency cleanup", zap.Int("removed", total))
	}
	return total
}

package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/booking-api/internal/repository"
	"github.com/jwalitptl/booking-api/pkg/logger"
)

// OutboxCleanup deletes processed audit events past the retention period
type OutboxCleanup struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
}

func NewOutboxCleanup(repo repository.OutboxRepository, retention, interval time.Duration, l *logger.Logger) *OutboxCleanup {
	return &OutboxCleanup{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    l,
	}
}

func (c *OutboxCleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.retention)
			deleted, err := c.repo.DeleteProcessedBefore(ctx, cutoff)
			if err != nil {
				c.logger.Error(err, "outbox cleanup failed")
				continue
			}
			if deleted > 0 {
				c.logger.Info("outbox cleanup completed", "deleted", deleted)
			}
		}
	}
}

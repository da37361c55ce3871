package queue

import (
	"context"
	"time"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// Sweeper periodically scans for items with pending queue entries and no
// running entry, claiming and handing them to onClaim. It is the polling
// half of C3: the webhook path enqueues, the sweeper is what actually
// starts the next entry.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	onClaim  func(ctx context.Context, entry *domain.QueueEntry)
	log      *logger.Logger
}

func NewSweeper(manager *Manager, interval time.Duration, onClaim func(ctx context.Context, entry *domain.QueueEntry), lg *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{manager: manager, interval: interval, onClaim: onClaim, log: lg.With("service", "queue.Sweeper")}
}

// Run blocks, sweeping at Sweeper's interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	items, err := s.manager.ListDistinctPendingItems(ctx)
	if err != nil {
		s.log.Warn("failed to list pending items", "error", err)
		return
	}
	for _, itemID := range items {
		ok, err := s.manager.ShouldExecuteNow(ctx, itemID)
		if err != nil {
			s.log.Warn("failed to check ShouldExecuteNow", "external_item_id", itemID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		entry, err := s.manager.ClaimNext(ctx, itemID)
		if err != nil {
			s.log.Warn("failed to claim next entry", "external_item_id", itemID, "error", err)
			continue
		}
		if entry == nil {
			continue
		}
		s.onClaim(ctx, entry)
	}
}

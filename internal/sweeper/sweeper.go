package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/store"
)

// DefaultBatchSize is how many overdue reservations one batch expires
const DefaultBatchSize = 100

// Sweeper expires overdue reservations in batches. It owns no timer: an
// external scheduler triggers the cleanup endpoint, which calls Run. Runs are
// idempotent and safe to overlap; a reservation released or consumed by the
// time a batch reaches it is skipped.
type Sweeper struct {
	store     store.ReservationStore
	logger    *zap.Logger
	batchSize int
}

func New(st store.ReservationStore, logger *zap.Logger, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{
		store:     st,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run sweeps batches until one comes back short and returns the total number
// of reservations it expired.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := s.store.ExpireDue(ctx, time.Now().UTC(), s.batchSize)
		if err != nil {
			return total, fmt.Errorf("expire batch: %w", err)
		}
		total += n
		if n < s.batchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Info("expired stale reservations", zap.Int("count", total))
	}
	return total, nil
}

package cache

import (
	"context"
	"errors"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
)

// AvailabilityCache holds advisory availability numbers for display reads.
// Entries may be stale by up to their TTL; reserve never consults the cache.
type AvailabilityCache interface {
	Get(ctx context.Context, key domain.StockKey) (int32, error)
	Set(ctx context.Context, key domain.StockKey, available int32) error
	Invalidate(ctx context.Context, key domain.StockKey) error
}

var ErrCacheMiss = errors.New("cache miss")

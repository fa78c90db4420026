package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/cache"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/store"
)

var ErrInvalidQuantity = errors.New("quantity must be a positive integer within the per-request cap")

const (
	// DefaultTTL is how long a reservation holds stock before auto-expiring
	DefaultTTL = 15 * time.Minute

	// DefaultMaxQuantity caps a single reservation so one request cannot
	// stockpile a product
	DefaultMaxQuantity = 999

	// DefaultOpTimeout bounds lock waits so callers get a retryable error
	// instead of a hung request
	DefaultOpTimeout = 3 * time.Second
)

type Config struct {
	TTL         time.Duration
	MaxQuantity int32
	OpTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxQuantity <= 0 {
		c.MaxQuantity = DefaultMaxQuantity
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = DefaultOpTimeout
	}
	return c
}

// ReservationService is the lifecycle manager in front of the store: it owns
// input validation, the reservation TTL, advisory caching and logging. All
// atomicity guarantees live in the store.
type ReservationService struct {
	store  store.ReservationStore
	cache  cache.AvailabilityCache // optional, advisory reads only
	logger *zap.Logger
	cfg    Config
	group  singleflight.Group
}

func NewReservationService(st store.ReservationStore, c cache.AvailabilityCache, logger *zap.Logger, cfg Config) *ReservationService {
	return &ReservationService{
		store:  st,
		cache:  c,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// Reserve places a hold of qty units on the key for the holder. Validation
// failures never touch the store.
func (s *ReservationService) Reserve(ctx context.Context, key domain.StockKey, qty int32, holder domain.Holder) (*domain.Reservation, int32, error) {
	if qty <= 0 || qty > s.cfg.MaxQuantity {
		return nil, 0, ErrInvalidQuantity
	}
	if err := holder.Validate(); err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	r, available, err := s.store.Reserve(ctx, key, qty, holder, s.cfg.TTL)
	if errors.Is(err, store.ErrInsufficientStock) {
		s.logger.Info("reserve rejected, insufficient stock",
			zap.Int64("product_id", key.ProductID),
			zap.String("variant_id", key.VariantID),
			zap.Int32("quantity", qty))
		return nil, 0, err
	}
	if err != nil {
		return nil, 0, fmt.Errorf("reserve product %d variant %q: %w", key.ProductID, key.VariantID, err)
	}

	s.refreshCache(ctx, key, available)
	s.logger.Info("reservation created",
		zap.String("reservation_id", r.ID),
		zap.Int64("product_id", key.ProductID),
		zap.String("variant_id", key.VariantID),
		zap.Int32("quantity", qty),
		zap.String("holder_kind", string(holder.Kind)),
		zap.Time("expires_at", r.ExpiresAt))
	return r, available, nil
}

// Release cancels a hold. Terminal reservations report ErrAlreadyTerminal,
// which double-firing callers must treat as benign.
func (s *ReservationService) Release(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return nil, store.ErrReservationNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	r, err := s.store.Release(ctx, reservationID)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		s.logger.Debug("release on terminal reservation",
			zap.String("reservation_id", reservationID),
			zap.String("status", string(r.Status)))
		return r, err
	}
	if err != nil {
		return nil, err
	}

	s.invalidateCache(ctx, r.Key())
	s.logger.Info("reservation released",
		zap.String("reservation_id", r.ID),
		zap.Int64("product_id", r.ProductID),
		zap.Int32("quantity", r.Quantity))
	return r, nil
}

// Consume converts a hold into a permanent stock decrement at order commit.
func (s *ReservationService) Consume(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return nil, store.ErrReservationNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	r, err := s.store.Consume(ctx, reservationID)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		s.logger.Debug("consume on terminal reservation",
			zap.String("reservation_id", reservationID),
			zap.String("status", string(r.Status)))
		return r, err
	}
	if errors.Is(err, store.ErrInsufficientOnHand) {
		s.logger.Warn("consume aborted, on-hand below reserved quantity",
			zap.String("reservation_id", reservationID))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.invalidateCache(ctx, r.Key())
	s.logger.Info("reservation consumed",
		zap.String("reservation_id", r.ID),
		zap.Int64("product_id", r.ProductID),
		zap.Int32("quantity", r.Quantity))
	return r, nil
}

// GetReservation returns a reservation in any state, for audit.
func (s *ReservationService) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return nil, store.ErrReservationNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	return s.store.GetReservation(ctx, reservationID)
}

// GetAvailableStock serves display reads: cache first, then the store with
// concurrent misses for the same key collapsed into one query. Advisory only;
// the authoritative check happens again inside Reserve.
func (s *ReservationService) GetAvailableStock(ctx context.Context, key domain.StockKey) (int32, error) {
	if s.cache != nil {
		if v, err := s.cache.Get(ctx, key); err == nil {
			return v, nil
		}
	}

	v, err, _ := s.group.Do(groupKey(key), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		defer cancel()

		available, err := s.store.AvailableStock(ctx, key)
		if err != nil {
			return nil, err
		}
		s.refreshCache(ctx, key, available)
		return available, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int32), nil
}

// SetStock seeds or corrects on-hand quantity for a key.
func (s *ReservationService) SetStock(ctx context.Context, key domain.StockKey, quantity int32) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	if err := s.store.SetStock(ctx, key, quantity); err != nil {
		return err
	}
	s.invalidateCache(ctx, key)
	s.logger.Info("stock level set",
		zap.Int64("product_id", key.ProductID),
		zap.String("variant_id", key.VariantID),
		zap.Int32("quantity_on_hand", quantity))
	return nil
}

func (s *ReservationService) refreshCache(ctx context.Context, key domain.StockKey, available int32) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, available); err != nil {
		s.logger.Debug("availability cache refresh failed", zap.Error(err))
	}
}

func (s *ReservationService) invalidateCache(ctx context.Context, key domain.StockKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Debug("availability cache invalidation failed", zap.Error(err))
	}
}

func groupKey(key domain.StockKey) string {
	return fmt.Sprintf("%d:%s", key.ProductID, key.VariantID)
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
)

// MemoryStore implements ReservationStore with in-memory storage. A single
// mutex serializes all mutations, which is stricter than the per-key ordering
// the contract requires. Used for tests and local development; production
// runs on PostgresStore.
type MemoryStore struct {
	mu           sync.RWMutex
	stocks       map[domain.StockKey]int32
	reservations map[string]*domain.Reservation
	byKey        map[domain.StockKey][]string

	now func() time.Time
}

// NewMemoryStore creates a new in-memory reservation store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:       make(map[domain.StockKey]int32),
		reservations: make(map[string]*domain.Reservation),
		byKey:        make(map[domain.StockKey][]string),
		now:          time.Now,
	}
}

// held sums active, unexpired holds for the key. Callers must hold mu.
func (s *MemoryStore) held(key domain.StockKey, now time.Time) int32 {
	var sum int32
	for _, id := range s.byKey[key] {
		if r := s.reservations[id]; r.HeldAt(now) {
			sum += r.Quantity
		}
	}
	return sum
}

// Reserve creates a new active reservation if availability allows it
func (s *MemoryStore) Reserve(_ context.Context, key domain.StockKey, qty int32, holder domain.Holder, ttl time.Duration) (*domain.Reservation, int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	onHand, exists := s.stocks[key]
	if !exists {
		return nil, 0, ErrProductNotFound
	}

	now := s.now()
	available := domain.StockInfo{OnHand: onHand, Held: s.held(key, now)}.Available()
	if available < qty {
		return nil, 0, ErrInsufficientStock
	}

	r := &domain.Reservation{
		ID:        uuid.New().String(),
		ProductID: key.ProductID,
		VariantID: key.VariantID,
		Quantity:  qty,
		Holder:    holder,
		Status:    domain.StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.reservations[r.ID] = r
	s.byKey[key] = append(s.byKey[key], r.ID)

	copied := *r
	return &copied, available - qty, nil
}

// Release cancels a reservation, returning its quantity to the pool
func (s *MemoryStore) Release(_ context.Context, reservationID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.reservations[reservationID]
	if !exists {
		return nil, ErrReservationNotFound
	}
	if r.Status.Terminal() {
		copied := *r
		return &copied, ErrAlreadyTerminal
	}
	if r.ExpiredAt(s.now()) {
		// lapsed but not yet swept: converge it here instead of releasing
		r.Status = domain.StatusExpired
		copied := *r
		return &copied, ErrAlreadyTerminal
	}

	r.Status = domain.StatusReleased
	copied := *r
	return &copied, nil
}

// Consume finalizes a reservation, permanently deducting on-hand stock
func (s *MemoryStore) Consume(_ context.Context, reservationID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.reservations[reservationID]
	if !exists {
		return nil, ErrReservationNotFound
	}
	if r.Status.Terminal() {
		copied := *r
		return &copied, ErrAlreadyTerminal
	}
	if r.ExpiredAt(s.now()) {
		r.Status = domain.StatusExpired
		copied := *r
		return &copied, ErrAlreadyTerminal
	}

	onHand, exists := s.stocks[r.Key()]
	if !exists {
		return nil, ErrProductNotFound
	}
	if onHand < r.Quantity {
		// concurrent manual stock correction; the reservation stays active
		return nil, ErrInsufficientOnHand
	}

	s.stocks[r.Key()] = onHand - r.Quantity
	r.Status = domain.StatusConsumed
	copied := *r
	return &copied, nil
}

// GetReservation returns a reservation in any state
func (s *MemoryStore) GetReservation(_ context.Context, reservationID string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.reservations[reservationID]
	if !exists {
		return nil, ErrReservationNotFound
	}
	copied := *r
	return &copied, nil
}

// AvailableStock returns on-hand minus active unexpired holds, floored at
// zero when a stock correction dropped on-hand below the held total
func (s *MemoryStore) AvailableStock(_ context.Context, key domain.StockKey) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	onHand, exists := s.stocks[key]
	if !exists {
		return 0, ErrProductNotFound
	}
	return domain.StockInfo{OnHand: onHand, Held: s.held(key, s.now())}.Available(), nil
}

// SetStock seeds or corrects the on-hand quantity for a key
func (s *MemoryStore) SetStock(_ context.Context, key domain.StockKey, quantity int32) error {
	if quantity < 0 {
		return ErrNegativeStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stocks[key] = quantity
	return nil
}

// ExpireDue transitions overdue active reservations to expired
func (s *MemoryStore) ExpireDue(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.reservations {
		if count >= limit {
			break
		}
		if r.Status == domain.StatusActive && r.ExpiredAt(now) {
			r.Status = domain.StatusExpired
			count++
		}
	}
	return count, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

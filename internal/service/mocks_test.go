package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/cache"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/store"
)

// MockStore implements store.ReservationStore for testing
type MockStore struct {
	ReserveCalls   int
	ReserveErr     error
	ReserveTTL     time.Duration
	Available      int32
	Reservation    *domain.Reservation
	ReleaseErr     error
	ConsumeErr     error
	GetErr         error
	AvailableErr   error
	SetStockErr    error
	SetStockCalls  int
	ExpireCount    int
	ExpireErr      error
	AvailableCalls int
}

func (m *MockStore) Reserve(_ context.Context, key domain.StockKey, qty int32, holder domain.Holder, ttl time.Duration) (*domain.Reservation, int32, error) {
	m.ReserveCalls++
	m.ReserveTTL = ttl
	if m.ReserveErr != nil {
		return nil, 0, m.ReserveErr
	}
	if m.Reservation == nil {
		now := time.Now()
		m.Reservation = &domain.Reservation{
			ID:        uuid.New().String(),
			ProductID: key.ProductID,
			VariantID: key.VariantID,
			Quantity:  qty,
			Holder:    holder,
			Status:    domain.StatusActive,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
	}
	return m.Reservation, m.Available, nil
}

func (m *MockStore) Release(_ context.Context, _ string) (*domain.Reservation, error) {
	if m.ReleaseErr != nil {
		if m.Reservation != nil {
			return m.Reservation, m.ReleaseErr
		}
		return nil, m.ReleaseErr
	}
	m.Reservation.Status = domain.StatusReleased
	return m.Reservation, nil
}

func (m *MockStore) Consume(_ context.Context, _ string) (*domain.Reservation, error) {
	if m.ConsumeErr != nil {
		if m.Reservation != nil {
			return m.Reservation, m.ConsumeErr
		}
		return nil, m.ConsumeErr
	}
	m.Reservation.Status = domain.StatusConsumed
	return m.Reservation, nil
}

func (m *MockStore) GetReservation(_ context.Context, _ string) (*domain.Reservation, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.Reservation, nil
}

func (m *MockStore) AvailableStock(_ context.Context, _ domain.StockKey) (int32, error) {
	m.AvailableCalls++
	if m.AvailableErr != nil {
		return 0, m.AvailableErr
	}
	return m.Available, nil
}

func (m *MockStore) SetStock(_ context.Context, _ domain.StockKey, _ int32) error {
	m.SetStockCalls++
	return m.SetStockErr
}

func (m *MockStore) ExpireDue(_ context.Context, _ time.Time, _ int) (int, error) {
	return m.ExpireCount, m.ExpireErr
}

func (m *MockStore) Close() error {
	return nil
}

var _ store.ReservationStore = (*MockStore)(nil)

// MockCache implements cache.AvailabilityCache for testing
type MockCache struct {
	Values      map[domain.StockKey]int32
	GetErr      error
	SetErr      error
	Invalidated []domain.StockKey
	SetCalls    int
}

func NewMockCache() *MockCache {
	return &MockCache{Values: make(map[domain.StockKey]int32)}
}

func (m *MockCache) Get(_ context.Context, key domain.StockKey) (int32, error) {
	if m.GetErr != nil {
		return 0, m.GetErr
	}
	v, ok := m.Values[key]
	if !ok {
		return 0, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *MockCache) Set(_ context.Context, key domain.StockKey, available int32) error {
	m.SetCalls++
	if m.SetErr != nil {
		return m.SetErr
	}
	m.Values[key] = available
	return nil
}

func (m *MockCache) Invalidate(_ context.Context, key domain.StockKey) error {
	m.Invalidated = append(m.Invalidated, key)
	delete(m.Values, key)
	return nil
}

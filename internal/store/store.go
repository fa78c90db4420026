package store

import (
	"context"
	"errors"
	"time"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
)

// Common errors returned by the store
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAlreadyTerminal     = errors.New("reservation is already in a terminal state")
	ErrInsufficientOnHand  = errors.New("on-hand stock is below the reserved quantity")
	ErrNegativeStock       = errors.New("on-hand quantity cannot be negative")
)

// ReservationStore defines the storage operations for stock and reservations.
// All reserve/release/consume operations for one stock key are totally ordered
// relative to each other; operations on different keys may interleave freely.
// Callers are responsible for validating quantity and holder before calling.
type ReservationStore interface {
	// Reserve atomically checks availability for the key and, if qty fits,
	// inserts an active reservation expiring after ttl. Returns the
	// reservation and the availability remaining after it. No partial state
	// is left behind on ErrInsufficientStock.
	Reserve(ctx context.Context, key domain.StockKey, qty int32, holder domain.Holder, ttl time.Duration) (*domain.Reservation, int32, error)

	// Release cancels an active reservation, returning its quantity to the
	// pool. Terminal reservations report ErrAlreadyTerminal alongside their
	// current state, never an unrecoverable error.
	Release(ctx context.Context, reservationID string) (*domain.Reservation, error)

	// Consume converts an active reservation into a permanent on-hand
	// decrement. The status transition and the decrement happen in one
	// atomic unit; if the decrement cannot be applied the reservation stays
	// active and ErrInsufficientOnHand is returned.
	Consume(ctx context.Context, reservationID string) (*domain.Reservation, error)

	// GetReservation returns a reservation in any state, for audit.
	GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error)

	// AvailableStock is a snapshot read of on-hand minus active unexpired
	// holds. Advisory only: reserve recomputes it under its own atomic unit.
	AvailableStock(ctx context.Context, key domain.StockKey) (int32, error)

	// SetStock seeds or corrects the on-hand quantity for a key.
	SetStock(ctx context.Context, key domain.StockKey, quantity int32) error

	// ExpireDue transitions up to limit active reservations whose expiry is
	// at or before now to expired, returning how many it transitioned. Safe
	// to invoke concurrently with itself and with live traffic.
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)

	// Close shuts down the store
	Close() error
}

package domain

import (
	"errors"
	"time"
)

// HolderKind discriminates who owns a hold: a signed-in user or an
// anonymous browsing session.
type HolderKind string

const (
	HolderKindUser    HolderKind = "user"
	HolderKindSession HolderKind = "session"
)

// Holder identifies the owner of a reservation.
type Holder struct {
	Kind HolderKind
	ID   string
}

// UserHolder builds a holder for a signed-in user.
func UserHolder(userID string) Holder {
	return Holder{Kind: HolderKindUser, ID: userID}
}

// SessionHolder builds a holder for an anonymous session.
func SessionHolder(sessionID string) Holder {
	return Holder{Kind: HolderKindSession, ID: sessionID}
}

var ErrInvalidHolder = errors.New("holder must be a user or session with a non-empty id")

// Validate checks that the holder has a known kind and a non-empty id.
func (h Holder) Validate() error {
	if h.ID == "" {
		return ErrInvalidHolder
	}
	switch h.Kind {
	case HolderKindUser, HolderKindSession:
		return nil
	default:
		return ErrInvalidHolder
	}
}

// ReservationStatus represents the state of a stock reservation.
type ReservationStatus string

const (
	StatusActive   ReservationStatus = "active"
	StatusReleased ReservationStatus = "released"
	StatusConsumed ReservationStatus = "consumed"
	StatusExpired  ReservationStatus = "expired"
)

// Terminal reports whether the status is final. Terminal reservations are
// retained for audit and never transition again.
func (s ReservationStatus) Terminal() bool {
	return s == StatusReleased || s == StatusConsumed || s == StatusExpired
}

// Reservation is a temporary claim on stock that is not yet a committed sale.
// Quantity is fixed at creation; only the status changes afterwards.
type Reservation struct {
	ID        string
	ProductID int64
	VariantID string // empty when the product has no variants
	Quantity  int32
	Holder    Holder
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Key returns the stock key the reservation holds against.
func (r *Reservation) Key() StockKey {
	return StockKey{ProductID: r.ProductID, VariantID: r.VariantID}
}

// ExpiredAt reports whether the hold has lapsed at the given instant.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// HeldAt reports whether the reservation still counts against available
// stock: active and not yet expired, whether or not the sweeper has run.
func (r *Reservation) HeldAt(now time.Time) bool {
	return r.Status == StatusActive && !r.ExpiredAt(now)
}

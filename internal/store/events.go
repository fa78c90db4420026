package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
)

// Outbox event types for reservation lifecycle transitions
const (
	EventReservationCreated  = "reservation.created"
	EventReservationReleased = "reservation.released"
	EventReservationConsumed = "reservation.consumed"
	EventReservationExpired  = "reservation.expired"
)

// ReservationEvent is an outbox row recorded in the same transaction as the
// lifecycle transition it describes.
type ReservationEvent struct {
	ID            int64
	ReservationID string
	Type          string
	Payload       []byte
	CreatedAt     time.Time
}

type eventPayload struct {
	ReservationID string `json:"reservation_id"`
	ProductID     int64  `json:"product_id"`
	VariantID     string `json:"variant_id,omitempty"`
	Quantity      int32  `json:"quantity"`
	HolderKind    string `json:"holder_kind"`
	HolderID      string `json:"holder_id"`
	Status        string `json:"status"`
	ExpiresAt     string `json:"expires_at"`
}

func (s *PostgresStore) insertEvent(ctx context.Context, tx *sql.Tx, r *domain.Reservation, eventType string) error {
	payload, err := json.Marshal(eventPayload{
		ReservationID: r.ID,
		ProductID:     r.ProductID,
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
		HolderKind:    string(r.Holder.Kind),
		HolderID:      r.Holder.ID,
		Status:        string(r.Status),
		ExpiresAt:     r.ExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	// lib/pq encodes []byte as bytea, which jsonb rejects
	_, err = tx.ExecContext(ctx,
		`INSERT INTO reservation_events (reservation_id, event_type, payload) VALUES ($1, $2, $3)`,
		r.ID, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("insert reservation event: %w", err)
	}
	return nil
}

// GetUnprocessedEvents returns outbox rows not yet published, oldest first.
func (s *PostgresStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*ReservationEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reservation_id, event_type, payload, created_at
		 FROM reservation_events
		 WHERE processed_at IS NULL
		 ORDER BY id
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*ReservationEvent
	for rows.Next() {
		var e ReservationEvent
		if err := rows.Scan(&e.ID, &e.ReservationID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation events: %w", err)
	}
	return events, nil
}

// MarkEventAsProcessed stamps an outbox row as published.
func (s *PostgresStore) MarkEventAsProcessed(ctx context.Context, eventID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reservation_events SET processed_at = NOW() WHERE id = $1`,
		eventID)
	if err != nil {
		return fmt.Errorf("mark event as processed: %w", err)
	}
	return nil
}

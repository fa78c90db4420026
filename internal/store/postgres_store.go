package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// PostgresStore implements ReservationStore on postgres. Per-key ordering
// comes from row-level locks: Reserve takes the stock row FOR UPDATE before
// computing availability, Release/Consume take the reservation row FOR UPDATE
// before transitioning it. Terminal transitions also append a row to the
// reservation_events outbox inside the same transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(cred *Credentials) (*PostgresStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "reservations_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (s *PostgresStore) Reserve(ctx context.Context, key domain.StockKey, qty int32, holder domain.Holder, ttl time.Duration) (*domain.Reservation, int32, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	// Lock the stock row first so concurrent reserves for the same key queue
	// up behind the availability check.
	var onHand int32
	err = tx.QueryRowContext(ctx,
		`SELECT quantity_on_hand FROM stock WHERE product_id = $1 AND variant_id = $2 FOR UPDATE`,
		key.ProductID, key.VariantID).Scan(&onHand)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrProductNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("lock stock row: %w", err)
	}

	var held int32
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM reservations
		 WHERE product_id = $1 AND variant_id = $2 AND status = 'active' AND expires_at > NOW()`,
		key.ProductID, key.VariantID).Scan(&held)
	if err != nil {
		return nil, 0, fmt.Errorf("sum active holds: %w", err)
	}

	available := domain.StockInfo{OnHand: onHand, Held: held}.Available()
	if available < qty {
		return nil, 0, ErrInsufficientStock
	}

	now := time.Now().UTC()
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reservations (id, product_id, variant_id, quantity, holder_kind, holder_id, status, created_at, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $8)`,
		r.ID, r.ProductID, r.VariantID, r.Quantity, string(r.Holder.Kind), r.Holder.ID, string(r.Status), r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return nil, 0, fmt.Errorf("insert reservation: %w", err)
	}

	if err := s.insertEvent(ctx, tx, r, EventReservationCreated); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit reserve tx: %w", err)
	}
	return r, available - qty, nil
}

func (s *PostgresStore) Release(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback()

	r, err := s.lockReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return r, ErrAlreadyTerminal
	}
	if r.ExpiredAt(time.Now().UTC()) {
		// lapsed but not yet swept: converge it here instead of releasing
		if err := s.transition(ctx, tx, r, domain.StatusExpired, EventReservationExpired); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit release tx: %w", err)
		}
		return r, ErrAlreadyTerminal
	}

	if err := s.transition(ctx, tx, r, domain.StatusReleased, EventReservationReleased); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit release tx: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Consume(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consume tx: %w", err)
	}
	defer tx.Rollback()

	r, err := s.lockReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return r, ErrAlreadyTerminal
	}
	if r.ExpiredAt(time.Now().UTC()) {
		if err := s.transition(ctx, tx, r, domain.StatusExpired, EventReservationExpired); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit consume tx: %w", err)
		}
		return r, ErrAlreadyTerminal
	}

	// The decrement and the status flip commit together or not at all.
	res, err := tx.ExecContext(ctx,
		`UPDATE stock SET quantity_on_hand = quantity_on_hand - $1, updated_at = NOW()
		 WHERE product_id = $2 AND variant_id = $3 AND quantity_on_hand >= $1`,
		r.Quantity, r.ProductID, r.VariantID)
	if err != nil {
		return nil, fmt.Errorf("decrement on-hand stock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("decrement rows affected: %w", err)
	}
	if rows == 0 {
		// concurrent manual stock correction; the reservation stays active
		return nil, ErrInsufficientOnHand
	}

	if err := s.transition(ctx, tx, r, domain.StatusConsumed, EventReservationConsumed); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume tx: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	var r domain.Reservation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, variant_id, quantity, holder_kind, holder_id, status, created_at, expires_at
		 FROM reservations WHERE id = $1`,
		reservationID).Scan(
		&r.ID, &r.ProductID, &r.VariantID, &r.Quantity,
		&r.Holder.Kind, &r.Holder.ID, &r.Status, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) AvailableStock(ctx context.Context, key domain.StockKey) (int32, error) {
	var onHand, held int32
	err := s.db.QueryRowContext(ctx,
		`SELECT s.quantity_on_hand,
		        COALESCE((SELECT SUM(r.quantity) FROM reservations r
		                  WHERE r.product_id = s.product_id AND r.variant_id = s.variant_id
		                    AND r.status = 'active' AND r.expires_at > NOW()), 0)
		 FROM stock s WHERE s.product_id = $1 AND s.variant_id = $2`,
		key.ProductID, key.VariantID).Scan(&onHand, &held)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query available stock: %w", err)
	}
	return domain.StockInfo{OnHand: onHand, Held: held}.Available(), nil
}

func (s *PostgresStore) SetStock(ctx context.Context, key domain.StockKey, quantity int32) error {
	if quantity < 0 {
		return ErrNegativeStock
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stock (product_id, variant_id, quantity_on_hand)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (product_id, variant_id)
		 DO UPDATE SET quantity_on_hand = EXCLUDED.quantity_on_hand, updated_at = NOW()`,
		key.ProductID, key.VariantID, quantity)
	if err != nil {
		return fmt.Errorf("upsert stock: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin expire tx: %w", err)
	}
	defer tx.Rollback()

	// SKIP LOCKED keeps concurrent sweeps and in-flight release/consume
	// transactions from blocking the batch; claimed rows are simply skipped.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, product_id, variant_id, quantity, holder_kind, holder_id, status, created_at, expires_at
		 FROM reservations
		 WHERE status = 'active' AND expires_at <= $1
		 ORDER BY expires_at
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		now, limit)
	if err != nil {
		return 0, fmt.Errorf("select due reservations: %w", err)
	}

	var due []*domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(
			&r.ID, &r.ProductID, &r.VariantID, &r.Quantity,
			&r.Holder.Kind, &r.Holder.ID, &r.Status, &r.CreatedAt, &r.ExpiresAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan due reservation: %w", err)
		}
		due = append(due, &r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate due reservations: %w", err)
	}
	rows.Close()

	if len(due) == 0 {
		return 0, nil
	}

	ids := make([]string, len(due))
	for i, r := range due {
		ids[i] = r.ID
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'expired', updated_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("expire reservations: %w", err)
	}

	for _, r := range due {
		r.Status = domain.StatusExpired
		if err := s.insertEvent(ctx, tx, r, EventReservationExpired); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit expire tx: %w", err)
	}
	return len(due), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// lockReservation fetches a reservation row FOR UPDATE so the caller holds it
// for the rest of the transaction.
func (s *PostgresStore) lockReservation(ctx context.Context, tx *sql.Tx, reservationID string) (*domain.Reservation, error) {
	var r domain.Reservation
	err := tx.QueryRowContext(ctx,
		`SELECT id, product_id, variant_id, quantity, holder_kind, holder_id, status, created_at, expires_at
		 FROM reservations WHERE id = $1 FOR UPDATE`,
		reservationID).Scan(
		&r.ID, &r.ProductID, &r.VariantID, &r.Quantity,
		&r.Holder.Kind, &r.Holder.ID, &r.Status, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock reservation row: %w", err)
	}
	return &r, nil
}

// transition updates the reservation status and records the outbox event in
// the same transaction.
func (s *PostgresStore) transition(ctx context.Context, tx *sql.Tx, r *domain.Reservation, status domain.ReservationStatus, eventType string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), r.ID)
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	r.Status = status
	return s.insertEvent(ctx, tx, r, eventType)
}

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "../../migrations",
	}

	s, err := NewPostgresStore(creds)
	require.NoError(t, err)

	err = s.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		s.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return s, cleanup
}

func TestPostgresStore_ReserveAndAvailability(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, key(1), 5))

	r, available, err := s.Reserve(ctx, key(1), 3, domain.UserHolder("user-1"), testTTL)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, r.Status)
	assert.Equal(t, int32(2), available)

	got, err := s.AvailableStock(ctx, key(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), got)

	_, _, err = s.Reserve(ctx, key(1), 3, domain.UserHolder("user-2"), testTTL)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, _, err = s.Reserve(ctx, key(42), 1, domain.UserHolder("user-1"), testTTL)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestPostgresStore_ConcurrentReservations_NoOversell(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, key(1), 100))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Reserve(ctx, key(1), 20, domain.UserHolder("user"), testTTL)
			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, successCount)

	available, err := s.AvailableStock(ctx, key(1))
	require.NoError(t, err)
	assert.Equal(t, int32(0), available)
}

func TestPostgresStore_Release_Idempotent(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, key(1), 10))
	r, _, err := s.Reserve(ctx, key(1), 4, domain.SessionHolder("sess-1"), testTTL)
	require.NoError(t, err)

	released, err := s.Release(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, released.Status)

	available, _ := s.AvailableStock(ctx, key(1))
	assert.Equal(t, int32(10), available)

	released, err = s.Release(ctx, r.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, domain.StatusReleased, released.Status)

	// still no double-free
	available, _ = s.AvailableStock(ctx, key(1))
	assert.Equal(t, int32(10), available)
}

func TestPostgresStore_Consume(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, key(1), 10))
	r, _, err := s.Reserve(ctx, key(1), 4, domain.UserHolder("user-1"), testTTL)
	require.NoError(t, err)

	consumed, err := s.Consume(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConsumed, consumed.Status)

	available, _ := s.AvailableStock(ctx, key(1))
	assert.Equal(t, int32(6), available)

	// terminal now
	_, err = s.Consume(ctx, r.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestPostgresStore_Consume_OnHandDrift(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, key(1), 10))
	r, _, err := s.Reserve(ctx, key(1), 4, domain.UserHolder("user-1"), testTTL)
	require.NoError(t, err)

	require.NoError(t, s.SetStock(ctx, key(1), 2))

	_, err = s.Consume(ctx, r.ID)
	assert.ErrorIs(t, err, ErrInsufficientOnHand)

	got, err := s.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
}

func TestPostgresStore_AvailableStock_OnHandDrift_NeverNegative(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, key(1), 10))
	_, _, err := s.Reserve(ctx, key(1), 4, domain.UserHolder("user-1"), testTTL)
	require.NoError(t, err)

	// manual correction drops on-hand below the held total
	require.NoError(t, s.SetStock(ctx, key(1), 2))

	available, err := s.AvailableStock(ctx, key(1))
	require.NoError(t, err)
	assert.Equal(t, int32(0), available)

	_, _, err = s.Reserve(ctx, key(1), 1, domain.UserHolder("user-2"), testTTL)
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestPostgresStore_ExpireDue(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, key(1), 10))
	r, _, err := s.Reserve(ctx, key(1), 10, domain.SessionHolder("sess-1"), testTTL)
	require.NoError(t, err)

	count, err := s.ExpireDue(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = s.ExpireDue(ctx, time.Now().UTC().Add(testTTL+time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)

	// freed capacity is reservable again
	_, _, err = s.Reserve(ctx, key(1), 10, domain.UserHolder("user-2"), testTTL)
	assert.NoError(t, err)
}

func TestPostgresStore_Outbox(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, key(1), 10))
	r, _, err := s.Reserve(ctx, key(1), 4, domain.UserHolder("user-1"), testTTL)
	require.NoError(t, err)
	_, err = s.Release(ctx, r.ID)
	require.NoError(t, err)

	events, err := s.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventReservationCreated, events[0].Type)
	assert.Equal(t, EventReservationReleased, events[1].Type)
	assert.Equal(t, r.ID, events[0].ReservationID)
	assert.NotEmpty(t, events[0].Payload)

	require.NoError(t, s.MarkEventAsProcessed(ctx, events[0].ID))

	events, err = s.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventReservationReleased, events[0].Type)
}

func TestPostgresStore_GetReservation_NotFound(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := s.GetReservation(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

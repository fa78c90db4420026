package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/store"
)

// batchStore returns scripted counts from successive ExpireDue calls
type batchStore struct {
	store.ReservationStore
	counts []int
	calls  int
	err    error
}

func (s *batchStore) ExpireDue(_ context.Context, _ time.Time, _ int) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.calls >= len(s.counts) {
		return 0, nil
	}
	n := s.counts[s.calls]
	s.calls++
	return n, nil
}

func TestRun_DrainsFullBatches(t *testing.T) {
	st := &batchStore{counts: []int{3, 3, 1}}
	sw := New(st, zap.NewNop(), 3)

	total, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Equal(t, 3, st.calls)
}

func TestRun_StopsAfterShortBatch(t *testing.T) {
	st := &batchStore{counts: []int{2}}
	sw := New(st, zap.NewNop(), 100)

	total, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, st.calls)
}

func TestRun_NothingDue(t *testing.T) {
	st := &batchStore{}
	sw := New(st, zap.NewNop(), 0) // falls back to the default batch size

	total, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestRun_PropagatesStoreError(t *testing.T) {
	storeErr := errors.New("connection reset")
	st := &batchStore{err: storeErr}
	sw := New(st, zap.NewNop(), 10)

	_, err := sw.Run(context.Background())
	assert.ErrorIs(t, err, storeErr)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sw := New(&batchStore{counts: []int{5}}, zap.NewNop(), 5)
	_, err := sw.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_EndToEnd_MemoryStore(t *testing.T) {
	ms := store.NewMemoryStore()
	t.Cleanup(func() { ms.Close() })
	ctx := context.Background()

	k := domain.StockKey{ProductID: 1}
	require.NoError(t, ms.SetStock(ctx, k, 10))
	_, _, err := ms.Reserve(ctx, k, 10, domain.SessionHolder("sess-1"), -time.Second)
	require.NoError(t, err)

	sw := New(ms, zap.NewNop(), 100)
	total, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	available, err := ms.AvailableStock(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, int32(10), available)
}

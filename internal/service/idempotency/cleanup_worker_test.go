package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

func seedKeys(t *testing.T, repo domain.IdempotencyRepository, prefix string, n int, ttlAt time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.CreateProcessing(context.Background(), fmt.Sprintf("%s-%d", prefix, i), "hash", ttlAt)
		require.NoError(t, err)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestCleanupWorker_SweepRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewIdempotencyRepository()
	seedKeys(t, repo, "expired", 5, now.Add(-time.Hour))
	seedKeys(t, repo, "live", 2, now.Add(time.Hour))

	worker := NewCleanupWorker(repo, WithBatchSize(2), WithClock(fixedClock(now)))

	res, err := worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Deleted)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, now, res.Cutoff)

	// Живые ключи продолжают защищать повтор.
	_, err = repo.CreateProcessing(context.Background(), "live-0", "hash", now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	// Истёкший ключ можно занять заново.
	_, err = repo.CreateProcessing(context.Background(), "expired-0", "hash", now.Add(time.Hour))
	assert.NoError(t, err)
}

func TestCleanupWorker_SweepFreesStuckProcessingKey(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewIdempotencyRepository()
	seedKeys(t, repo, "crashed", 1, start.Add(time.Minute))

	worker := NewCleanupWorker(repo, WithClock(fixedClock(start.Add(2*time.Minute))))
	res, err := worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Batches)
}

func TestCleanupWorker_SweepStopsOnRepositoryError(t *testing.T) {
	t.Parallel()

	repo := &failingCleanupRepo{IdempotencyRepository: memory.NewIdempotencyRepository(), err: errors.New("db down")}
	res, err := NewCleanupWorker(repo).Sweep(context.Background())

	require.EqualError(t, err, "db down")
	assert.Zero(t, res.Deleted)
	assert.Zero(t, res.Batches)
}

func TestCleanupWorker_SweepHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCleanupWorker(memory.NewIdempotencyRepository()).Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanupWorker_OptionsIgnoreInvalidValues(t *testing.T) {
	t.Parallel()

	worker := NewCleanupWorker(nil, WithInterval(-time.Second), WithBatchSize(0), WithLogger(nil), WithClock(nil))
	assert.Equal(t, defaultCleanupInterval, worker.interval)
	assert.Equal(t, defaultCleanupBatchSize, worker.batchSize)
	assert.NotNil(t, worker.logger)
	assert.NotNil(t, worker.now)
}

func TestCleanupWorker_RunWithoutRepoReturns(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCleanupWorker(nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without repository must return immediately")
	}
}

func TestCleanupWorker_RunSweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	repo := &countingCleanupRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	seedKeys(t, repo, "old", 3, time.Now().UTC().Add(-time.Minute))
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return repo.deleted.Load() == 3 && repo.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

type countingCleanupRepo struct {
	*memory.IdempotencyRepository
	calls   atomic.Int64
	deleted atomic.Int64
}

func (r *countingCleanupRepo) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	n, err := r.IdempotencyRepository.DeleteExpired(ctx, before, limit)
	r.calls.Add(1)
	r.deleted.Add(int64(n))
	return n, err
}

type failingCleanupRepo struct {
	*memory.IdempotencyRepository
	err error
}

func (r *failingCleanupRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, r.err
}

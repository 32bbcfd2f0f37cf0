package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

func TestIdempotencyRepository_PostgresStoresOrderResponse(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository(integrationStore(t))
	ttl := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Microsecond)

	created, err := repo.CreateProcessing(ctx, "checkout-1", "hash-1", ttl)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	pending, err := repo.Get(ctx, "checkout-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, pending.Status)
	assert.Empty(t, pending.ResponseBody)
	assert.Zero(t, pending.ResponseCode)

	require.NoError(t, repo.MarkDone(ctx, "checkout-1", []byte(`{"id":"order-1"}`), 201))

	replay, err := repo.CreateProcessing(ctx, "checkout-1", "hash-1", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, domain.IdempotencyStatusDone, replay.Status)
	assert.Equal(t, 201, replay.ResponseCode)
	assert.JSONEq(t, `{"id":"order-1"}`, string(replay.ResponseBody))
	assert.True(t, replay.TTLAt.Equal(ttl), "ttl mismatch: expected %s, got %s", ttl, replay.TTLAt)
}

func TestIdempotencyRepository_PostgresRejectionAndMismatch(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository(integrationStore(t))
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "checkout-2", "hash-a", ttl)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "checkout-2", []byte(`{"error":"insufficient stock"}`), 400))

	existing, err := repo.CreateProcessing(ctx, "checkout-2", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	assert.Equal(t, domain.IdempotencyStatusFailed, existing.Status)

	assert.ErrorIs(t, repo.MarkDone(ctx, "missing", nil, 200), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresReclaimsExpiredKey(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository(integrationStore(t))

	_, err := repo.CreateProcessing(ctx, "checkout-3", "hash-a", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	_, err = repo.Get(ctx, "checkout-3")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	claimed, err := repo.CreateProcessing(ctx, "checkout-3", "hash-b", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "hash-b", claimed.RequestHash)

	got, err := repo.Get(ctx, "checkout-3")
	require.NoError(t, err)
	assert.Equal(t, "hash-b", got.RequestHash)
	assert.Equal(t, domain.IdempotencyStatusProcessing, got.Status)
}

func TestIdempotencyRepository_PostgresDeleteExpiredInBatches(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository(integrationStore(t))
	now := time.Now().UTC()

	for i, key := range []string{"stale-1", "stale-2", "stale-3"} {
		_, err := repo.CreateProcessing(ctx, key, "h", now.Add(-time.Duration(5-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "live", "h", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "live")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "live"))
	require.NoError(t, repo.Delete(ctx, "live"))
	_, err = repo.Get(ctx, "live")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := NewSQLiteCache(context.Background(), WithSQLitePath(filepath.Join(t.TempDir(), "cache.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLiteCacheSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	c, err := NewSQLiteCache(ctx, WithSQLitePath(path))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "validated_price:EURUSD", sample{Price: 1.1712, N: 4}, time.Minute))
	require.NoError(t, c.Close())

	c, err = NewSQLiteCache(ctx, WithSQLitePath(path))
	require.NoError(t, err)
	defer c.Close()

	var got sample
	require.NoError(t, c.Get(ctx, "validated_price:EURUSD", &got))
	assert.Equal(t, 4, got.N)
	assert.InDelta(t, 1.1712, got.Price, 1e-9)
}

func TestSQLiteCacheExpiry(t *testing.T) {
	c := newTestSQLite(t)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "a", 1, time.Second))
	require.NoError(t, c.Set(ctx, "b", 1, time.Hour))

	ttl, err := c.TTL(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, time.Second, ttl)

	c.now = func() time.Time { return now.Add(2 * time.Second) }
	n, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var v int
	assert.ErrorIs(t, c.Get(ctx, "a", &v), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "b", &v))
}

func TestSQLiteCacheGetDeletesExpired(t *testing.T) {
	c := newTestSQLite(t)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "a", 1, time.Second))

	c.now = func() time.Time { return now.Add(time.Minute) }
	var v int
	assert.ErrorIs(t, c.Get(ctx, "a", &v), ErrCacheMiss)

	c.now = func() time.Time { return now }
	assert.ErrorIs(t, c.Get(ctx, "a", &v), ErrCacheMiss)
}

func TestSQLiteCacheDeleteByPattern(t *testing.T) {
	c := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "validated_price:EURUSD", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "validated_price:USDJPY", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "keep", 1, time.Minute))

	require.NoError(t, c.DeleteByPattern(ctx, "validated_price:*"))

	ok, err := c.Exists(ctx, "validated_price:EURUSD", "validated_price:USDJPY")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.Exists(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteCacheRejectsBadTable(t *testing.T) {
	_, err := NewSQLiteCache(context.Background(), WithSQLitePath(":memory:"), WithSQLiteTable("x; drop"))
	assert.Error(t, err)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-ad-beacon/internal/ads"
)

var (
	_ ads.RecencyCache = (*Redis)(nil)
	_ ads.RecencyCache = (*LRU)(nil)
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedis(client)
}

func TestRedisSetGet(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	ids, err := c.GetIDs(ctx, "ad:freq:x")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, c.SetIDs(ctx, "ad:freq:x", []int64{5, 7, 9}, 10*time.Minute))
	ids, err = c.GetIDs(ctx, "ad:freq:x")
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 7, 9}, ids)

	raw, err := mr.Get("ad:freq:x")
	require.NoError(t, err)
	assert.Equal(t, "[5,7,9]", raw)
	assert.Equal(t, 10*time.Minute, mr.TTL("ad:freq:x"))
}

func TestRedisExpiry(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()
	require.NoError(t, c.SetIDs(ctx, "k", []int64{1}, time.Minute))
	mr.FastForward(2 * time.Minute)
	ids, err := c.GetIDs(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisCorruptValueIsEmpty(t *testing.T) {
	mr, c := setupMiniRedis(t)
	require.NoError(t, mr.Set("k", "not-json"))
	ids, err := c.GetIDs(context.Background(), "k")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisUnavailable(t *testing.T) {
	mr, c := setupMiniRedis(t)
	mr.Close()
	_, err := c.GetIDs(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, c.SetIDs(context.Background(), "k", []int64{1}, time.Minute))
}

func TestFrequencyCapOverRedis(t *testing.T) {
	_, c := setupMiniRedis(t)
	ctx := context.Background()
	fc := ads.NewFrequencyCap(c, 10*time.Minute, 3)
	key := ads.ClientKey("10.0.0.2", "ua")
	for _, id := range []int64{9, 7, 5, 4} {
		require.NoError(t, fc.Record(ctx, key, id))
	}
	got, err := fc.Recent(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 7}, got)
}

func TestLRUExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRU(2)
	c.now = func() time.Time { return now }

	require.NoError(t, c.SetIDs(ctx, "a", []int64{1}, time.Minute))
	require.NoError(t, c.SetIDs(ctx, "b", []int64{2}, time.Minute))
	_, _ = c.GetIDs(ctx, "a")
	require.NoError(t, c.SetIDs(ctx, "c", []int64{3}, time.Minute))

	ids, _ := c.GetIDs(ctx, "b")
	assert.Empty(t, ids, "least recently used key evicted")
	ids, _ = c.GetIDs(ctx, "a")
	assert.Equal(t, []int64{1}, ids)
	assert.Equal(t, 2, c.Len())

	now = now.Add(2 * time.Minute)
	ids, _ = c.GetIDs(ctx, "a")
	assert.Empty(t, ids)
	assert.Equal(t, 1, c.Len())
}

package costing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

type cachedView struct {
	Value string `json:"value"`
}

func TestCacheFetchJSONPopulatesAndServes(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (any, error) {
		loads++
		return cachedView{Value: "fresh"}, nil
	}

	key, err := cache.BuildKey(ctx, "costing", "recon", "abc")
	require.NoError(t, err)

	var first cachedView
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	assert.Equal(t, "fresh", first.Value)
	assert.Equal(t, 1, loads)

	var second cachedView
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))
	assert.Equal(t, "fresh", second.Value)
	assert.Equal(t, 1, loads, "second read must hit the cache")
}

func TestCacheBumpChangesKey(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, "costing", "recon", "abc")
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx))

	after, err := cache.BuildKey(ctx, "costing", "recon", "abc")
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "bump must invalidate by changing the key")
}

func TestCacheLoaderErrorPropagates(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	var dest cachedView
	err := cache.FetchJSON(ctx, "k", &dest, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestCacheDisabledFallsThroughToLoader(t *testing.T) {
	cache := NewCache(nil, time.Minute)
	ctx := context.Background()

	loads := 0
	var dest cachedView
	for i := 0; i < 2; i++ {
		require.NoError(t, cache.FetchJSON(ctx, "k", &dest, func(ctx context.Context) (any, error) {
			loads++
			return cachedView{Value: "direct"}, nil
		}))
	}
	assert.Equal(t, "direct", dest.Value)
	assert.Equal(t, 2, loads, "disabled cache always loads")
}

func TestCacheEntriesExpire(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (any, error) {
		loads++
		return cachedView{Value: "v"}, nil
	}
	var dest cachedView
	require.NoError(t, cache.FetchJSON(ctx, "expiring", &dest, loader))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, cache.FetchJSON(ctx, "expiring", &dest, loader))
	assert.Equal(t, 2, loads)
}

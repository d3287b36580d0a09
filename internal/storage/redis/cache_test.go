package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/custom-domains/internal/core"
)

func TestResolutionCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient("redis://" + mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	cache := NewResolutionCache(client, 15*time.Second)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "links.example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	want := core.Resolution{Domain: "links.example.com", IsValid: true, SSLStatus: "active"}
	require.NoError(t, cache.Set(ctx, want))

	got, ok, err := cache.Get(ctx, "links.example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	mr.FastForward(16 * time.Second)
	_, ok, err = cache.Get(ctx, "links.example.com")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire")

	require.NoError(t, cache.Set(ctx, want))
	require.NoError(t, cache.Invalidate(ctx, "links.example.com"))
	_, ok, err = cache.Get(ctx, "links.example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewClientAcceptsBareAddress(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(context.Background()).Err())
}

package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowsWithinRate(t *testing.T) {
	l, err := New("2-M", "test")
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, l.Allow(ctx, "client-1"))
	assert.True(t, l.Allow(ctx, "client-1"))
	assert.False(t, l.Allow(ctx, "client-1"), "third call within the same minute should be throttled")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, err := New("1-M", "test")
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, l.Allow(ctx, "client-a"))
	assert.True(t, l.Allow(ctx, "client-b"), "a different key must have its own budget")
	assert.False(t, l.Allow(ctx, "client-a"))
}

func TestLimiter_InvalidFormat(t *testing.T) {
	_, err := New("not-a-rate", "test")
	assert.Error(t, err)
}

func TestNewRedis_SharesStateAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l1, err := NewRedis("1-M", "test", client)
	require.NoError(t, err)
	l2, err := NewRedis("1-M", "test", client)
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, l1.Allow(ctx, "shared-key"))
	assert.False(t, l2.Allow(ctx, "shared-key"), "a second limiter over the same redis store must see the first limiter's usage")
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx, WithExpiryCheck(time.Millisecond*10))
	defer c.Close()

	found, val, err := c.Get(ctx, "test")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	require.NoError(t, c.Set(ctx, "test", "value", time.Millisecond*50))
	found, val, err = c.Get(ctx, "test")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", val)

	time.Sleep(time.Millisecond * 80)
	found, _, err = c.Get(ctx, "test")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "state", true, time.Minute))
	found, val, err := TakeContext[bool](ctx, c, "state")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, val)

	found, _, err = c.Take(ctx, "state")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryExpire(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.Close()

	ok, err := c.Expire(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", 1, 0))
	ok, err = c.Expire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	found, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetContextTypeMismatch(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", 42, time.Minute))
	_, _, err := GetContext[string](ctx, c, "k")
	assert.ErrorContains(t, err, "cannot convert")
}

func TestInMemoryCloseIdempotent(t *testing.T) {
	c := NewInMemory(context.Background())
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

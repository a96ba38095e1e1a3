package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	_, ok, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "all", []byte(`{"names":{}}`), time.Minute))
	b, ok, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"names":{}}`, string(b))

	require.NoError(t, c.Invalidate(ctx))
	_, ok, _ = c.Get(ctx, "all")
	assert.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	require.NoError(t, c.Set(ctx, "name:alice", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, _ := c.Get(ctx, "name:alice")
	assert.False(t, ok)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGetDelete(t *testing.T) {
	t.Parallel()

	c, err := New(time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "kp1:mkg", []byte(`{"nodes":{}}`)))

	// ristretto applies writes asynchronously through internal buffers.
	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "kp1:mkg")
		return ok
	}, time.Second, 10*time.Millisecond)

	val, ok := c.Get(ctx, "kp1:mkg")
	require.True(t, ok)
	assert.Equal(t, `{"nodes":{}}`, string(val))

	require.NoError(t, c.Delete(ctx, "kp1:mkg"))
	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "kp1:mkg")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCacheMiss(t *testing.T) {
	t.Parallel()

	c, err := New(time.Minute)
	require.NoError(t, err)

	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
}

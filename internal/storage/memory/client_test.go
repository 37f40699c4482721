package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLifecycle(t *testing.T) {
	c := New()
	ctx := context.Background()

	got, err := c.GetToken(ctx, "absent")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, c.SetToken(ctx, "h1", "acc-1", time.Minute))
	got, err = c.GetToken(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got)

	require.NoError(t, c.DeleteToken(ctx, "h1"))
	got, err = c.GetToken(ctx, "h1")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Удаление отсутствующего ключа — не ошибка.
	require.NoError(t, c.DeleteToken(ctx, "h1"))
}

func TestTokenExpiry(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.SetToken(ctx, "h2", "acc-2", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	got, err := c.GetToken(ctx, "h2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRefreshExtendsTTL(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.SetToken(ctx, "h3", "acc-3", 50*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.RefreshToken(ctx, "h3", 200*time.Millisecond))

	time.Sleep(60 * time.Millisecond) // исходный TTL уже вышел
	got, err := c.GetToken(ctx, "h3")
	require.NoError(t, err)
	assert.Equal(t, "acc-3", got)

	// Refresh истёкшего токена не воскрешает его.
	require.NoError(t, c.SetToken(ctx, "h4", "acc-4", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.RefreshToken(ctx, "h4", time.Minute))
	got, err = c.GetToken(ctx, "h4")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCheckRateLimit(t *testing.T) {
	c := New()
	ctx := context.Background()

	for i := 0; i < authRateLimitMax; i++ {
		ok, err := c.CheckRateLimit(ctx, "ident@x.com")
		require.NoError(t, err)
		assert.True(t, ok, "попытка %d должна пройти", i+1)
	}
	ok, err := c.CheckRateLimit(ctx, "ident@x.com")
	require.NoError(t, err)
	assert.False(t, ok)

	// Лимит считается на ключ, другой ключ не задет.
	ok, err = c.CheckRateLimit(ctx, "other@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

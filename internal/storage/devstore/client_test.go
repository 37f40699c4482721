package devstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookforge/internal/model"
	"github.com/bookforge/internal/repository"
)

type fakeReader struct {
	sess *model.Session
	err  error
}

func (f *fakeReader) GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	return f.sess, f.err
}

func TestGetTokenReadsFromDB(t *testing.T) {
	now := time.Now().UTC()
	c := New(&fakeReader{sess: &model.Session{
		ID: "s1", AccountID: "acc-1", TokenHash: "h1",
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}})
	got, err := c.GetToken(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got)
}

func TestGetTokenMissingRow(t *testing.T) {
	c := New(&fakeReader{err: repository.ErrNotFound})
	got, err := c.GetToken(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetTokenExpiredRow(t *testing.T) {
	now := time.Now().UTC()
	c := New(&fakeReader{sess: &model.Session{
		ID: "s2", AccountID: "acc-2", TokenHash: "h2",
		IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}})
	got, err := c.GetToken(context.Background(), "h2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// Недоступная БД не должна маскироваться под "токена нет": ошибка стора
// уходит наверх и превращается в 503, а не в 401.
func TestGetTokenPropagatesStoreError(t *testing.T) {
	c := New(&fakeReader{err: context.DeadlineExceeded})
	_, err := c.GetToken(context.Background(), "h3")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

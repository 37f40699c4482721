package devstore

import (
	"context"
	"errors"
	"time"

	"github.com/bookforge/internal/model"
	"github.com/bookforge/internal/repository"
	"github.com/bookforge/internal/storage/memory"
)

// SessionReader — доступ к таблице sessions (реализуется repository.SessionRepository).
type SessionReader interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
}

// Client реализует TokenStore для режима -dev без Redis: активность токена
// определяется по строке в БД, rate limit в памяти — сессии переживают
// перезапуск сервиса.
type Client struct {
	mem  *memory.Client
	repo SessionReader
}

func New(repo SessionReader) *Client {
	return &Client{mem: memory.New(), repo: repo}
}

func (c *Client) Close() error { return c.mem.Close() }

// SetToken — no-op: строка сессии уже записана в БД до вызова.
func (c *Client) SetToken(ctx context.Context, tokenHash, accountID string, ttl time.Duration) error {
	return nil
}

func (c *Client) GetToken(ctx context.Context, tokenHash string) (string, error) {
	s, err := c.repo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		// Отсутствие строки — просто "токена нет"; остальное (таймаут БД и т.п.)
		// отдаём наверх, чтобы недоступное хранилище не выглядело как 401.
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if s == nil || !s.Active(time.Now().UTC()) {
		return "", nil
	}
	return s.AccountID, nil
}

// RefreshToken — no-op: expires_at продлевает сервис напрямую в БД.
func (c *Client) RefreshToken(ctx context.Context, tokenHash string, ttl time.Duration) error {
	return nil
}

// DeleteToken — no-op: отзыв уже помечен в БД (revoked_at).
func (c *Client) DeleteToken(ctx context.Context, tokenHash string) error {
	return nil
}

func (c *Client) CheckRateLimit(ctx context.Context, key string) (bool, error) {
	return c.mem.CheckRateLimit(ctx, key)
}

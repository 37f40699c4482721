package storage

import (
	"context"
	"time"
)

// TokenStore — кеш активных токенов сессий (по sha256-хешу токена) и
// rate limit на попытки логина/регистрации.
// Реализации: redis.Client, memory.Client (тесты), devstore.Client (режим -dev:
// токены читаются из БД, сессии переживают перезапуск).
type TokenStore interface {
	// SetToken сохраняет хеш активного токена с TTL сессии.
	SetToken(ctx context.Context, tokenHash, accountID string, ttl time.Duration) error
	// GetToken возвращает account_id по хешу токена ("" если токена нет).
	GetToken(ctx context.Context, tokenHash string) (string, error)
	// RefreshToken продлевает TTL (sliding-сессии).
	RefreshToken(ctx context.Context, tokenHash string, ttl time.Duration) error
	DeleteToken(ctx context.Context, tokenHash string) error
	// CheckRateLimit ограничивает попытки аутентификации по ключу (identity или IP).
	CheckRateLimit(ctx context.Context, key string) (allowed bool, err error)
	Close() error
}

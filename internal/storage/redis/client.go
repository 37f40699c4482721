package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rate limit: 10 попыток логина/регистрации за 10 минут на ключ (identity или IP).
const (
	AuthRateLimitWindow = 600
	AuthRateLimitMax    = 10
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetToken сохраняет account_id по ключу session:{token_hash} с TTL сессии.
// TTL снимает истёкшие токены сам — отдельной очистки кеша не нужно.
func (c *Client) SetToken(ctx context.Context, tokenHash, accountID string, ttl time.Duration) error {
	return c.cli.Set(ctx, "session:"+tokenHash, accountID, ttl).Err()
}

func (c *Client) GetToken(ctx context.Context, tokenHash string) (string, error) {
	val, err := c.cli.Get(ctx, "session:"+tokenHash).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// RefreshToken продлевает TTL ключа (sliding-сессии). Отсутствующий ключ — не ошибка.
func (c *Client) RefreshToken(ctx context.Context, tokenHash string, ttl time.Duration) error {
	return c.cli.Expire(ctx, "session:"+tokenHash, ttl).Err()
}

func (c *Client) DeleteToken(ctx context.Context, tokenHash string) error {
	return c.cli.Del(ctx, "session:"+tokenHash).Err()
}

// CheckRateLimit проверяет auth_limit:{key}: макс. AuthRateLimitMax попыток за окно.
// При превышении — HTTP 429.
func (c *Client) CheckRateLimit(ctx context.Context, key string) (allowed bool, err error) {
	k := "auth_limit:" + key
	n, err := c.cli.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, k, AuthRateLimitWindow*time.Second)
	}
	return n <= int64(AuthRateLimitMax), nil
}

package memory

import (
	"context"
	"sync"
	"time"
)

const (
	authRateLimitWindow = 600 * time.Second
	authRateLimitMax    = 10
)

type item struct {
	val string
	exp time.Time
}

// Client — TokenStore в памяти. Используется в тестах; истечение проверяется
// при чтении, без фоновой очистки.
type Client struct {
	mu     sync.RWMutex
	tokens map[string]item
	limit  map[string][]time.Time
}

func New() *Client {
	return &Client{
		tokens: make(map[string]item),
		limit:  make(map[string][]time.Time),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetToken(ctx context.Context, tokenHash, accountID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[tokenHash] = item{val: accountID, exp: time.Now().Add(ttl)}
	return nil
}

func (c *Client) GetToken(ctx context.Context, tokenHash string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.tokens[tokenHash]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) RefreshToken(ctx context.Context, tokenHash string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.tokens[tokenHash]
	if !ok || time.Now().After(v.exp) {
		return nil
	}
	v.exp = time.Now().Add(ttl)
	c.tokens[tokenHash] = v
	return nil
}

func (c *Client) DeleteToken(ctx context.Context, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, tokenHash)
	return nil
}

func (c *Client) CheckRateLimit(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cut := now.Add(-authRateLimitWindow)
	slice := c.limit[key]
	var kept []time.Time
	for _, t := range slice {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= authRateLimitMax {
		return false, nil
	}
	kept = append(kept, now)
	c.limit[key] = kept
	return true, nil
}

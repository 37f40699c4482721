package middleware

import (
	"context"

	"github.com/bookforge/internal/model"
)

type contextKey string

const (
	accountKey   contextKey = "account"
	sessionIDKey contextKey = "session_id"
)

// GetAccount возвращает аккаунт из контекста (устанавливается SessionAuth).
func GetAccount(ctx context.Context) *model.Account {
	v, _ := ctx.Value(accountKey).(*model.Account)
	return v
}

// GetSessionID возвращает id сессии из контекста.
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bookforge/internal/config"
	"github.com/bookforge/internal/model"
	"github.com/bookforge/internal/service"
)

// TokenValidator — разрешение токена в аккаунт (реализуется service.AuthService).
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*model.Account, *model.Session, error)
}

// ExtractToken достаёт токен согласно настроенному транспорту:
// Authorization: Bearer и/или HttpOnly-cookie. Пустая строка — токена нет.
func ExtractToken(r *http.Request, sc config.SessionConfig) string {
	if sc.TokenTransport == "header" || sc.TokenTransport == "both" {
		h := r.Header.Get("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			if tok := strings.TrimSpace(h[len("Bearer "):]); tok != "" {
				return tok
			}
		}
	}
	if sc.TokenTransport == "cookie" || sc.TokenTransport == "both" {
		if c, err := r.Cookie(sc.CookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// SessionAuth проверяет токен и кладёт аккаунт и id сессии в контекст.
// Ошибки валидации не детализируются клиенту — всегда "unauthorized".
func SessionAuth(v TokenValidator, sc config.SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r, sc)
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			acct, sess, err := v.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, service.ErrUnavailable) {
					http.Error(w, `{"error":"temporarily unavailable"}`, http.StatusServiceUnavailable)
					return
				}
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), accountKey, acct)
			ctx = context.WithValue(ctx, sessionIDKey, sess.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

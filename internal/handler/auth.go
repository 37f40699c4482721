package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bookforge/internal/config"
	"github.com/bookforge/internal/logger"
	"github.com/bookforge/internal/middleware"
	"github.com/bookforge/internal/service"
)

type AuthHandler struct {
	svc *service.AuthService
	sc  config.SessionConfig
}

func NewAuthHandler(svc *service.AuthService, sc config.SessionConfig) *AuthHandler {
	return &AuthHandler{svc: svc, sc: sc}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acct, err := h.svc.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			// Текст sentinel-ошибки описывает только формат входа, внутренних деталей нет.
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrDuplicateIdentity):
			writeError(w, http.StatusConflict, "identity already registered")
		case errors.Is(err, service.ErrRateLimitExceeded):
			writeError(w, http.StatusTooManyRequests, "too many requests")
		case errors.Is(err, service.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		default:
			logger.Errorf("register failed: %v", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, acct.ToPublic())
}

type loginRequest struct {
	Identity   string `json:"identity"`
	Credential string `json:"credential"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, sess, err := h.svc.Login(r.Context(), req.Identity, req.Credential)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			// Одинаковый код и тело для "нет аккаунта" и "неверный пароль".
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, service.ErrRateLimitExceeded):
			writeError(w, http.StatusTooManyRequests, "too many requests")
		case errors.Is(err, service.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		default:
			logger.Errorf("login failed: %v", err)
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}
	if h.sc.TokenTransport == "cookie" || h.sc.TokenTransport == "both" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.sc.CookieName,
			Value:    token,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			HttpOnly: true,
			Secure:   h.sc.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: sess.ExpiresAt})
}

type whoamiResponse struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
}

// Whoami отдаёт публичный вид аккаунта; аккаунт кладёт в контекст SessionAuth.
func (h *AuthHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	acct := middleware.GetAccount(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, whoamiResponse{Identity: acct.Identity, DisplayName: acct.DisplayName})
}

// Logout отзывает сессию. Всегда 204: повторный выход и неизвестный токен — не ошибка.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.ExtractToken(r, h.sc)
	if token == "" {
		// Токен можно передать и в теле (фронт без куки и заголовка).
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.Token
		}
	}
	h.svc.Logout(r.Context(), token)
	if h.sc.TokenTransport == "cookie" || h.sc.TokenTransport == "both" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.sc.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.sc.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	acct := middleware.GetAccount(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.svc.ListSessions(r.Context(), acct.ID)
	if err != nil {
		if errors.Is(err, service.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			return
		}
		logger.Errorf("list sessions: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}
	// current_session_id позволяет фронту пометить текущее устройство в списке.
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":           list,
		"current_session_id": middleware.GetSessionID(r.Context()),
	})
}

func (h *AuthHandler) LogoutAllSessions(w http.ResponseWriter, r *http.Request) {
	acct := middleware.GetAccount(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	n, err := h.svc.LogoutAll(r.Context(), acct.ID)
	if err != nil {
		if errors.Is(err, service.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			return
		}
		logger.Errorf("logout all: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	AccountID string `json:"account_id"`
	Identity  string `json:"identity"`
}

// ValidateToken — внутренний эндпоинт для других сервисов платформы
// (экспорт, рендеринг): разрешает токен в аккаунт. POST /internal/validate.
func ValidateToken(svc *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		acct, _, err := svc.Validate(r.Context(), req.Token)
		if err != nil {
			if errors.Is(err, service.ErrUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, validateResponse{AccountID: acct.ID, Identity: acct.Identity})
	}
}

// DeleteAccount — административное удаление аккаунта со всеми сессиями.
// DELETE /internal/accounts/{identity}.
func DeleteAccount(svc *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")
		ok, err := svc.DeleteAccount(r.Context(), identity)
		if err != nil {
			if errors.Is(err, service.ErrUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
				return
			}
			logger.Errorf("delete account: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to delete account")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

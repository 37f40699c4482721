package model

import "time"

// Session — серверная сессия. Сам токен не хранится: в БД лежит только
// sha256-хеш (TokenHash), оригинал отдаётся клиенту один раз при логине.
type Session struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	TokenHash string     `json:"-"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active сообщает, действительна ли сессия на момент now.
// Проверка истечения выполняется здесь, а не только фоновой очисткой.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

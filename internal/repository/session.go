package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookforge/internal/logger"
	"github.com/bookforge/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionCols = `id, account_id, token_hash, issued_at, expires_at, revoked_at`

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(s interface{ Scan(dest ...any) error }, sess *model.Session) error {
	return s.Scan(&sess.ID, &sess.AccountID, &sess.TokenHash, &sess.IssuedAt, &sess.ExpiresAt, &sess.RevokedAt)
}

func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	defer logger.DeferLogDuration("session.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, account_id, token_hash, issued_at, expires_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, NULL)`,
		s.ID, s.AccountID, s.TokenHash, s.IssuedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}
	return nil
}

// GetByTokenHash возвращает сессию только если она не отозвана (revoked_at IS NULL).
// Проверку истечения делает вызывающий код по часам на момент запроса.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	defer logger.DeferLogDuration("session.GetByTokenHash", time.Now())()
	s := &model.Session{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash)
	if err := scanSession(row, s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionRepo.GetByTokenHash: %w", err)
	}
	return s, nil
}

// ExtendExpiry сдвигает expires_at (sliding-продление при успешной валидации).
func (r *SessionRepository) ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	defer logger.DeferLogDuration("session.ExtendExpiry", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET expires_at = $1 WHERE id = $2 AND revoked_at IS NULL`, expiresAt, id)
	if err != nil {
		return fmt.Errorf("sessionRepo.ExtendExpiry: %w", err)
	}
	return nil
}

// RevokeByTokenHash помечает сессию отозванной. Идемпотентно: повторный отзыв
// или неизвестный токен — не ошибка, возвращается false.
func (r *SessionRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	defer logger.DeferLogDuration("session.RevokeByTokenHash", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash)
	if err != nil {
		return false, fmt.Errorf("sessionRepo.RevokeByTokenHash: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeByAccountID отзывает все сессии аккаунта. Возвращает token_hash
// отозванных сессий для очистки кеша токенов.
func (r *SessionRepository) RevokeByAccountID(ctx context.Context, accountID string) ([]string, error) {
	defer logger.DeferLogDuration("session.RevokeByAccountID", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT token_hash FROM sessions WHERE account_id = $1 AND revoked_at IS NULL`, accountID)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.RevokeByAccountID: %w", err)
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("sessionRepo.RevokeByAccountID scan: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.RevokeByAccountID rows: %w", err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE account_id = $1 AND revoked_at IS NULL`, accountID)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.RevokeByAccountID update: %w", err)
	}
	return hashes, nil
}

// ListActiveByAccountID — неотозванные и неистёкшие сессии аккаунта
// (включая token_hash, нужен для очистки кеша при удалении аккаунта).
func (r *SessionRepository) ListActiveByAccountID(ctx context.Context, accountID string) ([]model.Session, error) {
	defer logger.DeferLogDuration("session.ListActiveByAccountID", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > NOW()
		 ORDER BY issued_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListActiveByAccountID: %w", err)
	}
	defer rows.Close()
	var list []model.Session
	for rows.Next() {
		var s model.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, fmt.Errorf("sessionRepo.ListActiveByAccountID scan: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// DeleteExpired удаляет истёкшие и отозванные строки (фоновая очистка).
// Валидация на неё не опирается: истечение проверяется при каждом validate.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer logger.DeferLogDuration("session.DeleteExpired", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at <= $1 OR revoked_at IS NOT NULL`, now)
	if err != nil {
		return 0, fmt.Errorf("sessionRepo.DeleteExpired: %w", err)
	}
	return tag.RowsAffected(), nil
}

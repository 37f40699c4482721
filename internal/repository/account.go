package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookforge/internal/logger"
	"github.com/bookforge/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate — нарушение уникальности identity (23505).
	// Уникальный индекс БД сериализует конкурирующие регистрации: из двух
	// одновременных create ровно один проходит.
	ErrDuplicate = errors.New("duplicate identity")
)

const accountCols = `id, identity, display_name, password_hash, created_at`

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// scanAccount сканирует строку в model.Account (порядок соответствует accountCols).
func scanAccount(s interface{ Scan(dest ...any) error }, a *model.Account) error {
	return s.Scan(&a.ID, &a.Identity, &a.DisplayName, &a.PasswordHash, &a.CreatedAt)
}

// Create вставляет аккаунт. Identity должна быть уже нормализована вызывающим кодом.
func (r *AccountRepository) Create(ctx context.Context, a *model.Account) error {
	defer logger.DeferLogDuration("account.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, identity, display_name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Identity, a.DisplayName, a.PasswordHash, a.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("accountRepo.Create: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	defer logger.DeferLogDuration("account.GetByID", time.Now())()
	a := &model.Account{}
	row := r.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id)
	if err := scanAccount(row, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("accountRepo.GetByID: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetByIdentity(ctx context.Context, identity string) (*model.Account, error) {
	defer logger.DeferLogDuration("account.GetByIdentity", time.Now())()
	a := &model.Account{}
	row := r.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE identity = $1`, identity)
	if err := scanAccount(row, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("accountRepo.GetByIdentity: %w", err)
	}
	return a, nil
}

// DeleteByIdentity удаляет аккаунт (административно). Сессии удаляет каскад
// ON DELETE CASCADE; очистку кеша токенов делает вызывающий код.
func (r *AccountRepository) DeleteByIdentity(ctx context.Context, identity string) (bool, error) {
	defer logger.DeferLogDuration("account.DeleteByIdentity", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE identity = $1`, identity)
	if err != nil {
		return false, fmt.Errorf("accountRepo.DeleteByIdentity: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

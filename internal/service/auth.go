package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bookforge/internal/email"
	"github.com/bookforge/internal/logger"
	"github.com/bookforge/internal/model"
	"github.com/bookforge/internal/password"
	"github.com/bookforge/internal/repository"
	"github.com/bookforge/internal/storage"
	"github.com/google/uuid"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateIdentity = errors.New("identity already registered")
	// ErrInvalidCredentials — единый ответ на "аккаунта нет" и "пароль неверный",
	// чтобы логин не служил оракулом существования email.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionInvalid     = errors.New("session invalid")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	// ErrUnavailable — хранилище не ответило в таймаут; клиент может повторить.
	ErrUnavailable = errors.New("storage unavailable")
)

// AccountRepo и SessionRepo — границы хранилища учётных записей и сессий;
// в тестах подменяются in-memory реализациями.
type AccountRepo interface {
	Create(ctx context.Context, a *model.Account) error
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByIdentity(ctx context.Context, identity string) (*model.Account, error)
	DeleteByIdentity(ctx context.Context, identity string) (bool, error)
}

type SessionRepo interface {
	Create(ctx context.Context, s *model.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
	ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) (bool, error)
	RevokeByAccountID(ctx context.Context, accountID string) ([]string, error)
	ListActiveByAccountID(ctx context.Context, accountID string) ([]model.Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Options — политика сессий и валидации.
type Options struct {
	SessionTTL time.Duration
	// Sliding: продлевать expires_at при каждой успешной валидации.
	// false — абсолютное истечение от issued_at.
	Sliding             bool
	MinCredentialLength int
	StoreTimeout        time.Duration
}

type AuthService struct {
	accounts AccountRepo
	sessions SessionRepo
	store    storage.TokenStore
	mailer   *email.Sender // nil — письма отключены
	opts     Options
}

func NewAuthService(accounts AccountRepo, sessions SessionRepo, store storage.TokenStore, mailer *email.Sender, opts Options) *AuthService {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * 7 * time.Hour
	}
	if opts.MinCredentialLength <= 0 {
		opts.MinCredentialLength = 8
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &AuthService{accounts: accounts, sessions: sessions, store: store, mailer: mailer, opts: opts}
}

// Валидация identity: допустимый формат email (упрощённый, без полного RFC).
var identityRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeIdentity приводит identity к каноничному виду: trim, нижний регистр,
// замена кириллических букв-двойников на латинские (вставка из буфера не
// должна создавать "второй" аккаунт с визуально тем же email).
func NormalizeIdentity(s string) string {
	const (
		cyrO = 'о' // о
		cyrA = 'а' // а
		cyrE = 'е' // е
		cyrP = 'р' // р
		cyrC = 'с' // с
		cyrX = 'х' // х
		cyrY = 'у' // у
	)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(strings.ToLower(s)) {
		switch r {
		case cyrO:
			b.WriteByte('o')
		case cyrA:
			b.WriteByte('a')
		case cyrE:
			b.WriteByte('e')
		case cyrP:
			b.WriteByte('p')
		case cyrC:
			b.WriteByte('c')
		case cyrX:
			b.WriteByte('x')
		case cyrY:
			b.WriteByte('y')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dummyHash — хеш случайного пароля; Verify по нему выполняется, когда аккаунт
// не найден, чтобы время ответа не отличалось от случая "неверный пароль".
var dummyHash = password.DummyHash()

func maskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// newToken генерирует 32 байта из crypto/rand (256 бит энтропии, base64url).
// Токен никак не выводится из identity или времени.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// storeCtx ограничивает операцию хранилища таймаутом; ни один запрос не висит
// дольше StoreTimeout на одной операции БД/Redis.
func (s *AuthService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// mapStoreErr переводит таймаут хранилища в ErrUnavailable (безопасно повторить).
// Отмена клиентом (context.Canceled) остаётся как есть — результат отброшен.
func mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

type RegisterRequest struct {
	Identity    string `json:"identity"`
	Credential  string `json:"credential"`
	DisplayName string `json:"display_name"`
}

// Register создаёт аккаунт. Открытый пароль живёт только до password.Hash.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.Account, error) {
	identity := NormalizeIdentity(req.Identity)
	if identity == "" || !identityRegexp.MatchString(identity) {
		return nil, fmt.Errorf("%w: identity must be a valid email", ErrValidation)
	}
	if len(req.Credential) < s.opts.MinCredentialLength {
		return nil, fmt.Errorf("%w: credential must be at least %d characters", ErrValidation, s.opts.MinCredentialLength)
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = deriveDisplayName(identity)
	}

	sctx, cancel := s.storeCtx(ctx)
	allowed, err := s.store.CheckRateLimit(sctx, identity)
	cancel()
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !allowed {
		return nil, ErrRateLimitExceeded
	}

	hash, err := password.Hash(req.Credential)
	if err != nil {
		return nil, err
	}
	acct := &model.Account{
		ID:           uuid.New().String(),
		Identity:     identity,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	sctx, cancel = s.storeCtx(ctx)
	err = s.accounts.Create(sctx, acct)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateIdentity
		}
		return nil, mapStoreErr(err)
	}
	logger.Infof("register: создан аккаунт %s", acct.ID)

	if s.mailer != nil {
		// Приветственное письмо — best-effort, регистрацию не блокирует.
		go func(to, name string) {
			mctx, mcancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer mcancel()
			if err := s.mailer.SendWelcome(mctx, to, name); err != nil {
				logger.Errorf("register: welcome email для %s: %v", to, err)
			}
		}(acct.Identity, acct.DisplayName)
	}
	return acct, nil
}

// deriveDisplayName берёт локальную часть email, когда display_name не задан.
func deriveDisplayName(identity string) string {
	at := strings.Index(identity, "@")
	if at <= 0 {
		return identity
	}
	return strings.ReplaceAll(identity[:at], ".", " ")
}

// Login проверяет пароль и выпускает сессию. Возвращает токен (единственный
// раз, дальше хранится только хеш) и сессию.
func (s *AuthService) Login(ctx context.Context, identityRaw, credential string) (string, *model.Session, error) {
	identity := NormalizeIdentity(identityRaw)
	if identity == "" || credential == "" {
		return "", nil, ErrInvalidCredentials
	}

	sctx, cancel := s.storeCtx(ctx)
	allowed, err := s.store.CheckRateLimit(sctx, identity)
	cancel()
	if err != nil {
		return "", nil, mapStoreErr(err)
	}
	if !allowed {
		return "", nil, ErrRateLimitExceeded
	}

	sctx, cancel = s.storeCtx(ctx)
	acct, err := s.accounts.GetByIdentity(sctx, identity)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Аккаунта нет — всё равно считаем argon2, иначе быстрый отказ
			// выдаёт отсутствие по времени ответа.
			_, _ = password.Verify(credential, dummyHash)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, mapStoreErr(err)
	}

	ok, err := password.Verify(credential, acct.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrCorruptHash) {
			// Повреждённый хеш — аномалия целостности: логируем, клиенту обычный отказ.
			logger.Errorf("login: повреждённый password_hash у аккаунта %s", acct.ID)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	sess := &model.Session{
		ID:        uuid.New().String(),
		AccountID: acct.ID,
		TokenHash: hashToken(token),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}
	sctx, cancel = s.storeCtx(ctx)
	err = s.sessions.Create(sctx, sess)
	cancel()
	if err != nil {
		return "", nil, mapStoreErr(err)
	}
	sctx, cancel = s.storeCtx(ctx)
	err = s.store.SetToken(sctx, sess.TokenHash, acct.ID, s.opts.SessionTTL)
	cancel()
	if err != nil {
		// Кеш не записался — откатываем строку, иначе validate будет отвечать 401.
		if _, revErr := s.sessions.RevokeByTokenHash(context.Background(), sess.TokenHash); revErr != nil {
			logger.Errorf("login: rollback revoke session %s: %v", sess.ID, revErr)
		}
		return "", nil, mapStoreErr(err)
	}
	return token, sess, nil
}

// Validate разрешает токен в аккаунт. Истечение всегда проверяется здесь по
// текущим часам — фоновая очистка не является источником истины.
func (s *AuthService) Validate(ctx context.Context, token string) (*model.Account, *model.Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil, ErrSessionInvalid
	}
	tokenHash := hashToken(token)

	sctx, cancel := s.storeCtx(ctx)
	accountID, err := s.store.GetToken(sctx, tokenHash)
	cancel()
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	if accountID == "" {
		return nil, nil, ErrSessionInvalid
	}

	sctx, cancel = s.storeCtx(ctx)
	sess, err := s.sessions.GetByTokenHash(sctx, tokenHash)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrSessionInvalid
		}
		return nil, nil, mapStoreErr(err)
	}
	now := time.Now().UTC()
	if !sess.Active(now) {
		// Истёкшая запись, до которой ещё не дошла очистка, — всё равно 401.
		if delErr := s.store.DeleteToken(context.Background(), tokenHash); delErr != nil {
			logger.Errorf("validate: DeleteToken %s: %v", maskToken(tokenHash), delErr)
		}
		return nil, nil, ErrSessionInvalid
	}

	sctx, cancel = s.storeCtx(ctx)
	acct, err := s.accounts.GetByID(sctx, sess.AccountID)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Аккаунт удалён — сессия не должна его переживать.
			return nil, nil, ErrSessionInvalid
		}
		return nil, nil, mapStoreErr(err)
	}

	if s.opts.Sliding {
		newExpiry := now.Add(s.opts.SessionTTL)
		if err := s.sessions.ExtendExpiry(ctx, sess.ID, newExpiry); err != nil {
			logger.Errorf("validate: ExtendExpiry session %s: %v", sess.ID, err)
		} else {
			sess.ExpiresAt = newExpiry
			if err := s.store.RefreshToken(ctx, tokenHash, s.opts.SessionTTL); err != nil {
				logger.Errorf("validate: RefreshToken %s: %v", maskToken(tokenHash), err)
			}
		}
	}
	return acct, sess, nil
}

// Logout отзывает сессию. Идемпотентно: повторный выход и неизвестный токен —
// не ошибка, клиент всегда получает успех.
func (s *AuthService) Logout(ctx context.Context, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	tokenHash := hashToken(token)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if _, err := s.sessions.RevokeByTokenHash(sctx, tokenHash); err != nil {
		logger.Errorf("logout: RevokeByTokenHash %s: %v", maskToken(tokenHash), err)
	}
	if err := s.store.DeleteToken(sctx, tokenHash); err != nil {
		logger.Errorf("logout: DeleteToken %s: %v", maskToken(tokenHash), err)
	}
}

// ListSessions возвращает активные сессии аккаунта (для страницы "устройства").
func (s *AuthService) ListSessions(ctx context.Context, accountID string) ([]model.Session, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	list, err := s.sessions.ListActiveByAccountID(sctx, accountID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return list, nil
}

// LogoutAll отзывает все сессии аккаунта. Возвращает число отозванных.
func (s *AuthService) LogoutAll(ctx context.Context, accountID string) (int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	hashes, err := s.sessions.RevokeByAccountID(sctx, accountID)
	cancel()
	if err != nil {
		return 0, mapStoreErr(err)
	}
	for _, h := range hashes {
		if err := s.store.DeleteToken(ctx, h); err != nil {
			logger.Errorf("logout-all: DeleteToken %s: %v", maskToken(h), err)
		}
	}
	return int64(len(hashes)), nil
}

// DeleteAccount — административное удаление. Сначала отзываются все сессии
// (сессия не переживает аккаунт), затем удаляется строка; каскад чистит БД.
func (s *AuthService) DeleteAccount(ctx context.Context, identityRaw string) (bool, error) {
	identity := NormalizeIdentity(identityRaw)
	sctx, cancel := s.storeCtx(ctx)
	acct, err := s.accounts.GetByIdentity(sctx, identity)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, mapStoreErr(err)
	}
	if _, err := s.LogoutAll(ctx, acct.ID); err != nil {
		return false, err
	}
	sctx, cancel = s.storeCtx(ctx)
	defer cancel()
	ok, err := s.accounts.DeleteByIdentity(sctx, identity)
	if err != nil {
		return false, mapStoreErr(err)
	}
	if ok {
		logger.Infof("admin: удалён аккаунт %s", acct.ID)
	}
	return ok, nil
}

// RunSweeper периодически удаляет истёкшие и отозванные сессии из БД.
// Запускается из main отдельной горутиной; останавливается отменой ctx.
func (s *AuthService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := s.sessions.DeleteExpired(sctx, time.Now().UTC())
			cancel()
			if err != nil {
				logger.Errorf("sweeper: %v", err)
				continue
			}
			if n > 0 {
				logger.Infof("sweeper: удалено %d истёкших сессий", n)
			}
		}
	}
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookforge/internal/model"
	"github.com/bookforge/internal/repository"
	"github.com/bookforge/internal/storage/memory"
)

// --- fakes ---

type fakeAccountRepo struct {
	mu         sync.Mutex
	byIdentity map[string]*model.Account
	byID       map[string]*model.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		byIdentity: make(map[string]*model.Account),
		byID:       make(map[string]*model.Account),
	}
}

// Create повторяет семантику уникального индекса: проверка и вставка под одним
// локом — из конкурирующих вызовов с одной identity выигрывает ровно один.
func (f *fakeAccountRepo) Create(ctx context.Context, a *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byIdentity[a.Identity]; ok {
		return repository.ErrDuplicate
	}
	cp := *a
	f.byIdentity[a.Identity] = &cp
	f.byID[a.ID] = &cp
	return nil
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccountRepo) GetByIdentity(ctx context.Context, identity string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byIdentity[identity]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccountRepo) DeleteByIdentity(ctx context.Context, identity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byIdentity[identity]
	if !ok {
		return false, nil
	}
	delete(f.byIdentity, identity)
	delete(f.byID, a.ID)
	return true, nil
}

func (f *fakeAccountRepo) storedHash(identity string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.byIdentity[identity]; ok {
		return a.PasswordHash
	}
	return ""
}

func (f *fakeAccountRepo) put(a *model.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.byIdentity[a.Identity] = &cp
	f.byID[a.ID] = &cp
}

type fakeSessionRepo struct {
	mu     sync.Mutex
	byHash map[string]*model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byHash: make(map[string]*model.Session)}
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.byHash[s.TokenHash] = &cp
	return nil
}

func (f *fakeSessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byHash[tokenHash]
	if !ok || s.RevokedAt != nil {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byHash {
		if s.ID == id && s.RevokedAt == nil {
			s.ExpiresAt = expiresAt
		}
	}
	return nil
}

func (f *fakeSessionRepo) RevokeByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byHash[tokenHash]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	s.RevokedAt = &now
	return true, nil
}

func (f *fakeSessionRepo) RevokeByAccountID(ctx context.Context, accountID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	var hashes []string
	for h, s := range f.byHash {
		if s.AccountID == accountID && s.RevokedAt == nil {
			s.RevokedAt = &now
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

func (f *fakeSessionRepo) ListActiveByAccountID(ctx context.Context, accountID string) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	var list []model.Session
	for _, s := range f.byHash {
		if s.AccountID == accountID && s.Active(now) {
			list = append(list, *s)
		}
	}
	return list, nil
}

func (f *fakeSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, s := range f.byHash {
		if !s.ExpiresAt.After(now) || s.RevokedAt != nil {
			delete(f.byHash, h)
			n++
		}
	}
	return n, nil
}

func newTestService(opts Options) (*AuthService, *fakeAccountRepo, *fakeSessionRepo) {
	accounts := newFakeAccountRepo()
	sessions := newFakeSessionRepo()
	svc := NewAuthService(accounts, sessions, memory.New(), nil, opts)
	return svc, accounts, sessions
}

// --- tests ---

func TestRegisterLoginWhoamiRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(Options{})
	ctx := context.Background()

	acct, err := svc.Register(ctx, RegisterRequest{
		Identity: "Reader@Books.example", Credential: "long enough", DisplayName: "Читатель",
	})
	require.NoError(t, err)
	assert.Equal(t, "reader@books.example", acct.Identity)
	assert.Equal(t, "Читатель", acct.DisplayName)
	assert.NotEmpty(t, acct.ID)

	token, sess, err := svc.Login(ctx, "reader@books.example", "long enough")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.True(t, sess.ExpiresAt.After(time.Now()))

	got, gotSess, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, "Читатель", got.DisplayName)
	assert.Equal(t, sess.ID, gotSess.ID)
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	svc, _, _ := newTestService(Options{})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Identity: "user@x.com", Credential: "password1"})
	require.NoError(t, err)

	// Различие только в регистре и пробелах — та же identity.
	_, err = svc.Register(ctx, RegisterRequest{Identity: "  USER@X.com ", Credential: "password2"})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(Options{MinCredentialLength: 8})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Identity: "not-an-email", Credential: "password1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Register(ctx, RegisterRequest{Identity: "user@x.com", Credential: "short"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoginInvalidCredentialsGeneric(t *testing.T) {
	svc, accounts, _ := newTestService(Options{})
	ctx := context.Background()

	const pw = "correct-password"
	_, err := svc.Register(ctx, RegisterRequest{Identity: "known@x.com", Credential: pw})
	require.NoError(t, err)

	// Хранится только хеш, открытого пароля в записи нет.
	assert.NotContains(t, accounts.storedHash("known@x.com"), pw)

	_, _, err = svc.Login(ctx, "known@x.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Неизвестный аккаунт — та же ошибка, существование не раскрывается.
	_, _, err = svc.Login(ctx, "unknown@x.com", "any-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCorruptHashTreatedAsVerificationFailure(t *testing.T) {
	svc, accounts, _ := newTestService(Options{})
	ctx := context.Background()

	accounts.put(&model.Account{
		ID: "a1", Identity: "broken@x.com", DisplayName: "b",
		PasswordHash: "this-is-not-a-phc-string", CreatedAt: time.Now().UTC(),
	})
	_, _, err := svc.Login(ctx, "broken@x.com", "whatever-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionExpiry(t *testing.T) {
	svc, _, _ := newTestService(Options{SessionTTL: 60 * time.Millisecond, Sliding: false})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Identity: "exp@x.com", Credential: "password1"})
	require.NoError(t, err)
	token, _, err := svc.Login(ctx, "exp@x.com", "password1")
	require.NoError(t, err)

	_, _, err = svc.Validate(ctx, token)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	_, _, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSlidingExtendsExpiry(t *testing.T) {
	svc, _, _ := newTestService(Options{SessionTTL: 300 * time.Millisecond, Sliding: true})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Identity: "slide@x.com", Credential: "password1"})
	require.NoError(t, err)
	token, _, err := svc.Login(ctx, "slide@x.com", "password1")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	_, _, err = svc.Validate(ctx, token) // продлевает expires_at
	require.NoError(t, err)

	// Суммарно прошло больше исходного TTL, но сессия продлена.
	time.Sleep(200 * time.Millisecond)
	_, _, err = svc.Validate(ctx, token)
	assert.NoError(t, err)
}

func TestLogoutIdempotent(t *testing.T) {
	svc, _, _ := newTestService(Options{})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Identity: "out@x.com", Credential: "password1"})
	require.NoError(t, err)
	token, _, err := svc.Login(ctx, "out@x.com", "password1")
	require.NoError(t, err)

	svc.Logout(ctx, token)
	_, _, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	// Повторный выход и неизвестный токен — не ошибка.
	svc.Logout(ctx, token)
	svc.Logout(ctx, "nonexistent-token")
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(Options{})
	ctx := context.Background()

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(ctx, RegisterRequest{Identity: "race@x.com", Credential: "password1"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var okCount, dupCount int
	for err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrDuplicateIdentity):
			dupCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, n-1, dupCount)
}

func TestDeleteAccountInvalidatesSessions(t *testing.T) {
	svc, _, _ := newTestService(Options{})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Identity: "gone@x.com", Credential: "password1"})
	require.NoError(t, err)
	token, _, err := svc.Login(ctx, "gone@x.com", "password1")
	require.NoError(t, err)

	ok, err := svc.DeleteAccount(ctx, "Gone@X.com")
	require.NoError(t, err)
	require.True(t, ok)

	// Сессия не переживает аккаунт.
	_, _, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	ok, err = svc.DeleteAccount(ctx, "gone@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoginRateLimit(t *testing.T) {
	svc, _, _ := newTestService(Options{})
	ctx := context.Background()

	var last error
	for i := 0; i < 11; i++ {
		_, _, last = svc.Login(ctx, "limited@x.com", "any-password")
	}
	assert.ErrorIs(t, last, ErrRateLimitExceeded)
}

func TestNormalizeIdentity(t *testing.T) {
	assert.Equal(t, "reader@books.example", NormalizeIdentity("  Reader@Books.Example "))
	// Кириллические двойники сворачиваются в латиницу.
	assert.Equal(t, "cop@x.com", NormalizeIdentity("сор@x.com"))
}

func TestSweeperRemovesExpired(t *testing.T) {
	svc, _, sessions := newTestService(Options{SessionTTL: 10 * time.Millisecond})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Identity: "sweep@x.com", Credential: "password1"})
	require.NoError(t, err)
	_, _, err = svc.Login(ctx, "sweep@x.com", "password1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	n, err := sessions.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

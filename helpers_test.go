package authcore

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/templeworks/authcore/password"
)

// memAccounts is the AccountStore double used across the engine tests.
// Every method takes the lock, mirroring the per-row atomicity a real
// database provides.
type memAccounts struct {
	mu      sync.Mutex
	byID    map[string]*Account
	byEmail map[string]string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func cloneAccount(a *Account) *Account {
	dup := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		dup.LockedUntil = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		dup.LastLoginAt = &t
	}
	dup.RecoveryCodes = append([]string(nil), a.RecoveryCodes...)
	return &dup
}

func (s *memAccounts) GetByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(s.byID[id]), nil
}

func (s *memAccounts) GetByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (s *memAccounts) Create(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[account.Email]; ok {
		return ErrEmailTaken
	}
	s.byID[account.ID] = cloneAccount(account)
	s.byEmail[account.Email] = account.ID
	return nil
}

func (s *memAccounts) update(id string, mutate func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	mutate(account)
	return nil
}

func (s *memAccounts) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(a *Account) { a.PasswordHash = hash })
}

func (s *memAccounts) RecordLoginFailure(_ context.Context, id string, attempts int, lockedUntil *time.Time) error {
	return s.update(id, func(a *Account) {
		a.FailedAttempts = attempts
		a.LockedUntil = lockedUntil
	})
}

func (s *memAccounts) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(a *Account) {
		a.FailedAttempts = 0
		a.LockedUntil = nil
		t := at
		a.LastLoginAt = &t
	})
}

func (s *memAccounts) UpdateRefreshTokenHash(_ context.Context, id, hash string) error {
	return s.update(id, func(a *Account) { a.RefreshTokenHash = hash })
}

func (s *memAccounts) RotateRefreshTokenHash(_ context.Context, id, oldHash, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	if account.RefreshTokenHash != oldHash {
		return ErrRefreshReuse
	}
	account.RefreshTokenHash = newHash
	return nil
}

func (s *memAccounts) SetTwoFactor(_ context.Context, id string, enabled bool, encryptedSecret string) error {
	return s.update(id, func(a *Account) {
		a.TwoFactorEnabled = enabled
		a.TwoFactorSecret = encryptedSecret
	})
}

func (s *memAccounts) SetRecoveryCodes(_ context.Context, id string, hashes []string) error {
	return s.update(id, func(a *Account) { a.RecoveryCodes = append([]string(nil), hashes...) })
}

func (s *memAccounts) MarkEmailVerified(_ context.Context, id string) error {
	return s.update(id, func(a *Account) { a.EmailVerified = true })
}

func (s *memAccounts) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(a *Account) { a.Active = active })
}

// setLastLogin backdates the login stamp to exercise the absolute
// timeout without advancing the clock past token expiry.
func (s *memAccounts) setLastLogin(id string, at time.Time) {
	_ = s.update(id, func(a *Account) {
		t := at
		a.LastLoginAt = &t
	})
}

// recordingMailer captures outbound mail so tests can read the codes a
// real user would receive.
type recordingMailer struct {
	mu                 sync.Mutex
	verificationTokens []string
	loginCodes         []string
	passwordCodes      []string
	enabledNotices     int
}

func (m *recordingMailer) SendVerificationEmail(_ context.Context, _, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationTokens = append(m.verificationTokens, token)
	return nil
}

func (m *recordingMailer) SendLoginOTP(_ context.Context, _, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginCodes = append(m.loginCodes, code)
	return nil
}

func (m *recordingMailer) SendPasswordChangeOTP(_ context.Context, _, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwordCodes = append(m.passwordCodes, code)
	return nil
}

func (m *recordingMailer) SendTwoFactorEnabled(_ context.Context, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabledNotices++
	return nil
}

func (m *recordingMailer) lastLoginCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.loginCodes) == 0 {
		t.Fatal("no login OTP was mailed")
	}
	return m.loginCodes[len(m.loginCodes)-1]
}

func (m *recordingMailer) lastPasswordCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.passwordCodes) == 0 {
		t.Fatal("no password-change OTP was mailed")
	}
	return m.passwordCodes[len(m.passwordCodes)-1]
}

func (m *recordingMailer) lastVerificationToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verificationTokens) == 0 {
		t.Fatal("no verification email was mailed")
	}
	return m.verificationTokens[len(m.verificationTokens)-1]
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

type engineFixture struct {
	engine   *Engine
	accounts *memAccounts
	mailer   *recordingMailer
	clock    *clockwork.FakeClock
}

func newEngineFixture(t *testing.T, mutateConfig ...func(*Config)) *engineFixture {
	t.Helper()

	cfg := testEngineConfig()
	for _, mutate := range mutateConfig {
		mutate(&cfg)
	}

	accounts := newMemAccounts()
	mailer := &recordingMailer{}
	clock := clockwork.NewFakeClock()

	engine, err := New().
		WithConfig(cfg).
		WithAccountStore(accounts).
		WithMailer(mailer).
		WithClock(clock).
		WithRandom(rand.Reader).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, accounts: accounts, mailer: mailer, clock: clock}
}

// seedAccount inserts an account directly, bypassing Register, the way a
// migration or seed script would.
func (f *engineFixture) seedAccount(t *testing.T, email, plaintext string, role Role) *Account {
	t.Helper()

	hash, err := f.engine.hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash seed password: %v", err)
	}
	account := &Account{
		ID:            uuid.NewString(),
		Email:         email,
		Name:          "Seeded User",
		PasswordHash:  hash,
		Role:          role,
		Active:        true,
		EmailVerified: true,
		CreatedAt:     f.clock.Now(),
	}
	if err := f.accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func (f *engineFixture) mustGet(t *testing.T, id string) *Account {
	t.Helper()
	account, err := f.accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return account
}

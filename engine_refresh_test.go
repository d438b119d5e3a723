package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loginStandard(t *testing.T, f *engineFixture) (*Account, *TokenPair) {
	t.Helper()
	account := f.seedAccount(t, "user@example.com", "hunter2hunter2", RoleStandard)
	outcome, err := f.engine.Login(context.Background(), "user@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return account, outcome.Tokens
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, pair := loginStandard(t, f)

	f.clock.Advance(time.Minute)
	next, err := f.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// The replaced token is dead.
	if _, err := f.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("old token after rotation = %v, want ErrInvalidOrExpiredToken", err)
	}

	// The new one keeps working.
	f.clock.Advance(time.Minute)
	if _, err := f.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("Refresh with rotated token: %v", err)
	}
}

func TestRefreshAbsoluteTimeout(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	account, pair := loginStandard(t, f)

	// Backdate the login stamp past the 216h window while the token
	// itself is still young and signature-valid.
	f.clock.Advance(time.Hour)
	f.accounts.setLastLogin(account.ID, f.clock.Now().Add(-217*time.Hour))

	if _, err := f.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("Refresh past absolute window = %v, want ErrInvalidOrExpiredToken", err)
	}

	// The session was force-closed: the stored hash is gone, so even a
	// fixed clock would not revive it.
	if got := f.mustGet(t, account.ID); got.RefreshTokenHash != "" {
		t.Fatal("refresh hash survived the absolute timeout")
	}
}

func TestRefreshExpiredTokenSignature(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, pair := loginStandard(t, f)

	// 216h is the standard role's refresh TTL.
	f.clock.Advance(217 * time.Hour)
	if _, err := f.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("Refresh with expired token = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestRefreshAfterLogout(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	account, pair := loginStandard(t, f)

	if err := f.engine.Logout(ctx, account.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if got := f.mustGet(t, account.ID); got.RefreshTokenHash != "" {
		t.Fatal("refresh hash survived logout")
	}

	f.clock.Advance(time.Minute)
	if _, err := f.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("Refresh after logout = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestRefreshGarbage(t *testing.T) {
	f := newEngineFixture(t)

	for _, bad := range []string{"", "garbage", "a.b.c"} {
		if _, err := f.engine.Refresh(context.Background(), bad); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("Refresh(%q) = %v, want ErrInvalidOrExpiredToken", bad, err)
		}
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newEngineFixture(t)
	_, pair := loginStandard(t, f)

	if _, err := f.engine.Refresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("Refresh with access token = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestRefreshInactiveAccount(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	account, pair := loginStandard(t, f)

	if err := f.accounts.SetActive(ctx, account.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("Refresh inactive = %v, want ErrAccountInactive", err)
	}
}

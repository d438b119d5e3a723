package authcore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned across the engine API. Callers should test
// with errors.Is; messages are intentionally generic so transports can
// forward them without leaking account state.
var (
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is the lockout sentinel. The concrete error is a
	// *LockedError carrying the remaining wait.
	ErrAccountLocked = errors.New("account temporarily locked")

	// ErrAccountInactive is returned for deactivated accounts after the
	// password verified.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrInvalidOrExpiredToken covers refresh, verification and setup
	// tokens: bad signature, expired, rotated away, or absolute timeout.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrInvalidTwoFactorCode is returned for a TOTP or recovery code
	// that does not verify.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")

	// ErrInvalidOrExpiredOtp is returned when an emailed one-time code is
	// wrong, already used, or expired.
	ErrInvalidOrExpiredOtp = errors.New("invalid or expired one-time code")

	// ErrRateLimited is the throttle sentinel. The concrete error is a
	// *RateLimitedError carrying the wait until the window resets.
	ErrRateLimited = errors.New("rate limited")

	// ErrConfiguration marks a misconfiguration the process must not run
	// with. Builders and constructors return it; treat it as fatal.
	ErrConfiguration = errors.New("configuration error")

	ErrAccountNotFound  = errors.New("account not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrWeakPassword is returned when a new password misses the minimum
	// length policy.
	ErrWeakPassword = errors.New("password does not meet policy")

	// ErrPasswordReuse is returned when a password change presents the
	// current password as the new one.
	ErrPasswordReuse = errors.New("new password must differ from the current one")

	// ErrSuperAdminReserved guards the reserved super-admin account: it
	// cannot be created through flows, demoted, or deactivated.
	ErrSuperAdminReserved = errors.New("super-admin account is reserved")

	// ErrRefreshReuse is returned by AccountStore.RotateRefreshTokenHash
	// when the stored hash no longer matches: the token was already
	// rotated by a concurrent refresh or an old token is being replayed.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrTwoFactorNotEnabled     = errors.New("two-factor not enabled")

	// ErrTwoFactorMandatory is returned when a privileged account tries
	// to disable two-factor authentication.
	ErrTwoFactorMandatory = errors.New("two-factor is mandatory for this role")

	// ErrTwoFactorSetupPending is returned when confirmation is attempted
	// before a setup produced a pending secret.
	ErrTwoFactorSetupPending = errors.New("no two-factor setup in progress")

	// ErrNotReady is returned by Builder.Build when required
	// collaborators are missing.
	ErrNotReady = errors.New("engine not fully configured")
)

// LockedError reports an active lockout and how long it lasts.
// errors.Is(err, ErrAccountLocked) matches it.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account temporarily locked, retry in %ds", int(e.RetryAfter.Seconds()))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitedError reports a refused request and the wait until the
// window resets. errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", int(e.Wait.Seconds()))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

package authcore

import (
	"context"
	"time"
)

// Role is the coarse authorization level of an account. It drives session
// timeouts and the mandatory two-factor policy.
type Role string

const (
	RoleStandard   Role = "STANDARD"
	RoleSubAdmin   Role = "SUB_ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// IsAdmin reports whether the role is one of the privileged roles.
func (r Role) IsAdmin() bool {
	return r == RoleSubAdmin || r == RoleSuperAdmin
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleSubAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Account is the engine's view of a stored account. The engine never
// persists it directly; all mutation goes through [AccountStore].
//
// TwoFactorSecret holds the AES-GCM blob produced by the engine, never
// plaintext. RecoveryCodes holds argon2id hashes of the unused codes.
// RefreshTokenHash holds the argon2id hash of the currently valid refresh
// token, empty when logged out.
type Account struct {
	ID            string
	Email         string
	Name          string
	Phone         string
	PasswordHash  string
	Role          Role
	Active        bool
	EmailVerified bool

	FailedAttempts int
	LockedUntil    *time.Time

	TwoFactorEnabled bool
	TwoFactorSecret  string
	RecoveryCodes    []string

	RefreshTokenHash string
	LastLoginAt      *time.Time

	CreatedAt time.Time
}

// AccountStore is the persistence boundary. Implementations are expected
// to be the linearization point for per-account writes: each method is a
// single atomic update of one row.
//
// Lookup methods return [ErrAccountNotFound] for unknown accounts and
// Create returns [ErrEmailTaken] on a unique-email conflict.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, account *Account) error

	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// RecordLoginFailure stores the new failed-attempt count and, when the
	// threshold was reached, the lock expiry.
	RecordLoginFailure(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error

	// RecordLoginSuccess resets the failure counter, clears any lock, and
	// stamps the last-login time.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error

	// UpdateRefreshTokenHash replaces the stored refresh hash. An empty
	// hash clears it (logout, forced re-authentication).
	UpdateRefreshTokenHash(ctx context.Context, id, hash string) error

	// RotateRefreshTokenHash swaps oldHash for newHash only if oldHash is
	// still the stored value, and returns [ErrRefreshReuse] otherwise.
	// This compare-and-swap is what makes concurrent refreshes safe: of
	// two racing rotations exactly one wins.
	RotateRefreshTokenHash(ctx context.Context, id, oldHash, newHash string) error

	// SetTwoFactor writes the enrollment state: (false, blob) stores a
	// pending secret awaiting confirmation, (true, blob) completes
	// enrollment, (false, "") disables.
	SetTwoFactor(ctx context.Context, id string, enabled bool, encryptedSecret string) error

	// SetRecoveryCodes replaces the stored recovery-code hashes.
	SetRecoveryCodes(ctx context.Context, id string, hashes []string) error

	MarkEmailVerified(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// Mailer delivers the engine's outbound mail. Implementations own
// templating and transport. Send failures are logged by the engine and
// never surfaced to the end user.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, name, token string) error
	SendLoginOTP(ctx context.Context, email, name, code string) error
	SendPasswordChangeOTP(ctx context.Context, email, name, code string) error
	SendTwoFactorEnabled(ctx context.Context, email, name string) error
}

// NoOpMailer discards all mail. It is the default when no Mailer is
// configured.
type NoOpMailer struct{}

func (NoOpMailer) SendVerificationEmail(context.Context, string, string, string) error { return nil }
func (NoOpMailer) SendLoginOTP(context.Context, string, string, string) error          { return nil }
func (NoOpMailer) SendPasswordChangeOTP(context.Context, string, string, string) error { return nil }
func (NoOpMailer) SendTwoFactorEnabled(context.Context, string, string) error          { return nil }

// TokenPair is an issued access/refresh pair together with the session
// policy that produced it, so the transport can set cookie lifetimes.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
}

// LoginStatus tags the outcome of a login-ladder step.
type LoginStatus uint8

const (
	// StatusAuthenticated means the ladder completed and Tokens is set.
	StatusAuthenticated LoginStatus = iota

	// StatusTwoFactorRequired means the account has two-factor enrolled
	// and must present a TOTP or recovery code next.
	StatusTwoFactorRequired

	// StatusTwoFactorSetupRequired means the role mandates two-factor but
	// the account has not enrolled; SetupToken authorizes the enrollment.
	StatusTwoFactorSetupRequired

	// StatusEmailOTPRequired means a one-time code was emailed and must
	// be presented next.
	StatusEmailOTPRequired
)

func (s LoginStatus) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusTwoFactorRequired:
		return "two_factor_required"
	case StatusTwoFactorSetupRequired:
		return "two_factor_setup_required"
	case StatusEmailOTPRequired:
		return "email_otp_required"
	}
	return "unknown"
}

// LoginOutcome is the tagged result of Login and the subsequent ladder
// steps. Exactly the fields implied by Status are populated: Tokens only
// for StatusAuthenticated, SetupToken only for
// StatusTwoFactorSetupRequired.
type LoginOutcome struct {
	Status     LoginStatus
	AccountID  string
	Email      string
	Role       Role
	Tokens     *TokenPair
	SetupToken string
}

// VerificationToken proves a recent OTP verification to the sensitive
// operation that follows. ExpiresAt lets transports surface the window
// to the user; the engine enforces it server-side regardless.
type VerificationToken struct {
	Token     string
	ExpiresAt time.Time
}

// TwoFactorSetup is the material returned when enrollment begins. URI is
// the otpauth:// enrollment link the transport renders as a QR code.
type TwoFactorSetup struct {
	Secret string
	URI    string
}

// RegisterInput is the payload for Register. Password arrives in
// plaintext and is hashed before storage.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// CreateAdminInput is the payload for CreateAdmin. The created account is
// always a SubAdmin.
type CreateAdminInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

package authcore

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/templeworks/authcore/internal/audit"
	"github.com/templeworks/authcore/kv"
	"github.com/templeworks/authcore/password"
	"github.com/templeworks/authcore/token"
)

const minPasswordLength = 8

// Engine is the authentication orchestrator. Construct it with [New] and
// a [Builder]; the zero value is not usable. All methods are safe for
// concurrent use.
//
// A login walks a fixed ladder: credentials first, then exactly one of
// the second factors depending on the account, then token issuance.
// Every step returns a [LoginOutcome] whose Status says what the caller
// must do next.
type Engine struct {
	config Config
	policy sessionPolicy

	accounts  AccountStore
	store     kv.Store
	hasher    *password.Hasher
	tokens    *token.Manager
	twoFactor *twoFactorManager
	otp       *otpManager
	lockout   *lockoutGuard
	mailer    Mailer
	clock     clockwork.Clock
	random    io.Reader
	logger    zerolog.Logger
	audit     *audit.Dispatcher

	// ownedStore is set when Build created the fallback memory store, so
	// Close can stop its janitor.
	ownedStore *kv.Memory
}

// Close flushes the audit pipeline and stops any background work the
// engine owns. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.audit.Close()
	if e.ownedStore != nil {
		e.ownedStore.Close()
	}
}

// Login checks credentials and starts the ladder.
//
// Unknown email and wrong password are indistinguishable to the caller.
// A locked account fails with *LockedError before the password is even
// looked at, so lockouts cannot be used as a password oracle either.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginOutcome, error) {
	account, err := e.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, EventLogin, nil, false, "unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := e.lockout.check(account); err != nil {
		e.emitAudit(ctx, EventLogin, account, false, "locked")
		return nil, err
	}

	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := e.lockout.recordFailure(ctx, account); err != nil {
			e.logger.Error().Err(err).Str("account_id", account.ID).Msg("failed to record login failure")
		}
		if account.FailedAttempts+1 >= e.config.Lockout.MaxFailedAttempts {
			e.emitAudit(ctx, EventLockout, account, false, "threshold reached")
		}
		e.emitAudit(ctx, EventLogin, account, false, "bad password")
		return nil, ErrInvalidCredentials
	}

	if !account.Active {
		e.emitAudit(ctx, EventLogin, account, false, "inactive")
		return nil, ErrAccountInactive
	}

	if account.TwoFactorEnabled {
		return &LoginOutcome{
			Status:    StatusTwoFactorRequired,
			AccountID: account.ID,
			Email:     account.Email,
			Role:      account.Role,
		}, nil
	}

	if e.twoFactor.isMandatory(account.Role) {
		setupToken, err := e.otp.issueVerificationToken(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		return &LoginOutcome{
			Status:     StatusTwoFactorSetupRequired,
			AccountID:  account.ID,
			Email:      account.Email,
			Role:       account.Role,
			SetupToken: setupToken,
		}, nil
	}

	return e.finalizeLogin(ctx, account)
}

// VerifyTwoFactor is the second rung for enrolled accounts. It accepts a
// current TOTP code or an unused recovery code. Privileged roles then get
// an emailed OTP as the third rung; everyone else is authenticated.
func (e *Engine) VerifyTwoFactor(ctx context.Context, accountID, code string) (*LoginOutcome, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}
	if !account.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	if !e.checkTwoFactorCode(ctx, account, code) {
		e.emitAudit(ctx, EventLogin, account, false, "bad two-factor code")
		return nil, ErrInvalidTwoFactorCode
	}

	if account.Role.IsAdmin() {
		if err := e.sendLoginOTP(ctx, account); err != nil {
			return nil, err
		}
		return &LoginOutcome{
			Status:    StatusEmailOTPRequired,
			AccountID: account.ID,
			Email:     account.Email,
			Role:      account.Role,
		}, nil
	}

	return e.finalizeLogin(ctx, account)
}

// VerifyLoginOTP is the final rung for privileged accounts: the emailed
// code issued after two-factor verification.
func (e *Engine) VerifyLoginOTP(ctx context.Context, accountID, code string) (*LoginOutcome, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	if err := e.otp.verify(ctx, account.ID, purposeLogin, code); err != nil {
		e.emitAudit(ctx, EventOTPVerified, account, false, "login otp rejected")
		return nil, err
	}
	e.emitAudit(ctx, EventOTPVerified, account, true, "")

	return e.finalizeLogin(ctx, account)
}

// ResendLoginOTP issues a fresh emailed code, subject to the same rolling
// request budget as the original one.
func (e *Engine) ResendLoginOTP(ctx context.Context, accountID string) error {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if !account.Active {
		return ErrAccountInactive
	}
	return e.sendLoginOTP(ctx, account)
}

// AccessIdentity is the validated identity carried by an access token.
type AccessIdentity struct {
	AccountID string
	Email     string
	Role      Role
}

// VerifyAccessToken validates an access token and returns the identity it
// carries. This is the per-request check transports run; it touches no
// storage.
func (e *Engine) VerifyAccessToken(tokenString string) (*AccessIdentity, error) {
	claims, err := e.tokens.ParseAccess(tokenString)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}
	return &AccessIdentity{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Role:      Role(claims.Role),
	}, nil
}

// finalizeLogin issues the pair, persists the refresh hash, resets the
// lockout state and stamps the login time.
func (e *Engine) finalizeLogin(ctx context.Context, account *Account) (*LoginOutcome, error) {
	pair, timeouts, err := e.issuePair(account)
	if err != nil {
		return nil, err
	}

	refreshHash, err := e.hasher.Hash(pair.Refresh)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.UpdateRefreshTokenHash(ctx, account.ID, refreshHash); err != nil {
		return nil, err
	}
	if err := e.accounts.RecordLoginSuccess(ctx, account.ID, e.clock.Now()); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, EventLogin, account, true, "")

	return &LoginOutcome{
		Status:    StatusAuthenticated,
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		Tokens: &TokenPair{
			AccessToken:     pair.Access,
			RefreshToken:    pair.Refresh,
			IdleTimeout:     timeouts.Idle,
			AbsoluteTimeout: timeouts.Absolute,
		},
	}, nil
}

func (e *Engine) issuePair(account *Account) (token.Pair, SessionTimeouts, error) {
	timeouts := e.policy.timeoutsFor(account.Role)
	pair, err := e.tokens.IssuePair(account.ID, account.Email, string(account.Role), timeouts.Idle, timeouts.Absolute)
	if err != nil {
		return token.Pair{}, SessionTimeouts{}, err
	}
	return pair, timeouts, nil
}

// checkTwoFactorCode tries the TOTP code first, then the recovery codes.
// A matching recovery code is removed from the stored set.
func (e *Engine) checkTwoFactorCode(ctx context.Context, account *Account, code string) bool {
	secret, err := e.twoFactor.decryptSecret(account.TwoFactorSecret)
	if err != nil {
		// Corrupt blob: fail closed and make noise, the account needs
		// operator attention.
		e.logger.Error().Str("account_id", account.ID).Msg("two-factor secret undecryptable")
		return false
	}
	if e.twoFactor.verifyCode(secret, code, e.clock.Now()) {
		return true
	}
	return e.consumeRecoveryCode(ctx, account, code)
}

func (e *Engine) consumeRecoveryCode(ctx context.Context, account *Account, code string) bool {
	for i, hash := range account.RecoveryCodes {
		ok, err := e.hasher.Verify(code, hash)
		if err != nil || !ok {
			continue
		}
		remaining := make([]string, 0, len(account.RecoveryCodes)-1)
		remaining = append(remaining, account.RecoveryCodes[:i]...)
		remaining = append(remaining, account.RecoveryCodes[i+1:]...)
		if err := e.accounts.SetRecoveryCodes(ctx, account.ID, remaining); err != nil {
			e.logger.Error().Err(err).Str("account_id", account.ID).Msg("failed to consume recovery code")
			return false
		}
		return true
	}
	return false
}

func (e *Engine) sendLoginOTP(ctx context.Context, account *Account) error {
	code, err := e.otp.request(ctx, account.ID, purposeLogin)
	if err != nil {
		return err
	}
	e.emitAudit(ctx, EventOTPRequested, account, true, "login")
	e.deliverMail(ctx, "login_otp", func() error {
		return e.mailer.SendLoginOTP(ctx, account.Email, account.Name, code)
	})
	return nil
}

// deliverMail runs a send and swallows the error: mail trouble must never
// turn into an authentication failure. The error still lands in the log.
func (e *Engine) deliverMail(_ context.Context, kind string, send func() error) {
	if err := send(); err != nil {
		e.logger.Error().Err(err).Str("mail", kind).Msg("mail delivery failed")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package authcore

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

const emailVerifyTTL = 24 * time.Hour

func emailVerifyKey(token string) string {
	return "everify:" + token
}

// Register creates a Standard account and authenticates it immediately.
// A verification email goes out best-effort; the account works before the
// address is confirmed, EmailVerified just stays false.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*LoginOutcome, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if e.isReservedEmail(email) {
		return nil, ErrSuperAdminReserved
	}
	if len(input.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := e.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         input.Name,
		Phone:        input.Phone,
		PasswordHash: hash,
		Role:         RoleStandard,
		Active:       true,
		CreatedAt:    e.clock.Now(),
	}
	if err := e.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, EventRegister, account, true, "")
	e.sendVerificationEmail(ctx, account)

	return e.finalizeLogin(ctx, account)
}

// VerifyEmail consumes a verification token and marks the account.
// Tokens are single-use; a second call with the same token fails.
func (e *Engine) VerifyEmail(ctx context.Context, verifyToken string) error {
	if verifyToken == "" {
		return ErrInvalidOrExpiredToken
	}
	accountID, err := e.store.GetAndDelete(ctx, emailVerifyKey(verifyToken))
	if err != nil {
		return ErrInvalidOrExpiredToken
	}
	if err := e.accounts.MarkEmailVerified(ctx, accountID); err != nil {
		return err
	}
	e.emitAudit(ctx, EventEmailVerified, &Account{ID: accountID}, true, "")
	return nil
}

// ResendVerificationEmail issues a fresh token for an unverified account.
// Unknown or already verified addresses succeed silently so the endpoint
// cannot be used to enumerate accounts.
func (e *Engine) ResendVerificationEmail(ctx context.Context, email string) error {
	account, err := e.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if account.EmailVerified {
		return nil
	}
	e.sendVerificationEmail(ctx, account)
	return nil
}

func (e *Engine) sendVerificationEmail(ctx context.Context, account *Account) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(e.random, raw); err != nil {
		e.logger.Error().Err(err).Msg("failed to mint email verification token")
		return
	}
	verifyToken := hex.EncodeToString(raw)

	if err := e.store.SetWithTTL(ctx, emailVerifyKey(verifyToken), account.ID, emailVerifyTTL); err != nil {
		e.logger.Error().Err(err).Msg("failed to store email verification token")
		return
	}

	e.deliverMail(ctx, "verification", func() error {
		return e.mailer.SendVerificationEmail(ctx, account.Email, account.Name, verifyToken)
	})
}

func (e *Engine) isReservedEmail(email string) bool {
	reserved := normalizeEmail(e.config.Account.SuperAdminEmail)
	return reserved != "" && email == reserved
}

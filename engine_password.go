package authcore

import (
	"context"
	"errors"
)

// RequestPasswordChangeOTP emails a short-lived code that must be
// verified before the password can be changed. Subject to the shared
// per-account OTP request budget.
func (e *Engine) RequestPasswordChangeOTP(ctx context.Context, accountID string) error {
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

	code, err := e.otp.request(ctx, account.ID, purposePasswordChange)
	if err != nil {
		return err
	}
	e.emitAudit(ctx, EventOTPRequested, account, true, "password_change")

	e.deliverMail(ctx, "password_change_otp", func() error {
		return e.mailer.SendPasswordChangeOTP(ctx, account.Email, account.Name, code)
	})
	return nil
}

// VerifyPasswordChangeOTP consumes the emailed code and returns a
// verification token with its expiry. The token proves recent OTP
// possession to ChangePassword and CreateAdmin and expires after three
// minutes.
func (e *Engine) VerifyPasswordChangeOTP(ctx context.Context, accountID, code string) (*VerificationToken, error) {
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

	if err := e.otp.verify(ctx, account.ID, purposePasswordChange, code); err != nil {
		e.emitAudit(ctx, EventOTPVerified, account, false, "password_change otp rejected")
		return nil, err
	}
	e.emitAudit(ctx, EventOTPVerified, account, true, "password_change")

	token, err := e.otp.issueVerificationToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return &VerificationToken{
		Token:     token,
		ExpiresAt: e.clock.Now().Add(e.config.OTP.VerificationTokenTTL),
	}, nil
}

// ChangePassword sets a new password after checking the verification
// token and re-verifying the current password, so a stolen token alone
// cannot change anything. It clears the stored refresh hash, killing
// every session, and consumes the token so a second change needs a fresh
// OTP round.
func (e *Engine) ChangePassword(ctx context.Context, accountID, verificationToken, currentPassword, newPassword string) error {
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

	if err := e.otp.checkVerificationToken(ctx, account.ID, verificationToken); err != nil {
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, EventPasswordChanged, account, false, "current password rejected")
		return ErrInvalidCredentials
	}

	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	same, err := e.hasher.Verify(newPassword, account.PasswordHash)
	if err != nil {
		return err
	}
	if same {
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return err
	}
	if err := e.accounts.UpdateRefreshTokenHash(ctx, account.ID, ""); err != nil {
		e.logger.Error().Err(err).Str("account_id", account.ID).Msg("failed to invalidate sessions after password change")
	}

	e.otp.clearVerificationToken(ctx, account.ID)
	e.emitAudit(ctx, EventPasswordChanged, account, true, "")
	return nil
}

package authcore

import (
	"context"
	"errors"
)

// BeginTwoFactorSetup starts enrollment for a logged-in account. The
// password re-check keeps a hijacked session from silently enrolling an
// attacker's authenticator. The returned secret stays pending until
// ConfirmTwoFactor proves the authenticator works.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, accountID, plaintext string) (*TwoFactorSetup, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return e.stagePendingSecret(ctx, account)
}

// BeginTwoFactorSetupWithToken starts enrollment from the login ladder:
// the setup token issued by Login for a mandatory-2FA account that has
// not enrolled yet stands in for the password re-check.
func (e *Engine) BeginTwoFactorSetupWithToken(ctx context.Context, accountID, setupToken string) (*TwoFactorSetup, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := e.otp.checkVerificationToken(ctx, account.ID, setupToken); err != nil {
		return nil, err
	}

	return e.stagePendingSecret(ctx, account)
}

func (e *Engine) stagePendingSecret(ctx context.Context, account *Account) (*TwoFactorSetup, error) {
	if account.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	setup, err := e.twoFactor.generateSecret(account.Email)
	if err != nil {
		return nil, err
	}
	encrypted, err := e.twoFactor.encryptSecret(setup.Secret)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.SetTwoFactor(ctx, account.ID, false, encrypted); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, EventTwoFactorSetup, account, true, "")
	return setup, nil
}

// ConfirmTwoFactor completes enrollment once the authenticator produces a
// valid code. The recovery codes are returned exactly here and never
// again; only their hashes are stored.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, accountID, code string) ([]string, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if account.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if account.TwoFactorSecret == "" {
		return nil, ErrTwoFactorSetupPending
	}

	secret, err := e.twoFactor.decryptSecret(account.TwoFactorSecret)
	if err != nil {
		e.logger.Error().Str("account_id", account.ID).Msg("pending two-factor secret undecryptable")
		return nil, ErrInvalidTwoFactorCode
	}
	if !e.twoFactor.verifyCode(secret, code, e.clock.Now()) {
		e.emitAudit(ctx, EventTwoFactorConfirm, account, false, "bad code")
		return nil, ErrInvalidTwoFactorCode
	}

	codes, err := e.twoFactor.generateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		if hashes[i], err = e.hasher.Hash(c); err != nil {
			return nil, err
		}
	}

	if err := e.accounts.SetRecoveryCodes(ctx, account.ID, hashes); err != nil {
		return nil, err
	}
	if err := e.accounts.SetTwoFactor(ctx, account.ID, true, account.TwoFactorSecret); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, EventTwoFactorConfirm, account, true, "")
	e.deliverMail(ctx, "two_factor_enabled", func() error {
		return e.mailer.SendTwoFactorEnabled(ctx, account.Email, account.Name)
	})
	return codes, nil
}

// ConfirmTwoFactorSetupAndLogin is the one-shot path from the login
// ladder: confirm enrollment under the setup token and continue to the
// next rung. Privileged roles still face the emailed OTP before tokens.
func (e *Engine) ConfirmTwoFactorSetupAndLogin(ctx context.Context, accountID, setupToken, code string) (*LoginOutcome, []string, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := e.otp.checkVerificationToken(ctx, account.ID, setupToken); err != nil {
		return nil, nil, err
	}

	codes, err := e.ConfirmTwoFactor(ctx, accountID, code)
	if err != nil {
		return nil, nil, err
	}
	e.otp.clearVerificationToken(ctx, account.ID)

	if account.Role.IsAdmin() {
		if err := e.sendLoginOTP(ctx, account); err != nil {
			return nil, codes, err
		}
		return &LoginOutcome{
			Status:    StatusEmailOTPRequired,
			AccountID: account.ID,
			Email:     account.Email,
			Role:      account.Role,
		}, codes, nil
	}

	outcome, err := e.finalizeLogin(ctx, account)
	return outcome, codes, err
}

// DisableTwoFactor turns enrollment off after a password and current-code
// check. Refused outright for roles where two-factor is mandatory.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, plaintext, code string) error {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if !account.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if e.twoFactor.isMandatory(account.Role) {
		return ErrTwoFactorMandatory
	}

	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if !e.checkTwoFactorCode(ctx, account, code) {
		return ErrInvalidTwoFactorCode
	}

	if err := e.accounts.SetTwoFactor(ctx, account.ID, false, ""); err != nil {
		return err
	}
	if err := e.accounts.SetRecoveryCodes(ctx, account.ID, nil); err != nil {
		return err
	}

	e.emitAudit(ctx, EventTwoFactorDisable, account, true, "")
	return nil
}

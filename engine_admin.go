package authcore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// CreateAdmin creates a SubAdmin account. Only a SuperAdmin holding a
// fresh verification token (from the OTP flow) may call it; there is no
// path that creates a SuperAdmin, the reserved account is seeded directly
// into the store.
func (e *Engine) CreateAdmin(ctx context.Context, actorID, verificationToken string, input CreateAdminInput) (*Account, error) {
	actor, err := e.accounts.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrPermissionDenied
		}
		return nil, err
	}
	if actor.Role != RoleSuperAdmin {
		return nil, ErrPermissionDenied
	}

	if err := e.otp.checkVerificationToken(ctx, actor.ID, verificationToken); err != nil {
		return nil, err
	}

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
		ID:            uuid.NewString(),
		Email:         email,
		Name:          input.Name,
		Phone:         input.Phone,
		PasswordHash:  hash,
		Role:          RoleSubAdmin,
		Active:        true,
		EmailVerified: true,
		CreatedAt:     e.clock.Now(),
	}
	if err := e.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	e.otp.clearVerificationToken(ctx, actor.ID)
	e.emitAudit(ctx, EventAdminCreated, account, true, "created by "+actor.ID)
	return account, nil
}

// SetAccountActive toggles an account. SuperAdmin accounts cannot be
// deactivated, by anyone. Deactivation also kills the target's sessions
// by clearing the refresh hash.
func (e *Engine) SetAccountActive(ctx context.Context, actorID, targetID string, active bool) error {
	actor, err := e.accounts.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrPermissionDenied
		}
		return err
	}
	if actor.Role != RoleSuperAdmin {
		return ErrPermissionDenied
	}

	target, err := e.accounts.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Role == RoleSuperAdmin && !active {
		return ErrSuperAdminReserved
	}

	if err := e.accounts.SetActive(ctx, target.ID, active); err != nil {
		return err
	}
	if !active {
		if err := e.accounts.UpdateRefreshTokenHash(ctx, target.ID, ""); err != nil {
			e.logger.Error().Err(err).Str("account_id", target.ID).Msg("failed to clear sessions on deactivation")
		}
	}

	reason := "deactivated"
	if active {
		reason = "activated"
	}
	e.emitAudit(ctx, EventAccountStatus, target, true, reason)
	return nil
}

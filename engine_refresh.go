package authcore

import (
	"context"
	"errors"
)

// Refresh exchanges a valid refresh token for a fresh pair and rotates
// the stored hash. Failure modes all collapse to ErrInvalidOrExpiredToken
// for the caller: bad signature, unknown account, logged out, absolute
// timeout exceeded, or a replayed token that lost a rotation race.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}

	account, err := e.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}
	if account.RefreshTokenHash == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	// The absolute window runs from the last full login. Refreshing
	// extends nothing; when the window closes the session dies no matter
	// how fresh the token is.
	timeouts := e.policy.timeoutsFor(account.Role)
	if account.LastLoginAt == nil || e.clock.Now().Sub(*account.LastLoginAt) > timeouts.Absolute {
		if err := e.accounts.UpdateRefreshTokenHash(ctx, account.ID, ""); err != nil {
			e.logger.Error().Err(err).Str("account_id", account.ID).Msg("failed to clear refresh hash after absolute timeout")
		}
		e.emitAudit(ctx, EventRefresh, account, false, "absolute timeout")
		return nil, ErrInvalidOrExpiredToken
	}

	ok, err := e.hasher.Verify(refreshToken, account.RefreshTokenHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Valid signature but not the stored token: either an old token
		// being replayed or the loser of a concurrent rotation.
		e.emitAudit(ctx, EventRefresh, account, false, "token not current")
		return nil, ErrInvalidOrExpiredToken
	}

	pair, err := e.tokens.IssuePair(account.ID, account.Email, string(account.Role), timeouts.Idle, timeouts.Absolute)
	if err != nil {
		return nil, err
	}
	newHash, err := e.hasher.Hash(pair.Refresh)
	if err != nil {
		return nil, err
	}

	if err := e.accounts.RotateRefreshTokenHash(ctx, account.ID, account.RefreshTokenHash, newHash); err != nil {
		if errors.Is(err, ErrRefreshReuse) {
			e.emitAudit(ctx, EventRefresh, account, false, "rotation race lost")
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	e.emitAudit(ctx, EventRefresh, account, true, "")

	return &TokenPair{
		AccessToken:     pair.Access,
		RefreshToken:    pair.Refresh,
		IdleTimeout:     timeouts.Idle,
		AbsoluteTimeout: timeouts.Absolute,
	}, nil
}

// Logout invalidates the account's refresh token. Outstanding access
// tokens keep working until their idle timeout; that window is the
// documented trade-off of the stateless access token.
func (e *Engine) Logout(ctx context.Context, accountID string) error {
	if err := e.accounts.UpdateRefreshTokenHash(ctx, accountID, ""); err != nil {
		return err
	}
	e.emitAudit(ctx, EventLogout, &Account{ID: accountID}, true, "")
	return nil
}

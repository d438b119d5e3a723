package authcore

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/templeworks/authcore/kv"
)

// otpPurpose namespaces codes so a login code can never satisfy a
// password-change prompt.
type otpPurpose string

const (
	purposeLogin          otpPurpose = "login"
	purposePasswordChange otpPurpose = "password_change"
)

// otpManager implements the emailed one-time-code mechanism on the keyed
// TTL store: request throttling, a verify lock, exactly-once consumption,
// and the short-lived verification tokens that gate sensitive operations.
//
// Store failures fail closed: a code that cannot be read is a code that
// does not verify.
type otpManager struct {
	store  kv.Store
	random io.Reader
	config OTPConfig
	logger zerolog.Logger
}

func otpCodeKey(subject string, purpose otpPurpose) string {
	return "otp:code:" + subject + ":" + string(purpose)
}

func otpRequestKey(subject string) string {
	return "otp:req:" + subject
}

func otpFailKey(subject string, purpose otpPurpose) string {
	return "otp:fail:" + subject + ":" + string(purpose)
}

func verificationTokenKey(subject string) string {
	return "otp:vtok:" + subject
}

// request issues a fresh code for (subject, purpose), or refuses with a
// *RateLimitedError when the subject exhausted the rolling window. The
// window counter is shared across purposes so switching flows cannot be
// used to multiply the budget.
//
// The gate is the count returned by the atomic increment, never a prior
// read: of two requests racing at the ceiling exactly one lands inside
// the budget and the other is refused. The refused attempt leaves its
// increment in place; the window TTL was anchored at the first hit, so
// an over-ceiling counter expires with the window like any other.
func (m *otpManager) request(ctx context.Context, subject string, purpose otpPurpose) (string, error) {
	used, err := m.store.IncrementWithTTL(ctx, otpRequestKey(subject), m.config.RequestWindow)
	if err != nil {
		return "", err
	}
	if used > int64(m.config.MaxRequestsPerWindow) {
		return "", &RateLimitedError{Wait: m.windowWait(ctx, otpRequestKey(subject), m.config.RequestWindow)}
	}

	code, err := m.generateCode()
	if err != nil {
		return "", err
	}
	if err := m.store.SetWithTTL(ctx, otpCodeKey(subject, purpose), code, m.config.CodeTTL); err != nil {
		return "", err
	}
	return code, nil
}

// verify consumes the stored code for (subject, purpose) and compares it
// with the presented one. The read-and-delete happens before comparison,
// so any attempt burns the code: a second verify of the same code fails
// no matter what the first presented.
func (m *otpManager) verify(ctx context.Context, subject string, purpose otpPurpose, presented string) error {
	failures, err := m.counter(ctx, otpFailKey(subject, purpose))
	if err != nil {
		return err
	}
	if failures >= int64(m.config.MaxVerifyAttempts) {
		return &RateLimitedError{Wait: m.windowWait(ctx, otpFailKey(subject, purpose), m.config.VerifyLockDuration)}
	}

	stored, err := m.store.GetAndDelete(ctx, otpCodeKey(subject, purpose))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			m.logger.Error().Err(err).Str("purpose", string(purpose)).Msg("otp store read failed, failing closed")
		}
		return m.failVerify(ctx, subject, purpose)
	}

	if len(stored) != len(presented) ||
		subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return m.failVerify(ctx, subject, purpose)
	}

	if err := m.store.Delete(ctx, otpFailKey(subject, purpose)); err != nil {
		m.logger.Warn().Err(err).Msg("failed to reset otp failure counter")
	}
	return nil
}

// issueVerificationToken mints the short-lived opaque token a successful
// OTP verification hands back. It proves "this subject passed an OTP
// check moments ago" to the sensitive operation that follows.
func (m *otpManager) issueVerificationToken(ctx context.Context, subject string) (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(m.random, raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	if err := m.store.SetWithTTL(ctx, verificationTokenKey(subject), token, m.config.VerificationTokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// checkVerificationToken validates without consuming, so a flow that
// fails later for unrelated reasons can be retried within the window.
// The owning operation clears the token once it succeeds.
func (m *otpManager) checkVerificationToken(ctx context.Context, subject, token string) error {
	stored, err := m.store.Get(ctx, verificationTokenKey(subject))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			m.logger.Error().Err(err).Msg("verification token read failed, failing closed")
		}
		return ErrInvalidOrExpiredToken
	}
	if len(stored) != len(token) ||
		subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return ErrInvalidOrExpiredToken
	}
	return nil
}

func (m *otpManager) clearVerificationToken(ctx context.Context, subject string) {
	if err := m.store.Delete(ctx, verificationTokenKey(subject)); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear verification token")
	}
}

// failVerify counts a failed attempt and picks the error from the count
// the atomic increment returns. An attempt whose increment lands past the
// lock threshold slipped through the pre-check in a race; it is refused
// as locked, so concurrent failures cannot all pass the ceiling unrefused.
func (m *otpManager) failVerify(ctx context.Context, subject string, purpose otpPurpose) error {
	failures, err := m.store.IncrementWithTTL(ctx, otpFailKey(subject, purpose), m.config.VerifyLockDuration)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to record otp verify failure")
		return ErrInvalidOrExpiredOtp
	}
	if failures > int64(m.config.MaxVerifyAttempts) {
		return &RateLimitedError{Wait: m.windowWait(ctx, otpFailKey(subject, purpose), m.config.VerifyLockDuration)}
	}
	return ErrInvalidOrExpiredOtp
}

func (m *otpManager) counter(ctx context.Context, key string) (int64, error) {
	value, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

// windowWait reports how long until the counter at key expires, clamped
// to fallback when the store cannot say.
func (m *otpManager) windowWait(ctx context.Context, key string, fallback time.Duration) time.Duration {
	d, err := m.store.TTL(ctx, key)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// generateCode draws a uniform-enough numeric code from the CSPRNG: eight
// random bytes reduced mod 10^digits. The modulo bias at 6 digits is
// below 2^-40 and irrelevant for a 5-minute code.
func (m *otpManager) generateCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(m.random, buf); err != nil {
		return "", err
	}

	modulus := uint64(1)
	for i := 0; i < m.config.Digits; i++ {
		modulus *= 10
	}
	value := binary.BigEndian.Uint64(buf) % modulus

	return fmt.Sprintf("%0*d", m.config.Digits, value), nil
}

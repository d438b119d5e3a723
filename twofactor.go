package authcore

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/scrypt"
)

const gcmTagSize = 16

// Fixed KDF salt: the derived key only ever encrypts per-account TOTP
// secrets under one deployment key, there is nothing to rainbow-table.
var twoFactorKDFSalt = []byte("authcore/2fa-at-rest/v1")

var errSecretCorrupt = errors.New("two-factor secret blob corrupt")

// twoFactorManager owns TOTP enrollment and validation. Secrets are
// encrypted with AES-256-GCM before they reach the account store and the
// blob format is nonceHex:tagHex:cipherHex. Decryption fails closed: any
// malformed or tampered blob yields an error, never partial plaintext.
type twoFactorManager struct {
	config TwoFactorConfig
	aead   cipher.AEAD
	random io.Reader
}

func newTwoFactorManager(cfg TwoFactorConfig, encryptionKey string, random io.Reader) (*twoFactorManager, error) {
	key, err := scrypt.Key([]byte(encryptionKey), twoFactorKDFSalt, 16384, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: derive two-factor key: %v", ErrConfiguration, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: two-factor cipher: %v", ErrConfiguration, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: two-factor cipher: %v", ErrConfiguration, err)
	}
	return &twoFactorManager{config: cfg, aead: aead, random: random}, nil
}

// generateSecret creates an enrollment secret and the otpauth:// URI an
// authenticator app consumes.
func (m *twoFactorManager) generateSecret(accountEmail string) (*TwoFactorSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountEmail,
		Rand:        m.random,
	})
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: key.Secret(), URI: key.URL()}, nil
}

// verifyCode checks a 6-digit TOTP code against the plaintext secret at
// the given instant, allowing the configured step skew.
func (m *twoFactorManager) verifyCode(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      m.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (m *twoFactorManager) encryptSecret(plaintext string) (string, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(m.random, nonce); err != nil {
		return "", err
	}

	sealed := m.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

func (m *twoFactorManager) decryptSecret(blob string) (string, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", errSecretCorrupt
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != m.aead.NonceSize() {
		return "", errSecretCorrupt
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != gcmTagSize {
		return "", errSecretCorrupt
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", errSecretCorrupt
	}

	plaintext, err := m.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", errSecretCorrupt
	}
	return string(plaintext), nil
}

// generateRecoveryCodes returns the configured number of single-use codes
// in the XXXX-XXXX format users transcribe to paper.
func (m *twoFactorManager) generateRecoveryCodes() ([]string, error) {
	codes := make([]string, m.config.RecoveryCodeCount)
	buf := make([]byte, 4)
	for i := range codes {
		if _, err := io.ReadFull(m.random, buf); err != nil {
			return nil, err
		}
		raw := strings.ToUpper(hex.EncodeToString(buf))
		codes[i] = raw[:4] + "-" + raw[4:]
	}
	return codes, nil
}

// isMandatory reports whether the role may not run without two-factor.
func (m *twoFactorManager) isMandatory(role Role) bool {
	return role.IsAdmin()
}

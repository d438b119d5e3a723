// Package token issues and validates the HS256 access/refresh JWT pair.
// The two token kinds are signed with distinct secrets so an access token
// can never be replayed against the refresh endpoint or vice versa.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// ErrInvalid covers every validation failure: bad signature, wrong token
// kind, expired, malformed. Callers get no finer detail.
var ErrInvalid = errors.New("token: invalid or expired")

// Claims carried by both token kinds. Subject is the account ID.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Pair is one issued access/refresh token pair.
type Pair struct {
	Access  string
	Refresh string
}

// Config for a [Manager]. AccessSecret and RefreshSecret must differ.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Leeway        time.Duration
}

// Manager signs and parses token pairs. Safe for concurrent use.
type Manager struct {
	config Config
	clock  clockwork.Clock
}

// NewManager validates cfg and returns a [Manager]. Secret strength policy
// (length, placeholder detection) is enforced upstream by the engine
// config; here only structural requirements are checked.
func NewManager(cfg Config, clock clockwork.Clock) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: both secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{config: cfg, clock: clock}, nil
}

// IssuePair signs a fresh access/refresh pair for the account. The TTLs
// come from the caller's session policy (idle timeout for access,
// absolute timeout for refresh).
func (m *Manager) IssuePair(accountID, email, role string, accessTTL, refreshTTL time.Duration) (Pair, error) {
	access, err := m.issue(accountID, email, role, accessTTL, m.config.AccessSecret)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.issue(accountID, email, role, refreshTTL, m.config.RefreshSecret)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// ParseAccess validates an access token and returns its claims.
func (m *Manager) ParseAccess(tokenString string) (*Claims, error) {
	return m.parse(tokenString, m.config.AccessSecret)
}

// ParseRefresh validates a refresh token and returns its claims.
func (m *Manager) ParseRefresh(tokenString string) (*Claims, error) {
	return m.parse(tokenString, m.config.RefreshSecret)
}

func (m *Manager) issue(accountID, email, role string, ttl time.Duration, secret []byte) (string, error) {
	now := m.clock.Now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(tokenString string, secret []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, options...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

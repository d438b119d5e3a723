// Package password provides argon2id hashing with PHC string encoding.
// The engine uses the same hasher for account passwords and for
// refresh-token digests, so inputs of any length are accepted; password
// policy (minimum length and so on) is enforced by the caller.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// ErrMalformedHash is returned when a stored hash cannot be parsed as an
// argon2id PHC string.
var ErrMalformedHash = errors.New("password: malformed hash")

// Config holds the argon2id cost parameters. Zero values are rejected;
// use [DefaultConfig] as a starting point.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and verifies argon2id digests. Safe for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a [Hasher].
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, fmt.Errorf("password: memory below %d KiB", minMemoryKB)
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("password: time cost must be at least 1")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("password: parallelism must be at least 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, fmt.Errorf("password: salt below %d bytes", minSaltLength)
	}
	if cfg.KeyLength < minKeyLength {
		return nil, fmt.Errorf("password: key below %d bytes", minKeyLength)
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a fresh salted digest of secret and encodes it as a PHC
// string ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	digest := argon2.IDKey(
		[]byte(secret),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(digest),
	), nil
}

// Verify reports whether secret matches the encoded PHC hash. The digest
// comparison is constant-time. Verification uses the cost parameters
// recorded in the hash, not the Hasher's, so old hashes stay verifiable
// after a cost bump.
func (h *Hasher) Verify(secret, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(secret),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.hash)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parsePHC(encoded string) (parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return parsedPHC{}, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return parsedPHC{}, ErrMalformedHash
	}
	if version != argon2.Version {
		return parsedPHC{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedHash, version)
	}

	var out parsedPHC
	for _, param := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 {
			return parsedPHC{}, ErrMalformedHash
		}
		value, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return parsedPHC{}, ErrMalformedHash
		}
		switch kv[0] {
		case "m":
			out.memory = uint32(value)
		case "t":
			out.time = uint32(value)
		case "p":
			if value > 255 {
				return parsedPHC{}, ErrMalformedHash
			}
			out.parallelism = uint8(value)
		default:
			return parsedPHC{}, ErrMalformedHash
		}
	}
	if out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return parsedPHC{}, ErrMalformedHash
	}

	var err error
	if out.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil {
		return parsedPHC{}, ErrMalformedHash
	}
	if out.hash, err = base64.StdEncoding.DecodeString(parts[5]); err != nil {
		return parsedPHC{}, ErrMalformedHash
	}
	if len(out.salt) == 0 || len(out.hash) == 0 {
		return parsedPHC{}, ErrMalformedHash
	}
	return out, nil
}

package password

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

// ErrUnsupportedHash is returned when a stored hash was produced by an
// algorithm none of the configured hashers understand.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// ErrUnsupportedDigest is returned by [ParseDigest] for unknown digest names.
var ErrUnsupportedDigest = errors.New("unsupported password digest")

// Hasher is a one-way password hash.
//
// Verify returns (false, nil) for a well-formed hash that does not match and a
// non-nil error only when encodedHash cannot be interpreted.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Digest names the optional pre-hash transform applied to plaintext
// passwords. The zero value leaves the password untouched.
type Digest string

const (
	// DigestNone applies no transform.
	DigestNone Digest = ""
	// DigestSHA1 hex-encodes the SHA-1 of the password.
	DigestSHA1 Digest = "sha1"
	// DigestSHA256 hex-encodes the SHA-256 of the password.
	DigestSHA256 Digest = "sha256"
	// DigestSHA512 hex-encodes the SHA-512 of the password.
	DigestSHA512 Digest = "sha512"
)

// ParseDigest resolves a configuration string into a [Digest].
func ParseDigest(name string) (Digest, error) {
	d := Digest(strings.ToLower(strings.TrimSpace(name)))
	switch d {
	case DigestNone, DigestSHA1, DigestSHA256, DigestSHA512:
		return d, nil
	default:
		return DigestNone, ErrUnsupportedDigest
	}
}

// Apply returns the digested form of password. Unknown digests return the
// password unchanged; configuration validation rejects them earlier.
func (d Digest) Apply(password string) string {
	var h hash.Hash
	switch d {
	case DigestSHA1:
		h = sha1.New()
	case DigestSHA256:
		h = sha256.New()
	case DigestSHA512:
		h = sha512.New()
	default:
		return password
	}
	_, _ = h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}

// Multi hashes with Primary and verifies with whichever hasher recognises the
// stored format.
type Multi struct {
	Primary Hasher
	Bcrypt  *Bcrypt
	Argon2  *Argon2
}

// Hash delegates to the primary hasher.
func (m *Multi) Hash(password string) (string, error) {
	if m == nil || m.Primary == nil {
		return "", errors.New("primary hasher required")
	}
	return m.Primary.Hash(password)
}

// Verify dispatches on the stored hash prefix.
func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	switch {
	case isBcryptHash(encodedHash) && m.Bcrypt != nil:
		return m.Bcrypt.Verify(password, encodedHash)
	case strings.HasPrefix(encodedHash, "$"+algorithmID+"$") && m.Argon2 != nil:
		return m.Argon2.Verify(password, encodedHash)
	case m.Primary != nil:
		return m.Primary.Verify(password, encodedHash)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash reports whether encodedHash was produced by a hasher other than
// the primary one, or by the primary one with weaker parameters.
func (m *Multi) NeedsRehash(encodedHash string) bool {
	switch p := m.Primary.(type) {
	case *Bcrypt:
		if !isBcryptHash(encodedHash) {
			return true
		}
		return p.NeedsUpgrade(encodedHash)
	case *Argon2:
		upgrade, err := p.NeedsUpgrade(encodedHash)
		return err != nil || upgrade
	default:
		return false
	}
}

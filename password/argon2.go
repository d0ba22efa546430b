package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// Argon2Config holds Argon2id cost parameters. Memory is in KiB.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the recommended interactive-login parameters.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// floor is the weakest configuration NewArgon2 accepts and the weakest
// encoded hash Verify will evaluate.
var floor = Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}

func (c Argon2Config) check() error {
	switch {
	case c.Memory < floor.Memory:
		return fmt.Errorf("argon2 memory must be >= %d KiB", floor.Memory)
	case c.Time < floor.Time:
		return errors.New("argon2 time must be >= 1")
	case c.Parallelism < floor.Parallelism:
		return errors.New("argon2 parallelism must be >= 1")
	case c.SaltLength < floor.SaltLength:
		return fmt.Errorf("argon2 salt length must be >= %d", floor.SaltLength)
	case c.KeyLength < floor.KeyLength:
		return fmt.Errorf("argon2 key length must be >= %d", floor.KeyLength)
	}
	return nil
}

// Argon2 hashes passwords with Argon2id and encodes them as PHC strings.
type Argon2 struct {
	cfg Argon2Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash derives a key from password with a fresh salt. The password bytes
// are used as given.
func (a *Argon2) Hash(password string) (string, error) {
	salt := make([]byte, a.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	p := phc{cfg: a.cfg, salt: salt}
	p.key = p.derive(password)
	return p.String(), nil
}

// Verify recomputes the key with the parameters stored in encodedHash.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with cheaper costs
// or a different key length than the hasher is configured for.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	stored := p.cfg
	return stored.Memory < a.cfg.Memory ||
		stored.Time < a.cfg.Time ||
		stored.Parallelism < a.cfg.Parallelism ||
		stored.KeyLength != a.cfg.KeyLength, nil
}

// phc is one decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phc struct {
	cfg  Argon2Config
	salt []byte
	key  []byte
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.cfg.Time, p.cfg.Memory, p.cfg.Parallelism, p.cfg.KeyLength)
}

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		p.cfg.Memory, p.cfg.Time, p.cfg.Parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

var b64 = base64.RawStdEncoding

func parsePHC(encoded string) (phc, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != algorithmID {
		return phc{}, ErrUnsupportedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return phc{}, fmt.Errorf("argon2 version: %w", err)
	}
	if version != argon2.Version {
		return phc{}, fmt.Errorf("argon2 version %d not supported", version)
	}

	var p phc
	var parallelism uint32
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.cfg.Memory, &p.cfg.Time, &parallelism); err != nil {
		return phc{}, fmt.Errorf("argon2 parameters: %w", err)
	}
	if parallelism > 255 {
		return phc{}, errors.New("argon2 parallelism out of range")
	}
	p.cfg.Parallelism = uint8(parallelism)

	// Older encodings were padded.
	salt, err := b64.DecodeString(strings.TrimRight(fields[4], "="))
	if err != nil {
		return phc{}, fmt.Errorf("argon2 salt: %w", err)
	}
	key, err := b64.DecodeString(strings.TrimRight(fields[5], "="))
	if err != nil {
		return phc{}, fmt.Errorf("argon2 key: %w", err)
	}
	p.salt, p.key = salt, key
	p.cfg.SaltLength, p.cfg.KeyLength = uint32(len(salt)), uint32(len(key))

	if err := p.cfg.check(); err != nil {
		return phc{}, fmt.Errorf("argon2 hash too weak: %w", err)
	}
	return p, nil
}

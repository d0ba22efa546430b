package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultSize is the number of random bytes behind session and link tokens.
const DefaultSize = 32

const minSize = 16

var errTokenSize = errors.New("token size must be >= 16 bytes")

// Generate returns size bytes from crypto/rand as unpadded base64url.
func Generate(size int) (string, error) {
	if size < minSize {
		return "", errTokenSize
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewToken returns a DefaultSize opaque token.
func NewToken() (string, error) {
	return Generate(DefaultSize)
}

// NewSessionID returns a ULID string (26 chars). ULIDs sort by creation time,
// which keeps per-user session listings ordered in every backend.
func NewSessionID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewUserID returns a random UUIDv4 string.
func NewUserID() string {
	return uuid.NewString()
}

package tokens

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestGenerateLengthAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken failed: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			t.Fatalf("token is not base64url: %v", err)
		}
		if len(raw) != DefaultSize {
			t.Fatalf("expected %d bytes, got %d", DefaultSize, len(raw))
		}
		if _, dup := seen[tok]; dup {
			t.Fatal("duplicate token generated")
		}
		seen[tok] = struct{}{}
	}
}

func TestGenerateRejectsShortSize(t *testing.T) {
	if _, err := Generate(8); err == nil {
		t.Fatal("expected short size to fail")
	}
}

func TestSessionIDsSortByTime(t *testing.T) {
	earlier, err := NewSessionID(time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	later, err := NewSessionID(time.Unix(1_700_000_100, 0))
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	if len(earlier) != ulid.EncodedSize {
		t.Fatalf("unexpected ulid length %d", len(earlier))
	}
	if earlier >= later {
		t.Fatalf("expected %s < %s", earlier, later)
	}
}

func TestNewUserIDIsUUID(t *testing.T) {
	if _, err := uuid.Parse(NewUserID()); err != nil {
		t.Fatalf("expected uuid, got error: %v", err)
	}
}

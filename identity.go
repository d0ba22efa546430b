package goAccounts

import (
	"context"
	"strings"
)

// IdentityKind selects which user field an [Identity] matches.
type IdentityKind uint8

const (
	// IdentityNone is the zero identity. It never matches a user.
	IdentityNone IdentityKind = iota
	// IdentityKindID matches the user id.
	IdentityKindID
	// IdentityKindUsername matches the username.
	IdentityKindUsername
	// IdentityKindEmail matches any owned address.
	IdentityKindEmail
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityKindID:
		return "id"
	case IdentityKindUsername:
		return "username"
	case IdentityKindEmail:
		return "email"
	default:
		return "none"
	}
}

// Identity names one user by exactly one of id, username or email.
type Identity struct {
	Kind  IdentityKind
	Value string
}

// IdentityByID returns an identity matching the user id.
func IdentityByID(id string) Identity {
	return Identity{Kind: IdentityKindID, Value: strings.TrimSpace(id)}
}

// IdentityByUsername returns an identity matching the username.
func IdentityByUsername(username string) Identity {
	return Identity{Kind: IdentityKindUsername, Value: strings.TrimSpace(username)}
}

// IdentityByEmail returns an identity matching an owned address.
func IdentityByEmail(email string) Identity {
	return Identity{Kind: IdentityKindEmail, Value: NormalizeEmail(email)}
}

// ParseIdentity resolves a free-form login string once at the boundary: an
// email-shaped value is an email identity, anything else is a username.
func ParseIdentity(s string) Identity {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}
	}
	if LooksLikeEmail(s) {
		return IdentityByEmail(s)
	}
	return IdentityByUsername(s)
}

// LooksLikeEmail is the loose local@domain shape check used for identity
// parsing and default email validation.
func LooksLikeEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	return strings.Contains(s[at+1:], ".")
}

// IsZero reports whether the identity names nothing.
func (i Identity) IsZero() bool {
	return i.Kind == IdentityNone || i.Value == ""
}

func (i Identity) String() string {
	if i.IsZero() {
		return ""
	}
	return i.Kind.String() + ":" + i.Value
}

// FindUserByIdentity resolves an identity through storage. A missing user is
// reported as (nil, nil).
func FindUserByIdentity(ctx context.Context, db UserStore, id Identity) (*User, error) {
	if id.IsZero() {
		return nil, nil
	}
	switch id.Kind {
	case IdentityKindID:
		return db.FindUserByID(ctx, id.Value)
	case IdentityKindUsername:
		return db.FindUserByUsername(ctx, id.Value)
	case IdentityKindEmail:
		return db.FindUserByEmail(ctx, NormalizeEmail(id.Value))
	default:
		return nil, nil
	}
}

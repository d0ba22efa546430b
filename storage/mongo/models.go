package mongo

import (
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
)

type userDoc struct {
	ID          string         `bson:"_id"`
	Username    string         `bson:"username,omitempty"`
	Emails      []emailDoc     `bson:"emails,omitempty"`
	Services    servicesDoc    `bson:"services"`
	Profile     map[string]any `bson:"profile,omitempty"`
	Deactivated bool           `bson:"deactivated"`
	CreatedAt   time.Time      `bson:"createdAt"`
	UpdatedAt   time.Time      `bson:"updatedAt"`
}

type emailDoc struct {
	Address  string `bson:"address"`
	Verified bool   `bson:"verified"`
}

type tokenDoc struct {
	Token   string    `bson:"token"`
	Address string    `bson:"address"`
	When    time.Time `bson:"when"`
	Reason  string    `bson:"reason,omitempty"`
}

type servicesDoc struct {
	Password struct {
		Hash  string     `bson:"bcrypt,omitempty"`
		Reset []tokenDoc `bson:"reset,omitempty"`
	} `bson:"password"`
	Email struct {
		VerificationTokens []tokenDoc `bson:"verificationTokens,omitempty"`
	} `bson:"email"`
	TwoFactor struct {
		Secret string `bson:"secret,omitempty"`
	} `bson:"twoFactor"`
	External map[string]externalDoc `bson:"external,omitempty"`
}

type externalDoc struct {
	ID string `bson:"id"`
}

type sessionDoc struct {
	ID        string         `bson:"_id"`
	UserID    string         `bson:"userId"`
	Token     string         `bson:"token"`
	Valid     bool           `bson:"valid"`
	IP        string         `bson:"ip"`
	UserAgent string         `bson:"userAgent"`
	Extra     map[string]any `bson:"extra,omitempty"`
	CreatedAt time.Time      `bson:"createdAt"`
	UpdatedAt time.Time      `bson:"updatedAt"`
}

func tokenToDoc(r goAccounts.TokenRecord) tokenDoc {
	return tokenDoc{
		Token:   r.Token,
		Address: goAccounts.NormalizeEmail(r.Address),
		When:    r.When.UTC(),
		Reason:  r.Reason,
	}
}

func tokensFromDocs(docs []tokenDoc) []goAccounts.TokenRecord {
	if len(docs) == 0 {
		return nil
	}
	out := make([]goAccounts.TokenRecord, len(docs))
	for i, d := range docs {
		out[i] = goAccounts.TokenRecord{Token: d.Token, Address: d.Address, When: d.When, Reason: d.Reason}
	}
	return out
}

func (d *userDoc) toUser() *goAccounts.User {
	u := &goAccounts.User{
		ID:          d.ID,
		Username:    d.Username,
		Profile:     d.Profile,
		Deactivated: d.Deactivated,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, e := range d.Emails {
		u.Emails = append(u.Emails, goAccounts.EmailRecord{Address: e.Address, Verified: e.Verified})
	}
	u.Services.Password.Hash = d.Services.Password.Hash
	u.Services.Password.Reset = tokensFromDocs(d.Services.Password.Reset)
	u.Services.Email.VerificationTokens = tokensFromDocs(d.Services.Email.VerificationTokens)
	u.Services.TwoFactor.Secret = d.Services.TwoFactor.Secret
	if len(d.Services.External) > 0 {
		u.Services.External = make(map[string]goAccounts.ExternalService, len(d.Services.External))
		for name, ext := range d.Services.External {
			u.Services.External[name] = goAccounts.ExternalService{ID: ext.ID}
		}
	}
	return u
}

func (d *sessionDoc) toSession() *goAccounts.Session {
	return &goAccounts.Session{
		ID:        d.ID,
		UserID:    d.UserID,
		Token:     d.Token,
		Valid:     d.Valid,
		IP:        d.IP,
		UserAgent: d.UserAgent,
		Extra:     d.Extra,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

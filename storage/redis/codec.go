package redis

import (
	"encoding/json"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
)

type userDoc struct {
	ID          string         `json:"id"`
	Username    string         `json:"username,omitempty"`
	Emails      []emailDoc     `json:"emails,omitempty"`
	Services    servicesDoc    `json:"services"`
	Profile     map[string]any `json:"profile,omitempty"`
	Deactivated bool           `json:"deactivated"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type emailDoc struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

type tokenDoc struct {
	Token   string    `json:"token"`
	Address string    `json:"address"`
	When    time.Time `json:"when"`
	Reason  string    `json:"reason,omitempty"`
}

type servicesDoc struct {
	Password struct {
		Hash  string     `json:"bcrypt,omitempty"`
		Reset []tokenDoc `json:"reset,omitempty"`
	} `json:"password"`
	Email struct {
		VerificationTokens []tokenDoc `json:"verificationTokens,omitempty"`
	} `json:"email"`
	TwoFactor struct {
		Secret string `json:"secret,omitempty"`
	} `json:"two-factor"`
	External map[string]string `json:"external,omitempty"`
}

func encodeUser(u *goAccounts.User) ([]byte, error) {
	doc := userDoc{
		ID:          u.ID,
		Username:    u.Username,
		Profile:     u.Profile,
		Deactivated: u.Deactivated,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	for _, e := range u.Emails {
		doc.Emails = append(doc.Emails, emailDoc{Address: e.Address, Verified: e.Verified})
	}
	doc.Services.Password.Hash = u.Services.Password.Hash
	doc.Services.Password.Reset = encodeTokens(u.Services.Password.Reset)
	doc.Services.Email.VerificationTokens = encodeTokens(u.Services.Email.VerificationTokens)
	doc.Services.TwoFactor.Secret = u.Services.TwoFactor.Secret
	if len(u.Services.External) > 0 {
		doc.Services.External = make(map[string]string, len(u.Services.External))
		for name, ext := range u.Services.External {
			doc.Services.External[name] = ext.ID
		}
	}
	return json.Marshal(doc)
}

func decodeUser(data []byte) (*goAccounts.User, error) {
	var doc userDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	u := &goAccounts.User{
		ID:          doc.ID,
		Username:    doc.Username,
		Profile:     doc.Profile,
		Deactivated: doc.Deactivated,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	for _, e := range doc.Emails {
		u.Emails = append(u.Emails, goAccounts.EmailRecord{Address: e.Address, Verified: e.Verified})
	}
	u.Services.Password.Hash = doc.Services.Password.Hash
	u.Services.Password.Reset = decodeTokens(doc.Services.Password.Reset)
	u.Services.Email.VerificationTokens = decodeTokens(doc.Services.Email.VerificationTokens)
	u.Services.TwoFactor.Secret = doc.Services.TwoFactor.Secret
	if len(doc.Services.External) > 0 {
		u.Services.External = make(map[string]goAccounts.ExternalService, len(doc.Services.External))
		for name, id := range doc.Services.External {
			u.Services.External[name] = goAccounts.ExternalService{ID: id}
		}
	}
	return u, nil
}

func encodeTokens(records []goAccounts.TokenRecord) []tokenDoc {
	if len(records) == 0 {
		return nil
	}
	out := make([]tokenDoc, len(records))
	for i, r := range records {
		out[i] = tokenDoc{Token: r.Token, Address: r.Address, When: r.When.UTC(), Reason: r.Reason}
	}
	return out
}

func decodeTokens(docs []tokenDoc) []goAccounts.TokenRecord {
	if len(docs) == 0 {
		return nil
	}
	out := make([]goAccounts.TokenRecord, len(docs))
	for i, d := range docs {
		out[i] = goAccounts.TokenRecord{Token: d.Token, Address: d.Address, When: d.When, Reason: d.Reason}
	}
	return out
}

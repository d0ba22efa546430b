package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Secret is a freshly generated shared secret.
type Secret struct {
	Base32 string
	URI    string
}

// GenerateSecret returns a random secret and its otpauth:// provisioning
// URI for account.
func (s *Service) GenerateSecret(account string) (Secret, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, err
	}
	encoded := secretEncoding.EncodeToString(raw)
	return Secret{Base32: encoded, URI: s.provisionURI(encoded, account)}, nil
}

func (s *Service) provisionURI(secretBase32, account string) string {
	issuer := s.cfg.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(s.cfg.Period))
	v.Set("digits", strconv.Itoa(s.cfg.Digits))
	v.Set("algorithm", strings.ToUpper(s.cfg.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// DecodeSecret parses a base32 secret, tolerating lowercase, spaces and
// padding.
func DecodeSecret(secretBase32 string) ([]byte, error) {
	clean := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secretBase32), " ", ""))
	clean = strings.TrimRight(clean, "=")
	raw, err := secretEncoding.DecodeString(clean)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

// VerifyCode checks code against secret at now within the configured skew
// window and returns the matching counter.
func (s *Service) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != s.cfg.Digits || !isNumeric(trimmed) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	base := now.Unix() / int64(s.cfg.Period)
	for step := -s.cfg.Skew; step <= s.cfg.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotp(secret, counter, s.cfg.Digits, s.cfg.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// Code returns the current code for secret. Intended for tests and tooling.
func (s *Service) Code(secret []byte, now time.Time) (string, error) {
	return hotp(secret, now.Unix()/int64(s.cfg.Period), s.cfg.Digits, s.cfg.Algorithm)
}

func hotp(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

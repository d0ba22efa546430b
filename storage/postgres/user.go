package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/internal/tokens"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	kindVerify = "verify"
	kindReset  = "reset"
)

// uniqueViolation maps a unique constraint failure to the contract error
// for that column. Other errors map to nil.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "user_emails_pkey":
		return goAccounts.ErrEmailTaken
	case "users_username_key":
		return goAccounts.ErrUsernameTaken
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeJSON(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// loadUser reads the full user aggregate. It returns (nil, nil) when the id
// does not exist.
func loadUser(ctx context.Context, q querier, userID string) (*goAccounts.User, error) {
	var (
		u        goAccounts.User
		username *string
		profile  []byte
	)
	err := q.QueryRow(ctx, `
		SELECT id, username, password_hash, two_factor_secret, profile, deactivated, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&u.ID,
		&username,
		&u.Services.Password.Hash,
		&u.Services.TwoFactor.Secret,
		&profile,
		&u.Deactivated,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if username != nil {
		u.Username = *username
	}
	if u.Profile, err = decodeJSON(profile); err != nil {
		return nil, err
	}

	rows, _ := q.Query(ctx, `
		SELECT address, verified FROM user_emails WHERE user_id = $1 ORDER BY seq
	`, userID)
	u.Emails, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (goAccounts.EmailRecord, error) {
		var e goAccounts.EmailRecord
		err := row.Scan(&e.Address, &e.Verified)
		return e, err
	})
	if err != nil {
		return nil, err
	}
	if len(u.Emails) == 0 {
		u.Emails = nil
	}

	rows, _ = q.Query(ctx, `
		SELECT kind, token, address, reason, created_at FROM user_tokens WHERE user_id = $1 ORDER BY seq
	`, userID)
	type tokenRow struct {
		kind   string
		record goAccounts.TokenRecord
	}
	tokenRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tokenRow, error) {
		var t tokenRow
		err := row.Scan(&t.kind, &t.record.Token, &t.record.Address, &t.record.Reason, &t.record.When)
		return t, err
	})
	if err != nil {
		return nil, err
	}
	for _, t := range tokenRows {
		switch t.kind {
		case kindVerify:
			u.Services.Email.VerificationTokens = append(u.Services.Email.VerificationTokens, t.record)
		case kindReset:
			u.Services.Password.Reset = append(u.Services.Password.Reset, t.record)
		}
	}

	rows, _ = q.Query(ctx, `SELECT service, service_id FROM user_services WHERE user_id = $1`, userID)
	services, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([2]string, error) {
		var pair [2]string
		err := row.Scan(&pair[0], &pair[1])
		return pair, err
	})
	if err != nil {
		return nil, err
	}
	if len(services) > 0 {
		u.Services.External = make(map[string]goAccounts.ExternalService, len(services))
		for _, pair := range services {
			u.Services.External[pair[0]] = goAccounts.ExternalService{ID: pair[1]}
		}
	}

	return &u, nil
}

// findBy resolves a single user id with query and loads that user.
func (s *Storage) findBy(ctx context.Context, op, query string, args ...any) (*goAccounts.User, error) {
	var id string
	err := s.db.QueryRow(ctx, query, args...).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u, err := loadUser(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// FindUserByID loads a user with its emails, tokens and linked services.
func (s *Storage) FindUserByID(ctx context.Context, userID string) (*goAccounts.User, error) {
	const op = "storage.postgres.FindUserByID"

	u, err := loadUser(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *Storage) FindUserByEmail(ctx context.Context, email string) (*goAccounts.User, error) {
	return s.findBy(ctx, "storage.postgres.FindUserByEmail",
		`SELECT user_id FROM user_emails WHERE address = $1`, goAccounts.NormalizeEmail(email))
}

func (s *Storage) FindUserByUsername(ctx context.Context, username string) (*goAccounts.User, error) {
	return s.findBy(ctx, "storage.postgres.FindUserByUsername",
		`SELECT id FROM users WHERE username = $1`, username)
}

func (s *Storage) FindUserByServiceID(ctx context.Context, service, serviceID string) (*goAccounts.User, error) {
	return s.findBy(ctx, "storage.postgres.FindUserByServiceID",
		`SELECT user_id FROM user_services WHERE service = $1 AND service_id = $2`, service, serviceID)
}

func (s *Storage) FindUserByEmailVerificationToken(ctx context.Context, token string) (*goAccounts.User, error) {
	return s.findBy(ctx, "storage.postgres.FindUserByEmailVerificationToken",
		`SELECT user_id FROM user_tokens WHERE kind = $1 AND token = $2`, kindVerify, token)
}

func (s *Storage) FindUserByResetPasswordToken(ctx context.Context, token string) (*goAccounts.User, error) {
	return s.findBy(ctx, "storage.postgres.FindUserByResetPasswordToken",
		`SELECT user_id FROM user_tokens WHERE kind = $1 AND token = $2`, kindReset, token)
}

func (s *Storage) FindPasswordHash(ctx context.Context, userID string) (string, error) {
	const op = "storage.postgres.FindPasswordHash"

	var hash string
	err := s.db.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", goAccounts.ErrUserNotFound
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return hash, nil
}

// CreateUser inserts the user row and its first email in one transaction.
func (s *Storage) CreateUser(ctx context.Context, input goAccounts.CreateUserInput) (string, error) {
	const op = "storage.postgres.CreateUser"

	profile, err := encodeJSON(input.Profile)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	email := goAccounts.NormalizeEmail(input.Email)
	id := tokens.NewUserID()
	now := s.now().UTC()

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if email != "" {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM user_emails WHERE address = $1)`, email,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return goAccounts.ErrEmailTaken
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, username, password_hash, profile, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, id, nullable(input.Username), input.PasswordHash, profile, now); err != nil {
			return err
		}
		if email != "" {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_emails (address, user_id) VALUES ($1, $2)`, email, id,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, goAccounts.ErrEmailTaken) {
			return "", err
		}
		if mapped := uniqueViolation(err); mapped != nil {
			return "", mapped
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// mutate locks the user row, runs fn and bumps updated_at, all in one
// transaction. A missing user yields ErrUserNotFound.
func (s *Storage) mutate(ctx context.Context, op, userID string, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return goAccounts.ErrUserNotFound
			}
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE users SET updated_at = $2 WHERE id = $1`, userID, s.now().UTC())
		return err
	})
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		goAccounts.ErrUserNotFound,
		goAccounts.ErrEmailTaken,
		goAccounts.ErrUsernameTaken,
		goAccounts.ErrTokenConsumed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	if mapped := uniqueViolation(err); mapped != nil {
		return mapped
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Storage) SetUsername(ctx context.Context, userID, username string) error {
	return s.mutate(ctx, "storage.postgres.SetUsername", userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE users SET username = $2 WHERE id = $1`, userID, nullable(username))
		return err
	})
}

func (s *Storage) SetPassword(ctx context.Context, userID, passwordHash string) error {
	return s.mutate(ctx, "storage.postgres.SetPassword", userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
		return err
	})
}

// SetResetPassword redeems token under the user row lock, so concurrent
// redemptions of the same token serialize and only the first succeeds.
func (s *Storage) SetResetPassword(ctx context.Context, userID, _ string, passwordHash, token string) error {
	return s.mutate(ctx, "storage.postgres.SetResetPassword", userID, func(tx pgx.Tx) error {
		var present bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_tokens WHERE user_id = $1 AND kind = $2 AND token = $3)`,
			userID, kindReset, token,
		).Scan(&present); err != nil {
			return err
		}
		if !present {
			return goAccounts.ErrTokenConsumed
		}
		if _, err := tx.Exec(ctx,
			`UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM user_tokens WHERE user_id = $1 AND kind = $2`, userID, kindReset)
		return err
	})
}

func (s *Storage) AddEmail(ctx context.Context, userID, email string, verified bool) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(ctx, "storage.postgres.AddEmail", userID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_emails (address, user_id, verified) VALUES ($1, $2, $3)
			ON CONFLICT (address) DO NOTHING
		`, email, userID, verified)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		var current string
		if err := tx.QueryRow(ctx, `SELECT user_id FROM user_emails WHERE address = $1`, email).Scan(&current); err != nil {
			return err
		}
		if current != userID {
			return goAccounts.ErrEmailTaken
		}
		return nil
	})
}

func (s *Storage) RemoveEmail(ctx context.Context, userID, email string) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(ctx, "storage.postgres.RemoveEmail", userID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM user_emails WHERE user_id = $1 AND address = $2`, userID, email)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return goAccounts.ErrUserNotFound
		}
		return nil
	})
}

func (s *Storage) VerifyEmail(ctx context.Context, userID, email, token string) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(ctx, "storage.postgres.VerifyEmail", userID, func(tx pgx.Tx) error {
		var owned, present bool
		if err := tx.QueryRow(ctx, `
			SELECT
				EXISTS (SELECT 1 FROM user_emails WHERE user_id = $1 AND address = $2),
				EXISTS (SELECT 1 FROM user_tokens WHERE user_id = $1 AND kind = $3 AND token = $4)
		`, userID, email, kindVerify, token).Scan(&owned, &present); err != nil {
			return err
		}
		if !owned {
			return goAccounts.ErrUserNotFound
		}
		if token != "" && !present {
			return goAccounts.ErrTokenConsumed
		}
		tag, err := tx.Exec(ctx,
			`UPDATE user_emails SET verified = TRUE WHERE user_id = $1 AND address = $2`, userID, email)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return goAccounts.ErrUserNotFound
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM user_tokens WHERE user_id = $1 AND kind = $2 AND address = $3`, userID, kindVerify, email)
		return err
	})
}

func (s *Storage) addToken(ctx context.Context, op, kind, userID string, record goAccounts.TokenRecord) error {
	return s.mutate(ctx, op, userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_tokens (kind, token, user_id, address, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, kind, record.Token, userID, goAccounts.NormalizeEmail(record.Address), record.Reason, record.When.UTC())
		return err
	})
}

func (s *Storage) AddEmailVerificationToken(ctx context.Context, userID string, record goAccounts.TokenRecord) error {
	return s.addToken(ctx, "storage.postgres.AddEmailVerificationToken", kindVerify, userID, record)
}

func (s *Storage) AddResetPasswordToken(ctx context.Context, userID string, record goAccounts.TokenRecord) error {
	return s.addToken(ctx, "storage.postgres.AddResetPasswordToken", kindReset, userID, record)
}

func (s *Storage) RemoveAllResetPasswordTokens(ctx context.Context, userID string) error {
	return s.mutate(ctx, "storage.postgres.RemoveAllResetPasswordTokens", userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM user_tokens WHERE user_id = $1 AND kind = $2`, userID, kindReset)
		return err
	})
}

func (s *Storage) SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	return s.mutate(ctx, "storage.postgres.SetUserDeactivated", userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE users SET deactivated = $2 WHERE id = $1`, userID, deactivated)
		return err
	})
}

func (s *Storage) SetTwoFactorSecret(ctx context.Context, userID, secret string) error {
	return s.mutate(ctx, "storage.postgres.SetTwoFactorSecret", userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE users SET two_factor_secret = $2 WHERE id = $1`, userID, secret)
		return err
	})
}

func (s *Storage) LinkService(ctx context.Context, userID, service, serviceID string) error {
	return s.mutate(ctx, "storage.postgres.LinkService", userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_services (user_id, service, service_id) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, service) DO UPDATE SET service_id = EXCLUDED.service_id
		`, userID, service, serviceID)
		return err
	})
}

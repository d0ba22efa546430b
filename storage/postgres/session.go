package postgres

import (
	"context"
	"errors"
	"fmt"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/internal/tokens"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateSessionToken is returned by CreateSession when the opaque token
// is already bound to another session.
var ErrDuplicateSessionToken = errors.New("storage.postgres: session token already exists")

const sessionColumns = `id, user_id, token, valid, ip, user_agent, extra, created_at, updated_at`

func scanSession(row pgx.Row) (*goAccounts.Session, error) {
	var (
		sess  goAccounts.Session
		extra []byte
	)
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.Token,
		&sess.Valid,
		&sess.IP,
		&sess.UserAgent,
		&extra,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sess.Extra, err = decodeJSON(extra); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Storage) findSession(ctx context.Context, op, where string, arg string) (*goAccounts.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

func (s *Storage) FindSessionByID(ctx context.Context, sessionID string) (*goAccounts.Session, error) {
	return s.findSession(ctx, "storage.postgres.FindSessionByID", `id = $1`, sessionID)
}

func (s *Storage) FindSessionByToken(ctx context.Context, token string) (*goAccounts.Session, error) {
	return s.findSession(ctx, "storage.postgres.FindSessionByToken", `token = $1`, token)
}

func (s *Storage) CreateSession(ctx context.Context, userID, token string, info goAccounts.ConnectionInfo, extra map[string]any) (string, error) {
	const op = "storage.postgres.CreateSession"

	now := s.now().UTC()
	id, err := tokens.NewSessionID(now)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	extraJSON, err := encodeJSON(extra)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token, valid, ip, user_agent, extra, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $7)
	`, id, userID, token, info.IP, info.UserAgent, extraJSON, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return "", ErrDuplicateSessionToken
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (s *Storage) UpdateSession(ctx context.Context, sessionID string, info goAccounts.ConnectionInfo) error {
	const op = "storage.postgres.UpdateSession"

	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET ip = $2, user_agent = $3, updated_at = $4 WHERE id = $1
	`, sessionID, info.IP, info.UserAgent, s.now().UTC())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return goAccounts.ErrSessionNotFound
	}
	return nil
}

// InvalidateSession only touches valid rows, so repeated calls leave
// updated_at at the first invalidation.
func (s *Storage) InvalidateSession(ctx context.Context, sessionID string) error {
	const op = "storage.postgres.InvalidateSession"

	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET valid = FALSE, updated_at = $2 WHERE id = $1 AND valid
	`, sessionID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) InvalidateAllSessions(ctx context.Context, userID string, excludedSessionIDs ...string) error {
	const op = "storage.postgres.InvalidateAllSessions"

	excluded := append([]string{}, excludedSessionIDs...)
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET valid = FALSE, updated_at = $2
		WHERE user_id = $1 AND valid AND NOT (id = ANY($3))
	`, userID, s.now().UTC(), excluded)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/internal/tokens"
	goredis "github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every transport-level failure returned by the
// Redis client.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrCorruptRecord is returned when a stored user or session cannot be decoded.
var ErrCorruptRecord = errors.New("redis: corrupt record")

const maxTxRetries = 16

const createUserScript = `
if ARGV[2] ~= "" and redis.call("EXISTS", KEYS[2]) == 1 then
  return 1
end
if ARGV[3] ~= "" and redis.call("EXISTS", KEYS[3]) == 1 then
  return 2
end
redis.call("SET", KEYS[1], ARGV[1])
if ARGV[2] ~= "" then
  redis.call("SET", KEYS[2], ARGV[4])
end
if ARGV[3] ~= "" then
  redis.call("SET", KEYS[3], ARGV[4])
end
return 0
`

var createUserLua = goredis.NewScript(createUserScript)

const createSessionScript = `
if redis.call("SETNX", KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1],
  "user_id", ARGV[2],
  "token", ARGV[3],
  "valid", "1",
  "ip", ARGV[4],
  "user_agent", ARGV[5],
  "extra", ARGV[6],
  "created_at", ARGV[7],
  "updated_at", ARGV[7])
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`

var createSessionLua = goredis.NewScript(createSessionScript)

const updateSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "ip", ARGV[1], "user_agent", ARGV[2], "updated_at", ARGV[3])
return 1
`

var updateSessionLua = goredis.NewScript(updateSessionScript)

const invalidateSessionScript = `
if redis.call("HGET", KEYS[1], "valid") == "1" then
  redis.call("HSET", KEYS[1], "valid", "0", "updated_at", ARGV[1])
  return 1
end
return 0
`

var invalidateSessionLua = goredis.NewScript(invalidateSessionScript)

const invalidateAllSessionsScript = `
local excluded = {}
for i = 3, #ARGV do
  excluded[ARGV[i]] = true
end
local changed = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  if not excluded[id] then
    local key = ARGV[1] .. id
    if redis.call("HGET", key, "valid") == "1" then
      redis.call("HSET", key, "valid", "0", "updated_at", ARGV[2])
      changed = changed + 1
    end
  end
end
return changed
`

var invalidateAllSessionsLua = goredis.NewScript(invalidateAllSessionsScript)

// Store implements [goAccounts.DatabaseInterface] on a Redis client.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace. Defaults to "accounts".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the time source used for timestamps and session ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Store using rdb.
func New(rdb goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: "accounts",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ goAccounts.DatabaseInterface = (*Store)(nil)

func (s *Store) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

func (s *Store) emailKey(email string) string {
	return s.prefix + ":user:email:" + email
}

func (s *Store) usernameKey(username string) string {
	return s.prefix + ":user:username:" + username
}

func (s *Store) serviceKey(service, serviceID string) string {
	return s.prefix + ":user:service:" + service + ":" + serviceID
}

func (s *Store) verifyKey(token string) string {
	return s.prefix + ":user:verify:" + token
}

func (s *Store) resetKey(token string) string {
	return s.prefix + ":user:reset:" + token
}

func (s *Store) userSessionsKey(userID string) string {
	return s.prefix + ":user:sessions:" + userID
}

func (s *Store) sessionPrefix() string {
	return s.prefix + ":session:"
}

func (s *Store) sessionKey(sessionID string) string {
	return s.sessionPrefix() + sessionID
}

func (s *Store) sessionTokenKey(token string) string {
	return s.prefix + ":session:token:" + token
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// passthrough reports whether err already carries a contract-level meaning
// and must reach the caller unwrapped.
func passthrough(err error) bool {
	for _, target := range []error{
		goAccounts.ErrUserNotFound,
		goAccounts.ErrEmailTaken,
		goAccounts.ErrUsernameTaken,
		goAccounts.ErrTokenConsumed,
		ErrRedisUnavailable,
		ErrCorruptRecord,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

/* ==== USERS ==== */

func (s *Store) readUser(ctx context.Context, c goredis.Cmdable, userID string) (*goAccounts.User, error) {
	data, err := c.Get(ctx, s.userKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	u, err := decodeUser(data)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", ErrCorruptRecord, userID, err)
	}
	return u, nil
}

// findIndexed resolves an index key to a user and confirms the user still
// matches. A stale index entry reads as no match.
func (s *Store) findIndexed(ctx context.Context, key string, match func(*goAccounts.User) bool) (*goAccounts.User, error) {
	id, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	u, err := s.readUser(ctx, s.rdb, id)
	if err != nil || u == nil {
		return nil, err
	}
	if !match(u) {
		return nil, nil
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (*goAccounts.User, error) {
	return s.readUser(ctx, s.rdb, userID)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*goAccounts.User, error) {
	email = goAccounts.NormalizeEmail(email)
	return s.findIndexed(ctx, s.emailKey(email), func(u *goAccounts.User) bool {
		return u.HasEmail(email)
	})
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*goAccounts.User, error) {
	return s.findIndexed(ctx, s.usernameKey(username), func(u *goAccounts.User) bool {
		return u.Username == username
	})
}

func (s *Store) FindUserByServiceID(ctx context.Context, service, serviceID string) (*goAccounts.User, error) {
	return s.findIndexed(ctx, s.serviceKey(service, serviceID), func(u *goAccounts.User) bool {
		ext, ok := u.Services.External[service]
		return ok && ext.ID == serviceID
	})
}

func (s *Store) FindUserByEmailVerificationToken(ctx context.Context, token string) (*goAccounts.User, error) {
	return s.findIndexed(ctx, s.verifyKey(token), func(u *goAccounts.User) bool {
		return hasToken(u.Services.Email.VerificationTokens, token)
	})
}

func (s *Store) FindUserByResetPasswordToken(ctx context.Context, token string) (*goAccounts.User, error) {
	return s.findIndexed(ctx, s.resetKey(token), func(u *goAccounts.User) bool {
		return hasToken(u.Services.Password.Reset, token)
	})
}

func (s *Store) FindPasswordHash(ctx context.Context, userID string) (string, error) {
	u, err := s.readUser(ctx, s.rdb, userID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", goAccounts.ErrUserNotFound
	}
	return u.Services.Password.Hash, nil
}

func (s *Store) CreateUser(ctx context.Context, input goAccounts.CreateUserInput) (string, error) {
	email := goAccounts.NormalizeEmail(input.Email)
	now := s.now().UTC()
	u := &goAccounts.User{
		ID:        tokens.NewUserID(),
		Username:  input.Username,
		Profile:   input.Profile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.Services.Password.Hash = input.PasswordHash
	if email != "" {
		u.Emails = []goAccounts.EmailRecord{{Address: email}}
	}
	data, err := encodeUser(u)
	if err != nil {
		return "", err
	}

	status, err := createUserLua.Run(ctx, s.rdb,
		[]string{s.userKey(u.ID), s.emailKey(email), s.usernameKey(input.Username)},
		data, email, input.Username, u.ID,
	).Int64()
	if err != nil {
		return "", unavailable(err)
	}
	switch status {
	case 1:
		return "", goAccounts.ErrEmailTaken
	case 2:
		return "", goAccounts.ErrUsernameTaken
	}
	return u.ID, nil
}

// userMutation edits u in place. The returned func, if any, queues index
// updates on the same MULTI block as the document write.
type userMutation func(ctx context.Context, tx *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error)

// mutate applies fn under WATCH on the user document and the given index
// keys, retrying when a concurrent writer touches any of them.
func (s *Store) mutate(ctx context.Context, userID string, watch []string, fn userMutation) error {
	key := s.userKey(userID)
	keys := append([]string{key}, watch...)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			u, err := s.readUser(ctx, tx, userID)
			if err != nil {
				return err
			}
			if u == nil {
				return goAccounts.ErrUserNotFound
			}
			indexes, err := fn(ctx, tx, u)
			if err != nil {
				return err
			}
			u.UpdatedAt = s.now().UTC()
			data, err := encodeUser(u)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if indexes != nil {
					indexes(pipe)
				}
				return nil
			})
			return err
		}, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err == nil || passthrough(err) {
			return err
		}
		return unavailable(err)
	}
	return fmt.Errorf("%w: user %s kept changing during update", ErrRedisUnavailable, userID)
}

// owner returns the user id stored under an index key, or "".
func owner(ctx context.Context, tx *goredis.Tx, key string) (string, error) {
	id, err := tx.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", unavailable(err)
	}
	return id, nil
}

func (s *Store) SetUsername(ctx context.Context, userID, username string) error {
	return s.mutate(ctx, userID, []string{s.usernameKey(username)},
		func(ctx context.Context, tx *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			if username != "" {
				current, err := owner(ctx, tx, s.usernameKey(username))
				if err != nil {
					return nil, err
				}
				if current != "" && current != userID {
					return nil, goAccounts.ErrUsernameTaken
				}
			}
			previous := u.Username
			u.Username = username
			return func(pipe goredis.Pipeliner) {
				if previous != "" && previous != username {
					pipe.Del(ctx, s.usernameKey(previous))
				}
				if username != "" {
					pipe.Set(ctx, s.usernameKey(username), userID, 0)
				}
			}, nil
		})
}

func (s *Store) SetPassword(ctx context.Context, userID, passwordHash string) error {
	return s.mutate(ctx, userID, nil,
		func(_ context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			u.Services.Password.Hash = passwordHash
			return nil, nil
		})
}

func (s *Store) SetResetPassword(ctx context.Context, userID, _ string, passwordHash, token string) error {
	return s.mutate(ctx, userID, nil,
		func(ctx context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			if !hasToken(u.Services.Password.Reset, token) {
				return nil, goAccounts.ErrTokenConsumed
			}
			dropped := u.Services.Password.Reset
			u.Services.Password.Hash = passwordHash
			u.Services.Password.Reset = nil
			return s.dropTokenIndexes(ctx, s.resetKey, dropped), nil
		})
}

func (s *Store) dropTokenIndexes(ctx context.Context, key func(string) string, records []goAccounts.TokenRecord) func(goredis.Pipeliner) {
	if len(records) == 0 {
		return nil
	}
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = key(r.Token)
	}
	return func(pipe goredis.Pipeliner) {
		pipe.Del(ctx, keys...)
	}
}

func (s *Store) AddEmail(ctx context.Context, userID, email string, verified bool) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(ctx, userID, []string{s.emailKey(email)},
		func(ctx context.Context, tx *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			current, err := owner(ctx, tx, s.emailKey(email))
			if err != nil {
				return nil, err
			}
			if current != "" && current != userID {
				return nil, goAccounts.ErrEmailTaken
			}
			if !u.HasEmail(email) {
				u.Emails = append(u.Emails, goAccounts.EmailRecord{Address: email, Verified: verified})
			}
			return func(pipe goredis.Pipeliner) {
				pipe.Set(ctx, s.emailKey(email), userID, 0)
			}, nil
		})
}

func (s *Store) RemoveEmail(ctx context.Context, userID, email string) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(ctx, userID, []string{s.emailKey(email)},
		func(ctx context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			if !u.HasEmail(email) {
				return nil, goAccounts.ErrUserNotFound
			}
			u.Emails = slices.DeleteFunc(u.Emails, func(e goAccounts.EmailRecord) bool {
				return e.Address == email
			})
			return func(pipe goredis.Pipeliner) {
				pipe.Del(ctx, s.emailKey(email))
			}, nil
		})
}

func (s *Store) VerifyEmail(ctx context.Context, userID, email, token string) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(ctx, userID, nil,
		func(ctx context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			idx := slices.IndexFunc(u.Emails, func(e goAccounts.EmailRecord) bool {
				return e.Address == email
			})
			if idx < 0 {
				return nil, goAccounts.ErrUserNotFound
			}
			if token != "" && !hasToken(u.Services.Email.VerificationTokens, token) {
				return nil, goAccounts.ErrTokenConsumed
			}
			u.Emails[idx].Verified = true
			var dropped []goAccounts.TokenRecord
			u.Services.Email.VerificationTokens = slices.DeleteFunc(u.Services.Email.VerificationTokens,
				func(r goAccounts.TokenRecord) bool {
					if r.Address == email {
						dropped = append(dropped, r)
						return true
					}
					return false
				})
			return s.dropTokenIndexes(ctx, s.verifyKey, dropped), nil
		})
}

func (s *Store) AddEmailVerificationToken(ctx context.Context, userID string, record goAccounts.TokenRecord) error {
	record.Address = goAccounts.NormalizeEmail(record.Address)
	return s.mutate(ctx, userID, nil,
		func(ctx context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			u.Services.Email.VerificationTokens = append(u.Services.Email.VerificationTokens, record)
			return func(pipe goredis.Pipeliner) {
				pipe.Set(ctx, s.verifyKey(record.Token), userID, 0)
			}, nil
		})
}

func (s *Store) AddResetPasswordToken(ctx context.Context, userID string, record goAccounts.TokenRecord) error {
	record.Address = goAccounts.NormalizeEmail(record.Address)
	return s.mutate(ctx, userID, nil,
		func(ctx context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			u.Services.Password.Reset = append(u.Services.Password.Reset, record)
			return func(pipe goredis.Pipeliner) {
				pipe.Set(ctx, s.resetKey(record.Token), userID, 0)
			}, nil
		})
}

func (s *Store) RemoveAllResetPasswordTokens(ctx context.Context, userID string) error {
	return s.mutate(ctx, userID, nil,
		func(ctx context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			dropped := u.Services.Password.Reset
			u.Services.Password.Reset = nil
			return s.dropTokenIndexes(ctx, s.resetKey, dropped), nil
		})
}

func (s *Store) SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	return s.mutate(ctx, userID, nil,
		func(_ context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			u.Deactivated = deactivated
			return nil, nil
		})
}

func (s *Store) SetTwoFactorSecret(ctx context.Context, userID, secret string) error {
	return s.mutate(ctx, userID, nil,
		func(_ context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			u.Services.TwoFactor.Secret = secret
			return nil, nil
		})
}

func (s *Store) LinkService(ctx context.Context, userID, service, serviceID string) error {
	return s.mutate(ctx, userID, nil,
		func(ctx context.Context, _ *goredis.Tx, u *goAccounts.User) (func(goredis.Pipeliner), error) {
			previous, linked := u.Services.External[service]
			if u.Services.External == nil {
				u.Services.External = make(map[string]goAccounts.ExternalService)
			}
			u.Services.External[service] = goAccounts.ExternalService{ID: serviceID}
			return func(pipe goredis.Pipeliner) {
				if linked && previous.ID != serviceID {
					pipe.Del(ctx, s.serviceKey(service, previous.ID))
				}
				pipe.Set(ctx, s.serviceKey(service, serviceID), userID, 0)
			}, nil
		})
}

func hasToken(records []goAccounts.TokenRecord, token string) bool {
	return slices.ContainsFunc(records, func(r goAccounts.TokenRecord) bool {
		return r.Token == token
	})
}

/* ==== SESSIONS ==== */

func (s *Store) FindSessionByID(ctx context.Context, sessionID string) (*goAccounts.Session, error) {
	fields, err := s.rdb.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeSession(sessionID, fields)
}

func (s *Store) FindSessionByToken(ctx context.Context, token string) (*goAccounts.Session, error) {
	id, err := s.rdb.Get(ctx, s.sessionTokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	return s.FindSessionByID(ctx, id)
}

func (s *Store) CreateSession(ctx context.Context, userID, token string, info goAccounts.ConnectionInfo, extra map[string]any) (string, error) {
	now := s.now().UTC()
	id, err := tokens.NewSessionID(now)
	if err != nil {
		return "", err
	}
	var extraJSON []byte
	if len(extra) > 0 {
		if extraJSON, err = json.Marshal(extra); err != nil {
			return "", fmt.Errorf("redis: encode session extra: %w", err)
		}
	}

	created, err := createSessionLua.Run(ctx, s.rdb,
		[]string{s.sessionKey(id), s.sessionTokenKey(token), s.userSessionsKey(userID)},
		id, userID, token, info.IP, info.UserAgent, string(extraJSON), stamp(now),
	).Int64()
	if err != nil {
		return "", unavailable(err)
	}
	if created == 0 {
		return "", errors.New("redis: session token already exists")
	}
	return id, nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, info goAccounts.ConnectionInfo) error {
	updated, err := updateSessionLua.Run(ctx, s.rdb,
		[]string{s.sessionKey(sessionID)},
		info.IP, info.UserAgent, stamp(s.now()),
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	if updated == 0 {
		return goAccounts.ErrSessionNotFound
	}
	return nil
}

func (s *Store) InvalidateSession(ctx context.Context, sessionID string) error {
	err := invalidateSessionLua.Run(ctx, s.rdb,
		[]string{s.sessionKey(sessionID)},
		stamp(s.now()),
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) InvalidateAllSessions(ctx context.Context, userID string, excludedSessionIDs ...string) error {
	args := make([]any, 0, 2+len(excludedSessionIDs))
	args = append(args, s.sessionPrefix(), stamp(s.now()))
	for _, id := range excludedSessionIDs {
		args = append(args, id)
	}
	err := invalidateAllSessionsLua.Run(ctx, s.rdb,
		[]string{s.userSessionsKey(userID)},
		args...,
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func decodeSession(sessionID string, fields map[string]string) (*goAccounts.Session, error) {
	sess := &goAccounts.Session{
		ID:        sessionID,
		UserID:    fields["user_id"],
		Token:     fields["token"],
		Valid:     fields["valid"] == "1",
		IP:        fields["ip"],
		UserAgent: fields["user_agent"],
	}
	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", ErrCorruptRecord, sessionID, err)
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", ErrCorruptRecord, sessionID, err)
	}
	if raw := fields["extra"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.Extra); err != nil {
			return nil, fmt.Errorf("%w: session %s: %v", ErrCorruptRecord, sessionID, err)
		}
	}
	return sess, nil
}

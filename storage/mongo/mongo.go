// Package mongo stores goAccounts users and sessions in MongoDB.
//
// Each user is one document with its emails, tokens and linked services
// embedded, so every contract mutation is a single-document update and is
// atomic without transactions.
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection    = "users"
	sessionsCollection = "sessions"
	defaultDBName      = "accounts"

	indexUsername     = "username_unique"
	indexEmailAddress = "emails_address_unique"
	indexSessionToken = "token_unique"
)

// Mongo is a MongoDB-backed [goAccounts.DatabaseInterface].
type Mongo struct {
	client   *mongodriver.Client
	users    *mongodriver.Collection
	sessions *mongodriver.Collection
	now      func() time.Time
}

// Option configures a Mongo store.
type Option func(*Mongo)

// WithClock overrides the time source used for timestamps and session ids.
func WithClock(now func() time.Time) Option {
	return func(m *Mongo) {
		if now != nil {
			m.now = now
		}
	}
}

// New connects to uri, pings the primary and ensures indexes. The database
// name is taken from the URI path and defaults to "accounts".
func New(ctx context.Context, uri string, opts ...Option) (*Mongo, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo: empty uri")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	m, err := NewWithDatabase(ctx, cli.Database(databaseFromURI(uri)), opts...)
	if err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	m.client = cli
	return m, nil
}

// NewWithDatabase uses an existing database handle. Close is a no-op for
// stores built this way.
func NewWithDatabase(ctx context.Context, db *mongodriver.Database, opts ...Option) (*Mongo, error) {
	m := &Mongo{
		users:    db.Collection(usersCollection),
		sessions: db.Collection(sessionsCollection),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Close disconnects the client opened by [New].
func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

var _ goAccounts.DatabaseInterface = (*Mongo)(nil)

// ensureIndexes creates the uniqueness and lookup indexes.
// Partial filters keep documents without a username or email out of the
// unique indexes.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	userModels := []mongodriver.IndexModel{
		{
			Keys: bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetName(indexUsername).SetUnique(true).
				SetPartialFilterExpression(bson.M{"username": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "emails.address", Value: 1}},
			Options: options.Index().SetName(indexEmailAddress).SetUnique(true).
				SetPartialFilterExpression(bson.M{"emails.address": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "services.password.reset.token", Value: 1}},
			Options: options.Index().SetName("reset_token"),
		},
		{
			Keys:    bson.D{{Key: "services.email.verificationTokens.token", Value: 1}},
			Options: options.Index().SetName("verification_token"),
		},
	}
	if _, err := m.users.Indexes().CreateMany(ctx, userModels); err != nil {
		return fmt.Errorf("mongo ensure user indexes: %w", err)
	}

	sessionModels := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetName(indexSessionToken).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "valid", Value: 1}},
			Options: options.Index().SetName("user_valid"),
		},
	}
	if _, err := m.sessions.Indexes().CreateMany(ctx, sessionModels); err != nil {
		return fmt.Errorf("mongo ensure session indexes: %w", err)
	}
	return nil
}

func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDBName
}

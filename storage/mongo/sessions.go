package mongo

import (
	"context"
	"errors"
	"fmt"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/internal/tokens"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

// ErrDuplicateSessionToken is returned by CreateSession when the opaque token
// is already bound to another session.
var ErrDuplicateSessionToken = errors.New("storage.mongo: session token already exists")

func (m *Mongo) findSession(ctx context.Context, op string, filter bson.M) (*goAccounts.Session, error) {
	var doc sessionDoc
	err := m.sessions.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return doc.toSession(), nil
}

func (m *Mongo) FindSessionByID(ctx context.Context, sessionID string) (*goAccounts.Session, error) {
	return m.findSession(ctx, "storage.mongo.FindSessionByID", bson.M{"_id": sessionID})
}

func (m *Mongo) FindSessionByToken(ctx context.Context, token string) (*goAccounts.Session, error) {
	return m.findSession(ctx, "storage.mongo.FindSessionByToken", bson.M{"token": token})
}

func (m *Mongo) CreateSession(ctx context.Context, userID, token string, info goAccounts.ConnectionInfo, extra map[string]any) (string, error) {
	const op = "storage.mongo.CreateSession"

	now := m.now().UTC()
	id, err := tokens.NewSessionID(now)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	doc := sessionDoc{
		ID:        id,
		UserID:    userID,
		Token:     token,
		Valid:     true,
		IP:        info.IP,
		UserAgent: info.UserAgent,
		Extra:     extra,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := m.sessions.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return "", ErrDuplicateSessionToken
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (m *Mongo) UpdateSession(ctx context.Context, sessionID string, info goAccounts.ConnectionInfo) error {
	const op = "storage.mongo.UpdateSession"

	res, err := m.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{"$set": bson.M{
		"ip":        info.IP,
		"userAgent": info.UserAgent,
		"updatedAt": m.now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return goAccounts.ErrSessionNotFound
	}
	return nil
}

func (m *Mongo) InvalidateSession(ctx context.Context, sessionID string) error {
	const op = "storage.mongo.InvalidateSession"

	_, err := m.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID, "valid": true},
		bson.M{"$set": bson.M{"valid": false, "updatedAt": m.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Mongo) InvalidateAllSessions(ctx context.Context, userID string, excludedSessionIDs ...string) error {
	const op = "storage.mongo.InvalidateAllSessions"

	excluded := append([]string{}, excludedSessionIDs...)
	_, err := m.sessions.UpdateMany(ctx,
		bson.M{"userId": userID, "valid": true, "_id": bson.M{"$nin": excluded}},
		bson.M{"$set": bson.M{"valid": false, "updatedAt": m.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

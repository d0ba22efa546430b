package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/internal/tokens"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// duplicate maps a duplicate key error on one of the unique user indexes to
// the contract error. Other errors map to nil.
func duplicate(err error) error {
	if !mongodriver.IsDuplicateKeyError(err) {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, indexEmailAddress):
		return goAccounts.ErrEmailTaken
	case strings.Contains(msg, indexUsername):
		return goAccounts.ErrUsernameTaken
	}
	return nil
}

func (m *Mongo) findOne(ctx context.Context, op string, filter bson.M) (*goAccounts.User, error) {
	var doc userDoc
	err := m.users.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return doc.toUser(), nil
}

func (m *Mongo) FindUserByID(ctx context.Context, userID string) (*goAccounts.User, error) {
	return m.findOne(ctx, "storage.mongo.FindUserByID", bson.M{"_id": userID})
}

func (m *Mongo) FindUserByEmail(ctx context.Context, email string) (*goAccounts.User, error) {
	return m.findOne(ctx, "storage.mongo.FindUserByEmail",
		bson.M{"emails.address": goAccounts.NormalizeEmail(email)})
}

func (m *Mongo) FindUserByUsername(ctx context.Context, username string) (*goAccounts.User, error) {
	return m.findOne(ctx, "storage.mongo.FindUserByUsername", bson.M{"username": username})
}

func (m *Mongo) FindUserByServiceID(ctx context.Context, service, serviceID string) (*goAccounts.User, error) {
	return m.findOne(ctx, "storage.mongo.FindUserByServiceID",
		bson.M{"services.external." + service + ".id": serviceID})
}

func (m *Mongo) FindUserByEmailVerificationToken(ctx context.Context, token string) (*goAccounts.User, error) {
	return m.findOne(ctx, "storage.mongo.FindUserByEmailVerificationToken",
		bson.M{"services.email.verificationTokens.token": token})
}

func (m *Mongo) FindUserByResetPasswordToken(ctx context.Context, token string) (*goAccounts.User, error) {
	return m.findOne(ctx, "storage.mongo.FindUserByResetPasswordToken",
		bson.M{"services.password.reset.token": token})
}

func (m *Mongo) FindPasswordHash(ctx context.Context, userID string) (string, error) {
	u, err := m.FindUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", goAccounts.ErrUserNotFound
	}
	return u.Services.Password.Hash, nil
}

func (m *Mongo) CreateUser(ctx context.Context, input goAccounts.CreateUserInput) (string, error) {
	const op = "storage.mongo.CreateUser"

	now := m.now().UTC()
	doc := userDoc{
		ID:        tokens.NewUserID(),
		Username:  input.Username,
		Profile:   input.Profile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.Services.Password.Hash = input.PasswordHash
	if email := goAccounts.NormalizeEmail(input.Email); email != "" {
		doc.Emails = []emailDoc{{Address: email}}
	}

	if _, err := m.users.InsertOne(ctx, doc); err != nil {
		if mapped := duplicate(err); mapped != nil {
			return "", mapped
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return doc.ID, nil
}

// update applies change to the user matching userID and cond. When nothing
// matches it returns ErrUserNotFound for a missing user and unmatched
// otherwise.
func (m *Mongo) update(ctx context.Context, op, userID string, cond bson.M, change bson.M, unmatched error) error {
	filter := bson.M{"_id": userID}
	for k, v := range cond {
		filter[k] = v
	}
	set, _ := change["$set"].(bson.M)
	if set == nil {
		set = bson.M{}
		change["$set"] = set
	}
	set["updatedAt"] = m.now().UTC()

	res, err := m.users.UpdateOne(ctx, filter, change)
	if err != nil {
		if mapped := duplicate(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if len(cond) == 0 || unmatched == nil {
		return goAccounts.ErrUserNotFound
	}
	n, err := m.users.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return goAccounts.ErrUserNotFound
	}
	if errors.Is(unmatched, errAlreadyApplied) {
		return nil
	}
	return unmatched
}

// errAlreadyApplied marks a condition whose failure means the write is
// already in place.
var errAlreadyApplied = errors.New("already applied")

func (m *Mongo) SetUsername(ctx context.Context, userID, username string) error {
	change := bson.M{"$set": bson.M{"username": username}}
	if username == "" {
		change = bson.M{"$unset": bson.M{"username": ""}}
	}
	return m.update(ctx, "storage.mongo.SetUsername", userID, nil, change, nil)
}

func (m *Mongo) SetPassword(ctx context.Context, userID, passwordHash string) error {
	return m.update(ctx, "storage.mongo.SetPassword", userID, nil,
		bson.M{"$set": bson.M{"services.password.bcrypt": passwordHash}}, nil)
}

// SetResetPassword matches on the token itself so only one concurrent
// redemption can succeed.
func (m *Mongo) SetResetPassword(ctx context.Context, userID, _ string, passwordHash, token string) error {
	return m.update(ctx, "storage.mongo.SetResetPassword", userID,
		bson.M{"services.password.reset.token": token},
		bson.M{
			"$set":   bson.M{"services.password.bcrypt": passwordHash},
			"$unset": bson.M{"services.password.reset": ""},
		},
		goAccounts.ErrTokenConsumed)
}

func (m *Mongo) AddEmail(ctx context.Context, userID, email string, verified bool) error {
	email = goAccounts.NormalizeEmail(email)
	return m.update(ctx, "storage.mongo.AddEmail", userID,
		bson.M{"emails.address": bson.M{"$ne": email}},
		bson.M{"$push": bson.M{"emails": emailDoc{Address: email, Verified: verified}}},
		errAlreadyApplied)
}

func (m *Mongo) RemoveEmail(ctx context.Context, userID, email string) error {
	email = goAccounts.NormalizeEmail(email)
	return m.update(ctx, "storage.mongo.RemoveEmail", userID,
		bson.M{"emails.address": email},
		bson.M{"$pull": bson.M{"emails": bson.M{"address": email}}},
		goAccounts.ErrUserNotFound)
}

// VerifyEmail matches on the token as well when one is given, so a second
// redemption of the same link finds nothing to update.
func (m *Mongo) VerifyEmail(ctx context.Context, userID, email, token string) error {
	const op = "storage.mongo.VerifyEmail"
	email = goAccounts.NormalizeEmail(email)
	pull := bson.M{"services.email.verificationTokens": bson.M{"address": email}}
	if token == "" {
		return m.update(ctx, op, userID,
			bson.M{"emails.address": email},
			bson.M{"$set": bson.M{"emails.$.verified": true}, "$pull": pull},
			goAccounts.ErrUserNotFound)
	}

	// The filter touches two arrays, so the address is targeted through an
	// array filter instead of the positional operator.
	res, err := m.users.UpdateOne(ctx,
		bson.M{
			"_id":                                     userID,
			"emails.address":                          email,
			"services.email.verificationTokens.token": token,
		},
		bson.M{
			"$set":  bson.M{"emails.$[e].verified": true, "updatedAt": m.now().UTC()},
			"$pull": pull,
		},
		options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"e.address": email}},
		}),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	owned, err := m.users.CountDocuments(ctx, bson.M{"_id": userID, "emails.address": email})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if owned == 0 {
		return goAccounts.ErrUserNotFound
	}
	return goAccounts.ErrTokenConsumed
}

func (m *Mongo) AddEmailVerificationToken(ctx context.Context, userID string, record goAccounts.TokenRecord) error {
	return m.update(ctx, "storage.mongo.AddEmailVerificationToken", userID, nil,
		bson.M{"$push": bson.M{"services.email.verificationTokens": tokenToDoc(record)}}, nil)
}

func (m *Mongo) AddResetPasswordToken(ctx context.Context, userID string, record goAccounts.TokenRecord) error {
	return m.update(ctx, "storage.mongo.AddResetPasswordToken", userID, nil,
		bson.M{"$push": bson.M{"services.password.reset": tokenToDoc(record)}}, nil)
}

func (m *Mongo) RemoveAllResetPasswordTokens(ctx context.Context, userID string) error {
	return m.update(ctx, "storage.mongo.RemoveAllResetPasswordTokens", userID, nil,
		bson.M{"$unset": bson.M{"services.password.reset": ""}}, nil)
}

func (m *Mongo) SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	return m.update(ctx, "storage.mongo.SetUserDeactivated", userID, nil,
		bson.M{"$set": bson.M{"deactivated": deactivated}}, nil)
}

func (m *Mongo) SetTwoFactorSecret(ctx context.Context, userID, secret string) error {
	return m.update(ctx, "storage.mongo.SetTwoFactorSecret", userID, nil,
		bson.M{"$set": bson.M{"services.twoFactor.secret": secret}}, nil)
}

func (m *Mongo) LinkService(ctx context.Context, userID, service, serviceID string) error {
	return m.update(ctx, "storage.mongo.LinkService", userID, nil,
		bson.M{"$set": bson.M{"services.external." + service: externalDoc{ID: serviceID}}}, nil)
}

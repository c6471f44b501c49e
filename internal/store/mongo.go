package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colUsers         = "users"
	colContracts     = "contracts"
	colNotifications = "notifications"
	colWithdrawals   = "withdrawals"
	colLeaderboard   = "leaderboard"
	colAssessments   = "assessments"
	colInvitations   = "assessment_invitations"
	colSessions      = "assessment_sessions"

	notificationTTL = 90 * 24 * time.Hour
)

// Connect opens a Mongo client, pings it, and returns a Store over db.
func Connect(ctx context.Context, uri, dbName string) (*Store, *mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	if err := ensureIndexes(ctx, db); err != nil {
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return NewMongo(db), client, nil
}

// NewMongo builds a Store over an existing database handle.
func NewMongo(db *mongo.Database) *Store {
	return &Store{
		Users:         &mongoUsers{c: db.Collection(colUsers)},
		Contracts:     &mongoContracts{c: db.Collection(colContracts)},
		Notifications: &mongoNotifications{c: db.Collection(colNotifications)},
		Withdrawals:   &mongoWithdrawals{c: db.Collection(colWithdrawals)},
		Leaderboard:   &mongoLeaderboard{c: db.Collection(colLeaderboard)},
		Assessments:   &mongoAssessments{c: db.Collection(colAssessments)},
		Invitations:   &mongoInvitations{c: db.Collection(colInvitations)},
		Sessions:      &mongoSessions{c: db.Collection(colSessions)},
	}
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := options.Index().SetUnique(true)
	_, err := db.Collection(colUsers).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "external_id", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return err
	}
	_, err = db.Collection(colContracts).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "creator_id", Value: 1}}},
		{Keys: bson.D{{Key: "contributor_id", Value: 1}}},
		{Keys: bson.D{{Key: "contributor_email", Value: 1}}},
		{Keys: bson.D{{Key: "milestones.payment_intent_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = db.Collection(colNotifications).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(notificationTTL.Seconds()))},
	})
	if err != nil {
		return err
	}
	// The partial unique index is the authority on the one-open-withdrawal
	// rule; racing requests lose at insert instead of at the pre-check.
	_, err = db.Collection(colWithdrawals).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
				"status": bson.M{"$in": []WithdrawalStatus{WithdrawalPending, WithdrawalProcessing}},
			})},
	})
	if err != nil {
		return err
	}
	_, err = db.Collection(colInvitations).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = db.Collection(colSessions).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "invitation_id", Value: 1}, {Key: "status", Value: 1}},
	})
	return err
}

// one decodes a single FindOne result, translating the driver's not-found.
func one[T any](res *mongo.SingleResult) (*T, error) {
	var doc T
	if err := res.Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// afterUpdate is the shared option for returning the post-update document.
func afterUpdate() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

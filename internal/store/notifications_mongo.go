package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoNotifications struct {
	c *mongo.Collection
}

func (s *mongoNotifications) Insert(ctx context.Context, n *Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, n)
	return err
}

func (s *mongoNotifications) List(ctx context.Context, recipientID string, page, limit int, unreadOnly bool) ([]*Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	filter := bson.M{"recipient_id": recipientID}
	if unreadOnly {
		filter["read"] = false
	}

	total, err := s.c.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var out []*Notification
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *mongoNotifications) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"recipient_id": recipientID, "read": false})
}

func (s *mongoNotifications) MarkRead(ctx context.Context, id, recipientID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": now}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		// Distinguish "already read" (no-op) from "not yours / missing".
		n, lookupErr := one[Notification](s.c.FindOne(ctx, bson.M{"_id": id, "recipient_id": recipientID}))
		if lookupErr != nil {
			return false, lookupErr
		}
		_ = n
		return false, nil
	}
	return true, nil
}

func (s *mongoNotifications) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.c.UpdateMany(ctx,
		bson.M{"recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": now}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *mongoNotifications) Delete(ctx context.Context, id, recipientID string) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id, "recipient_id": recipientID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

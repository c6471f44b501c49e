package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoWithdrawals struct {
	c *mongo.Collection
}

func (s *mongoWithdrawals) Create(ctx context.Context, w *Withdrawal) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, w)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (s *mongoWithdrawals) ByID(ctx context.Context, id string) (*Withdrawal, error) {
	return one[Withdrawal](s.c.FindOne(ctx, bson.M{"_id": id}))
}

func (s *mongoWithdrawals) ListByUser(ctx context.Context, userID string) ([]*Withdrawal, error) {
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Withdrawal
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoWithdrawals) HasOpen(ctx context.Context, userID string) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{
		"user_id": userID,
		"status":  bson.M{"$in": []WithdrawalStatus{WithdrawalPending, WithdrawalProcessing}},
	})
	return n > 0, err
}

func (s *mongoWithdrawals) TransitionStatus(ctx context.Context, id string, from []WithdrawalStatus, to WithdrawalStatus, adminNote, processorRef string) (*Withdrawal, error) {
	set := bson.M{"status": to}
	if adminNote != "" {
		set["admin_note"] = adminNote
	}
	if processorRef != "" {
		set["processor_ref"] = processorRef
	}
	if to == WithdrawalCompleted || to == WithdrawalRejected {
		set["processed_at"] = time.Now().UTC()
	}

	filter := bson.M{"_id": id}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}

	res := s.c.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, afterUpdate())
	w, err := one[Withdrawal](res)
	if err == ErrNotFound {
		return nil, ErrNoMatch
	}
	return w, err
}

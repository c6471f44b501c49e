package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoContracts struct {
	c *mongo.Collection
}

func (s *mongoContracts) Create(ctx context.Context, c *Contract) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.c.InsertOne(ctx, c)
	return err
}

func (s *mongoContracts) ByID(ctx context.Context, id string) (*Contract, error) {
	return one[Contract](s.c.FindOne(ctx, bson.M{"_id": id}))
}

func (s *mongoContracts) ByPaymentIntent(ctx context.Context, intentID string) (*Contract, error) {
	return one[Contract](s.c.FindOne(ctx, bson.M{"milestones.payment_intent_id": intentID}))
}

func (s *mongoContracts) ListForUser(ctx context.Context, userID, email string) ([]*Contract, error) {
	filter := bson.M{"$or": []bson.M{
		{"creator_id": userID},
		{"contributor_id": userID},
		{"contributor_email": email},
	}}
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Contract
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces the mutable contract fields. Milestone state is not
// written here; transitions go through UpdateMilestone.
func (s *mongoContracts) Update(ctx context.Context, c *Contract) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.c.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoContracts) Delete(ctx context.Context, id string) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoContracts) TransitionStatus(ctx context.Context, id string, from []ContractStatus, to ContractStatus) (*Contract, error) {
	filter := bson.M{"_id": id}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}
	res := s.c.FindOneAndUpdate(ctx, filter, bson.M{
		"$set": bson.M{"status": to, "updated_at": time.Now().UTC()},
	}, afterUpdate())
	c, err := one[Contract](res)
	if err == ErrNotFound {
		return nil, ErrNoMatch
	}
	return c, err
}

func (s *mongoContracts) BindContributor(ctx context.Context, id, userID string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "contributor_id": bson.M{"$in": []interface{}{nil, ""}}},
		bson.M{"$set": bson.M{"contributor_id": userID, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoMatch
	}
	return nil
}

func (s *mongoContracts) UpdateMilestone(ctx context.Context, id string, index int, pre MilestonePrecondition, upd MilestoneUpdate, entry *ActivityEntry) (*Contract, error) {
	prefix := fmt.Sprintf("milestones.%d.", index)

	filter := bson.M{"_id": id, prefix + "name": bson.M{"$exists": true}}
	if len(pre.Status) > 0 {
		filter[prefix+"status"] = bson.M{"$in": pre.Status}
	}
	if pre.PaymentStatusNot != "" {
		filter[prefix+"payment_status"] = bson.M{"$ne": pre.PaymentStatusNot}
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	setMilestone := func(field string, v interface{}) { set[prefix+field] = v }
	if upd.Status != nil {
		setMilestone("status", *upd.Status)
	}
	if upd.SubmissionNote != nil {
		setMilestone("submission_note", *upd.SubmissionNote)
	}
	if upd.SubmittedAt != nil {
		setMilestone("submitted_at", *upd.SubmittedAt)
	}
	if upd.ApprovedAt != nil {
		setMilestone("approved_at", *upd.ApprovedAt)
	}
	if upd.PaidAt != nil {
		setMilestone("paid_at", *upd.PaidAt)
	}
	if upd.PaymentIntentID != nil {
		setMilestone("payment_intent_id", *upd.PaymentIntentID)
	}
	if upd.PaymentStatus != nil {
		setMilestone("payment_status", *upd.PaymentStatus)
	}
	if upd.PaymentError != nil {
		setMilestone("payment_error", *upd.PaymentError)
	}
	if upd.PaymentFailedAt != nil {
		setMilestone("payment_failed_at", *upd.PaymentFailedAt)
	}
	if upd.PayoutAmount != nil {
		setMilestone("payout_amount", *upd.PayoutAmount)
	}
	if upd.RejectionFeedback != nil {
		setMilestone("rejection_feedback", *upd.RejectionFeedback)
	}

	update := bson.M{"$set": set}

	inc := bson.M{}
	if upd.IncRevisionCount {
		inc[prefix+"revision_count"] = 1
	}
	if upd.IncPaymentAttempts {
		inc[prefix+"payment_attempts"] = 1
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if entry != nil {
		update["$push"] = bson.M{prefix + "activity_log": entry}
	}

	res := s.c.FindOneAndUpdate(ctx, filter, update, afterUpdate())
	c, err := one[Contract](res)
	if err == ErrNotFound {
		return nil, ErrNoMatch
	}
	return c, err
}

package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoAssessments struct {
	c *mongo.Collection
}

func (s *mongoAssessments) Create(ctx context.Context, a *Assessment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.IsActive = true
	_, err := s.c.InsertOne(ctx, a)
	return err
}

func (s *mongoAssessments) ByID(ctx context.Context, id string) (*Assessment, error) {
	return one[Assessment](s.c.FindOne(ctx, bson.M{"_id": id}))
}

func (s *mongoAssessments) ListByEmployer(ctx context.Context, employerID string) ([]*Assessment, error) {
	cur, err := s.c.Find(ctx, bson.M{"employer_id": employerID, "is_active": true},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Assessment
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoAssessments) Deactivate(ctx context.Context, id, employerID string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "employer_id": employerID},
		bson.M{"$set": bson.M{"is_active": false}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoInvitations struct {
	c *mongo.Collection
}

func (s *mongoInvitations) Create(ctx context.Context, inv *AssessmentInvitation) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, inv)
	return err
}

func (s *mongoInvitations) ByID(ctx context.Context, id string) (*AssessmentInvitation, error) {
	return one[AssessmentInvitation](s.c.FindOne(ctx, bson.M{"_id": id}))
}

func (s *mongoInvitations) ByToken(ctx context.Context, token string) (*AssessmentInvitation, error) {
	return one[AssessmentInvitation](s.c.FindOne(ctx, bson.M{"token": token}))
}

func (s *mongoInvitations) ListByEmployer(ctx context.Context, employerID string) ([]*AssessmentInvitation, error) {
	cur, err := s.c.Find(ctx, bson.M{"employer_id": employerID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*AssessmentInvitation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoInvitations) TransitionStatus(ctx context.Context, id string, from []InvitationStatus, to InvitationStatus) error {
	filter := bson.M{"_id": id}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}
	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"status": to}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoMatch
	}
	return nil
}

type mongoSessions struct {
	c *mongo.Collection
}

func (s *mongoSessions) Create(ctx context.Context, sess *AssessmentSession) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, sess)
	return err
}

func (s *mongoSessions) ByID(ctx context.Context, id string) (*AssessmentSession, error) {
	return one[AssessmentSession](s.c.FindOne(ctx, bson.M{"_id": id}))
}

func (s *mongoSessions) HasInProgress(ctx context.Context, invitationID string) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{
		"invitation_id": invitationID,
		"status":        SessionInProgress,
	})
	return n > 0, err
}

// AppendTurn writes one turn in a single document update, guarded by the
// session still being in progress. Terminal sessions are immutable.
func (s *mongoSessions) AppendTurn(ctx context.Context, id string, messages []SessionMessage, upd SessionUpdate) (*AssessmentSession, error) {
	set := bson.M{}
	if upd.CurrentQuestionIndex != nil {
		set["current_question_index"] = *upd.CurrentQuestionIndex
	}
	if upd.TimeSpentSeconds != nil {
		set["time_spent_seconds"] = *upd.TimeSpentSeconds
	}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.CompletedAt != nil {
		set["completed_at"] = *upd.CompletedAt
	}
	if upd.Score != nil {
		set["score"] = *upd.Score
	}
	if upd.Breakdown != nil {
		set["breakdown"] = upd.Breakdown
	}
	if upd.Summary != nil {
		set["summary"] = *upd.Summary
	}
	if upd.Strengths != nil {
		set["strengths"] = upd.Strengths
	}
	if upd.Weaknesses != nil {
		set["weaknesses"] = upd.Weaknesses
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}

	push := bson.M{}
	if len(messages) > 0 {
		push["messages"] = bson.M{"$each": messages}
	}
	if upd.PushQuestionScore != nil {
		push["question_scores"] = *upd.PushQuestionScore
	}
	if len(push) > 0 {
		update["$push"] = push
	}

	res := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": SessionInProgress},
		update, afterUpdate())
	sess, err := one[AssessmentSession](res)
	if err == ErrNotFound {
		return nil, ErrNoMatch
	}
	return sess, err
}

package store

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoLeaderboard struct {
	c *mongo.Collection
}

func (s *mongoLeaderboard) Upsert(ctx context.Context, e *LeaderboardEntry) error {
	e.Username = strings.ToLower(e.Username)
	e.UpdatedAt = time.Now().UTC()
	_, err := s.c.ReplaceOne(ctx, bson.M{"_id": e.Username}, e, options.Replace().SetUpsert(true))
	return err
}

func (s *mongoLeaderboard) Has(ctx context.Context, username string) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": strings.ToLower(username)})
	return n > 0, err
}

func (s *mongoLeaderboard) List(ctx context.Context, f LeaderboardFilter) ([]*LeaderboardEntry, int64, error) {
	filter := bson.M{}
	if f.Country != "" {
		filter["country"] = f.Country
	}
	if f.Level != "" {
		filter["level"] = f.Level
	}
	if f.Language != "" {
		filter["primary_languages"] = f.Language
	}

	total, err := s.c.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit < 1 || limit > 100 {
		limit = 50
	}
	cur, err := s.c.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "overall_score", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var out []*LeaderboardEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

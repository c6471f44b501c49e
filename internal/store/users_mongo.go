package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoUsers struct {
	c *mongo.Collection
}

func (s *mongoUsers) Create(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.c.InsertOne(ctx, u)
	return err
}

func (s *mongoUsers) ByID(ctx context.Context, id string) (*User, error) {
	return one[User](s.c.FindOne(ctx, bson.M{"_id": id, "active": true}))
}

// ByExternalID resolves login identities without the active filter; the
// authenticator needs to see deactivated accounts to reject them as
// forbidden rather than unknown.
func (s *mongoUsers) ByExternalID(ctx context.Context, externalID string) (*User, error) {
	return one[User](s.c.FindOne(ctx, bson.M{"external_id": externalID}))
}

func (s *mongoUsers) ByEmail(ctx context.Context, email string) (*User, error) {
	return one[User](s.c.FindOne(ctx, bson.M{"email": email, "active": true}))
}

// Update writes profile fields only; money fields are excluded so concurrent
// atomic credits are never clobbered by a stale read.
func (s *mongoUsers) Update(ctx context.Context, u *User) error {
	set := bson.M{
		"name":                   u.Name,
		"email":                  u.Email,
		"country":                u.Country,
		"role":                   u.Role,
		"verified":               u.Verified,
		"github_username":        u.GitHubUsername,
		"profession":             u.Profession,
		"skills":                 u.Skills,
		"company_name":           u.CompanyName,
		"saved_github_usernames": u.SavedGitHubUsernames,
		"updated_at":             time.Now().UTC(),
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": u.ID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoUsers) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	return s.setField(ctx, id, "stripe_customer_id", customerID)
}

func (s *mongoUsers) SetBankInfo(ctx context.Context, id string, info *BankInfo) error {
	return s.setField(ctx, id, "bank_info", info)
}

func (s *mongoUsers) Deactivate(ctx context.Context, id string) error {
	return s.setField(ctx, id, "active", false)
}

func (s *mongoUsers) setField(ctx context.Context, id, field string, value interface{}) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{field: value, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreditEarnings is the whole balance ledger: one $inc against the payee
// document, tolerant of concurrent webhook deliveries.
func (s *mongoUsers) CreditEarnings(ctx context.Context, id string, amount float64) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"balance": amount, "total_earnings": amount},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitBalance performs `update where balance >= amount set balance -= amount`.
func (s *mongoUsers) DebitBalance(ctx context.Context, id string, amount float64) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "balance": bson.M{"$gte": amount}},
		bson.M{
			"$inc": bson.M{"balance": -amount},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoMatch
	}
	return nil
}

func (s *mongoUsers) RefundBalance(ctx context.Context, id string, amount float64) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"balance": amount},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

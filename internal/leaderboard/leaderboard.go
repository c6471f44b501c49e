// Package leaderboard maintains the opt-in public ranking of evaluated
// candidates. Entries are projections of evaluation reports keyed by
// lowercased GitHub username; re-evaluations upsert in place.
package leaderboard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/talentlane/backend/internal/evaluation"
	"github.com/talentlane/backend/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Service projects evaluation reports onto the board and serves listings.
type Service struct {
	entries store.Leaderboard
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(st *store.Store) *Service {
	return &Service{
		entries: st.Leaderboard,
		logger:  slog.With("component", "leaderboard"),
		now:     time.Now,
	}
}

// Recorded reports whether the candidate already has a board entry.
func (s *Service) Recorded(ctx context.Context, username string) (bool, error) {
	return s.entries.Has(ctx, strings.ToLower(username))
}

// Record upserts the report's projection. Consent is implied by the
// caller: the evaluation pipeline only records when the candidate asked
// to be listed.
func (s *Service) Record(ctx context.Context, report *evaluation.Report) error {
	now := s.now().UTC()
	entry := &store.LeaderboardEntry{
		Username:         strings.ToLower(report.Profile.Username),
		Name:             report.Profile.Name,
		AvatarURL:        report.Profile.Avatar,
		Country:          report.Profile.Location,
		Level:            report.Scores.OverallLevel,
		OverallScore:     report.Scores.OverallScore,
		JobReadiness:     report.Scores.JobReadinessScore,
		TechDepth:        report.Scores.TechDepthScore,
		PrimaryLanguages: report.Profile.PrimaryLanguages,
		ConsentedAt:      now,
		UpdatedAt:        now,
	}
	return s.entries.Upsert(ctx, entry)
}

// ListInput narrows a leaderboard page.
type ListInput struct {
	Country  string
	Level    string
	Language string
	Limit    int
}

// Page is one leaderboard listing.
type Page struct {
	Entries []*store.LeaderboardEntry `json:"entries"`
	Total   int64                     `json:"total"`
}

// List returns the ranked entries matching the filter, ordered by overall
// score descending.
func (s *Service) List(ctx context.Context, in ListInput) (*Page, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	entries, total, err := s.entries.List(ctx, store.LeaderboardFilter{
		Country:  strings.TrimSpace(in.Country),
		Level:    strings.TrimSpace(in.Level),
		Language: strings.TrimSpace(in.Language),
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*store.LeaderboardEntry{}
	}
	return &Page{Entries: entries, Total: total}, nil
}

package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentlane/backend/internal/evaluation"
	"github.com/talentlane/backend/internal/store/memstore"
)

func report(username, location, level string, overall float64, languages ...string) *evaluation.Report {
	r := &evaluation.Report{}
	r.Profile.Username = username
	r.Profile.Name = "Candidate " + username
	r.Profile.Location = location
	r.Profile.PrimaryLanguages = languages
	r.Scores.OverallLevel = level
	r.Scores.OverallScore = overall
	r.Scores.JobReadinessScore = overall - 5
	r.Scores.TechDepthScore = overall + 3
	return r
}

func TestRecordProjectsReport(t *testing.T) {
	st := memstore.New()
	svc := NewService(st)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	ok, err := svc.Recorded(ctx, "OctoCat")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Record(ctx, report("OctoCat", "Berlin", "Senior", 72.5, "Go", "Python")))

	ok, err = svc.Recorded(ctx, "octocat")
	require.NoError(t, err)
	assert.True(t, ok, "usernames are case-insensitive")

	page, err := svc.List(ctx, ListInput{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	e := page.Entries[0]
	assert.Equal(t, "octocat", e.Username)
	assert.Equal(t, "Berlin", e.Country)
	assert.Equal(t, "Senior", e.Level)
	assert.Equal(t, 72.5, e.OverallScore)
	assert.Equal(t, 67.5, e.JobReadiness)
	assert.Equal(t, []string{"Go", "Python"}, e.PrimaryLanguages)
	assert.False(t, e.ConsentedAt.IsZero())
}

func TestRecordUpsertsInPlace(t *testing.T) {
	st := memstore.New()
	svc := NewService(st)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, report("dev", "", "Junior", 35)))
	require.NoError(t, svc.Record(ctx, report("DEV", "", "Mid-Level", 52)))

	page, err := svc.List(ctx, ListInput{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1, "re-evaluation replaces the old entry")
	assert.Equal(t, "Mid-Level", page.Entries[0].Level)
	assert.Equal(t, 52.0, page.Entries[0].OverallScore)
}

func TestListFiltersAndRanks(t *testing.T) {
	st := memstore.New()
	svc := NewService(st)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, report("a", "Berlin", "Senior", 80, "Go")))
	require.NoError(t, svc.Record(ctx, report("b", "Lagos", "Senior", 91, "Rust")))
	require.NoError(t, svc.Record(ctx, report("c", "Berlin", "Junior", 40, "Go", "Python")))

	page, err := svc.List(ctx, ListInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, "b", page.Entries[0].Username, "ordered by overall score")
	assert.Equal(t, "a", page.Entries[1].Username)

	page, err = svc.List(ctx, ListInput{Country: "Berlin"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	page, err = svc.List(ctx, ListInput{Level: "Senior", Language: "Go"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "a", page.Entries[0].Username)

	page, err = svc.List(ctx, ListInput{Country: "nowhere"})
	require.NoError(t, err)
	assert.NotNil(t, page.Entries)
	assert.Empty(t, page.Entries)
}

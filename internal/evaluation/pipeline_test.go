package evaluation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/codehost"
	"github.com/talentlane/backend/internal/llm"
)

type fakeHost struct {
	profile *codehost.Profile
	repos   []codehost.Repo
	files   map[string][]codehost.TreeEntry // repo -> tree
	content map[string]string               // repo/path -> content
	commits map[string][]codehost.Commit    // repo -> commits
	userErr error
}

func (f *fakeHost) GetUser(_ context.Context, _ string) (*codehost.Profile, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.profile, nil
}

func (f *fakeHost) ListRepos(_ context.Context, _ string) ([]codehost.Repo, error) {
	return f.repos, nil
}

func (f *fakeHost) ListFiles(_ context.Context, _, repo string) ([]codehost.TreeEntry, error) {
	return f.files[repo], nil
}

func (f *fakeHost) GetFile(_ context.Context, _, repo, path string) (string, error) {
	return f.content[repo+"/"+path], nil
}

func (f *fakeHost) ListCommits(_ context.Context, _, repo string, _ time.Time, _ string) ([]codehost.Commit, error) {
	return f.commits[repo], nil
}

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Chat(_ context.Context, _ []llm.Message, _ llm.Options) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeRecorder struct {
	recorded map[string]bool
	records  int
}

func (f *fakeRecorder) Recorded(_ context.Context, username string) (bool, error) {
	return f.recorded[username], nil
}

func (f *fakeRecorder) Record(_ context.Context, report *Report) error {
	f.records++
	f.recorded[report.Profile.Username] = true
	return nil
}

func healthyHost() *fakeHost {
	now := time.Now()
	goMain := "// Package main runs the service.\npackage main\n\nfunc main() {\n\tif err := run(); err != nil {\n\t\tpanic(err)\n\t}\n}\n"
	return &fakeHost{
		profile: &codehost.Profile{Login: "octocat", Name: "The Octocat", HTMLURL: "https://github.com/octocat"},
		repos: []codehost.Repo{
			{Name: "service", Language: "Go", Size: 900, Stars: 12, CreatedAt: now.Add(-400 * 24 * time.Hour), UpdatedAt: now, PushedAt: now},
			{Name: "forked", Fork: true, Size: 500},
		},
		files: map[string][]codehost.TreeEntry{
			"service": {
				{Path: "main.go", Size: len(goMain)},
				{Path: "main_test.go", Size: 200},
				{Path: "README.md", Size: 400},
				{Path: ".github/workflows/ci.yml", Size: 300},
			},
		},
		content: map[string]string{
			"service/main.go":                  goMain,
			"service/README.md":                "# Service\n\nA long enough description of what this service does to count as a real body of documentation.\n\n## Install\n\ngo install\n\n## Usage\n\nrun it\n",
			"service/.github/workflows/ci.yml": "jobs:\n  test:\n    steps:\n      - name: checkout\n      - name: test\n      - name: lint\n",
		},
		commits: map[string][]codehost.Commit{
			"service": {
				{AuthorLogin: "octocat", AuthoredAt: now.Add(-24 * time.Hour), Message: "fix: close response bodies in the fetcher"},
			},
		},
	}
}

const enrichResponse = `{
  "recruiter_summary": {
    "top_strengths": ["Ships working Go services"],
    "recommended_role_level": "Mid-Level",
    "portfolio_readiness": "Presentable"
  },
  "engineer_breakdown": {
    "code_patterns": ["Small focused binaries"],
    "repo_notes": {"service": "Clean entry point"}
  }
}`

func TestEvaluateAssemblesReport(t *testing.T) {
	model := &fakeLLM{response: enrichResponse}
	svc := NewService(healthyHost(), model, NewCache(time.Minute, 10), nil, 0)

	report, err := svc.Evaluate(context.Background(), "octocat", false)
	require.NoError(t, err)

	assert.Equal(t, "octocat", report.Profile.Username)
	assert.Equal(t, 2, report.Profile.TotalRepositories)
	assert.Equal(t, 1, report.Profile.AnalyzedRepositories)
	assert.Equal(t, "Active", report.Profile.ActivityStatus)
	assert.Contains(t, report.Profile.PrimaryLanguages, "Go")

	assert.Equal(t, 100.0, report.Scores.MaxScore)
	assert.Greater(t, report.Scores.OverallScore, 0.0)
	assert.NotEmpty(t, report.Scores.OverallLevel)

	assert.Equal(t, []string{"Ships working Go services"}, report.RecruiterSummary.TopStrengths)
	// Omitted narrative fields are defaulted, not left empty.
	assert.NotEmpty(t, report.RecruiterSummary.RisksOrWeaknesses)
	assert.NotEmpty(t, report.EngineerBreakdown.ImprovementAreas)

	require.Len(t, report.EngineerBreakdown.RepoLevelDetails, 1)
	assert.Equal(t, "Clean entry point", report.EngineerBreakdown.RepoLevelDetails[0].Notes)
	assert.Contains(t, report.EngineerBreakdown.LanguageBreakdown, "Go")
}

func TestEvaluateServesSecondCallFromCache(t *testing.T) {
	model := &fakeLLM{response: enrichResponse}
	svc := NewService(healthyHost(), model, NewCache(time.Minute, 10), nil, 0)

	first, err := svc.Evaluate(context.Background(), "octocat", false)
	require.NoError(t, err)
	second, err := svc.Evaluate(context.Background(), "OCTOCAT", false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, model.calls, "cache hit must not re-run enrichment")
}

func TestEvaluateCacheHitStillRecordsLeaderboard(t *testing.T) {
	model := &fakeLLM{response: enrichResponse}
	rec := &fakeRecorder{recorded: map[string]bool{}}
	svc := NewService(healthyHost(), model, NewCache(time.Minute, 10), rec, 0)

	_, err := svc.Evaluate(context.Background(), "octocat", false)
	require.NoError(t, err)
	assert.Zero(t, rec.records)

	_, err = svc.Evaluate(context.Background(), "octocat", true)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.records, "cached report with submission still records once")

	_, err = svc.Evaluate(context.Background(), "octocat", true)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.records, "already recorded candidates are not re-upserted")
}

func TestEvaluateUserNotFound(t *testing.T) {
	host := &fakeHost{userErr: apperr.NotFound("user nope not found")}
	svc := NewService(host, &fakeLLM{}, NewCache(time.Minute, 10), nil, 0)

	_, err := svc.Evaluate(context.Background(), "nope", false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEvaluateNoRepositories(t *testing.T) {
	host := &fakeHost{profile: &codehost.Profile{Login: "empty"}}
	svc := NewService(host, &fakeLLM{}, NewCache(time.Minute, 10), nil, 0)

	_, err := svc.Evaluate(context.Background(), "empty", false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEvaluateNothingSurvivesFilter(t *testing.T) {
	host := &fakeHost{
		profile: &codehost.Profile{Login: "forker"},
		repos: []codehost.Repo{
			{Name: "a", Fork: true, Size: 100},
			{Name: "b", Size: 2},
		},
	}
	svc := NewService(host, &fakeLLM{}, NewCache(time.Minute, 10), nil, 0)

	_, err := svc.Evaluate(context.Background(), "forker", false)
	require.Equal(t, apperr.KindUnprocessable, apperr.KindOf(err))

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 2, appErr.Details["total_repos"])
	assert.Equal(t, 1, appErr.Details["forks"])
	assert.Equal(t, 2, appErr.Details["filtered_out"], "forks count toward the removed total")
}

func TestEvaluateLLMFailurePropagates(t *testing.T) {
	model := &fakeLLM{err: apperr.Unavailable("model backend unavailable")}
	svc := NewService(healthyHost(), model, NewCache(time.Minute, 10), nil, 0)

	_, err := svc.Evaluate(context.Background(), "octocat", false)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestEvaluateUndecodableEnrichmentFallsBackToDefaults(t *testing.T) {
	model := &fakeLLM{response: "sorry, here is prose instead of JSON"}
	svc := NewService(healthyHost(), model, NewCache(time.Minute, 10), nil, 0)

	report, err := svc.Evaluate(context.Background(), "octocat", false)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RecruiterSummary.TopStrengths)
	assert.NotEmpty(t, report.RecruiterSummary.RecommendedRoleLevel)
}

// Package evaluation runs the repository evaluation pipeline: fetch,
// filter, analyze, score, enrich, assemble. Reports are cached per
// candidate; the pipeline itself is stateless.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/codehost"
	"github.com/talentlane/backend/internal/llm"
	"github.com/talentlane/backend/internal/metrics"
	"github.com/talentlane/backend/internal/scoring"
)

// DefaultAnalyzeLimit caps how many filtered repos get the deep analysis.
const DefaultAnalyzeLimit = 30

// Recorder is the optional leaderboard sink. A cache hit with submission
// requested still records if the candidate is missing from the board.
type Recorder interface {
	Recorded(ctx context.Context, username string) (bool, error)
	Record(ctx context.Context, report *Report) error
}

// Service is the evaluation pipeline.
type Service struct {
	host         codehost.Client
	model        llm.Client
	cache        *Cache
	recorder     Recorder // nil when the leaderboard is disabled
	analyzeLimit int
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(host codehost.Client, model llm.Client, cache *Cache, recorder Recorder, analyzeLimit int) *Service {
	if analyzeLimit <= 0 {
		analyzeLimit = DefaultAnalyzeLimit
	}
	return &Service{
		host:         host,
		model:        model,
		cache:        cache,
		recorder:     recorder,
		analyzeLimit: analyzeLimit,
		logger:       slog.With("component", "evaluation"),
		now:          time.Now,
	}
}

// Evaluate runs the full pipeline for one candidate, serving from cache
// when a fresh report exists.
func (s *Service) Evaluate(ctx context.Context, username string, submitToLeaderboard bool) (*Report, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}

	if report, ok := s.cache.Get(username); ok {
		metrics.EvaluationsTotal.WithLabelValues("cache_hit").Inc()
		s.maybeRecord(ctx, report, submitToLeaderboard)
		return report, nil
	}

	start := s.now()
	report, err := s.run(ctx, username)
	metrics.EvaluationDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.EvaluationsTotal.WithLabelValues("ok").Inc()

	s.cache.Set(username, report)
	s.maybeRecord(ctx, report, submitToLeaderboard)
	return report, nil
}

// run executes the pipeline stages in order; any stage error fails the
// whole evaluation.
func (s *Service) run(ctx context.Context, username string) (*Report, error) {
	now := s.now()

	profile, err := s.host.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}

	repos, err := s.host.ListRepos(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, apperr.NotFound("user %s has no public repositories", username)
	}

	filtered, details := filterRepos(repos, now)
	if len(filtered) == 0 {
		return nil, apperr.Unprocessable("no analyzable repositories for %s", username).
			WithDetails(map[string]interface{}{
				"total_repos":  details.TotalRepos,
				"forks":        details.Forks,
				"filtered_out": details.Forks + details.TinyRepos + details.FilteredOut,
			})
	}

	activity, commits, err := summarizeActivity(ctx, s.host, username, filtered, now)
	if err != nil {
		return nil, err
	}

	repoMetrics, err := s.analyze(ctx, username, filtered)
	if err != nil {
		return nil, err
	}
	if len(repoMetrics) == 0 {
		return nil, apperr.Unprocessable("no analyzable repositories for %s", username).
			WithDetails(map[string]interface{}{
				"total_repos":  details.TotalRepos,
				"forks":        details.Forks,
				"filtered_out": details.Forks + details.TinyRepos + details.FilteredOut,
			})
	}

	signals := make([]scoring.RepoSignals, len(repoMetrics))
	for i, m := range repoMetrics {
		signals[i] = m.Signals
	}
	scores := scoring.Score(scoring.Input{
		RepoCount: len(filtered),
		Repos:     signals,
		Activity:  activity,
	})

	enriched, err := enrich(ctx, s.model, profile, repoMetrics, activity, scores)
	if err != nil {
		return nil, err
	}
	applyDefaults(enriched, scores, len(filtered))

	return assemble(profile, repos, filtered, repoMetrics, commits, activity, scores, enriched), nil
}

// analyze deep-analyzes the most recently updated filtered repos with
// bounded fan-out. Individual repo failures are skipped unless they
// signal a rate limit; an empty result is the caller's problem.
func (s *Service) analyze(ctx context.Context, username string, filtered []codehost.Repo) ([]*RepoMetrics, error) {
	targets := make([]codehost.Repo, len(filtered))
	copy(targets, filtered)
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].UpdatedAt.After(targets[j].UpdatedAt)
	})
	if len(targets) > s.analyzeLimit {
		targets = targets[:s.analyzeLimit]
	}

	var mu sync.Mutex
	results := make(map[string]*RepoMetrics, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, repo := range targets {
		repo := repo
		g.Go(func() error {
			m, err := analyzeRepo(gctx, s.host, username, repo)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindRateLimited {
					return fmt.Errorf("analyzing %s: %w", repo.Name, err)
				}
				s.logger.Warn("skipping repo after analysis failure",
					"repo", repo.Name, "error", err)
				return nil
			}
			mu.Lock()
			results[repo.Name] = m
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Preserve the recency ordering.
	out := make([]*RepoMetrics, 0, len(results))
	for _, repo := range targets {
		if m, ok := results[repo.Name]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) maybeRecord(ctx context.Context, report *Report, submit bool) {
	if !submit || s.recorder == nil {
		return
	}
	recorded, err := s.recorder.Recorded(ctx, report.Profile.Username)
	if err != nil {
		s.logger.Warn("leaderboard lookup failed", "error", err)
		return
	}
	if recorded {
		return
	}
	if err := s.recorder.Record(ctx, report); err != nil {
		s.logger.Warn("leaderboard record failed",
			"username", report.Profile.Username, "error", err)
	}
}

// assemble builds the final report shape from the pipeline outputs.
func assemble(profile *codehost.Profile, all, filtered []codehost.Repo, repoMetrics []*RepoMetrics, commits []codehost.Commit, activity scoring.Activity, scores scoring.Result, e *enrichment) *Report {
	byName := make(map[string]codehost.Repo, len(filtered))
	for _, r := range filtered {
		byName[r.Name] = r
	}

	// Language share over the analyzed set, weighted by repo count.
	langRepos := make(map[string]int)
	var testRatioSum float64
	testLibs := make(map[string]struct{})
	for _, m := range repoMetrics {
		for _, l := range m.Signals.Languages {
			langRepos[l]++
		}
		testRatioSum += m.Signals.TestFileRatio
		for _, lib := range m.TestLibraries {
			testLibs[lib] = struct{}{}
		}
	}
	langBreakdown := make(map[string]LanguageShare, len(langRepos))
	var langTotal int
	for _, n := range langRepos {
		langTotal += n
	}
	for lang, n := range langRepos {
		langBreakdown[lang] = LanguageShare{
			Percentage: round1(float64(n) / float64(langTotal) * 100),
			ReposCount: n,
		}
	}

	primary := sortedByCount(langRepos, 5)

	details := make([]RepoDetail, 0, len(repoMetrics))
	for _, m := range repoMetrics {
		detail := RepoDetail{
			RepoName:   m.RepoName,
			Score:      repoScore(m.Signals),
			Notes:      e.EngineerBreakdown.RepoNotes[m.RepoName],
			Languages:  m.Signals.Languages,
			Complexity: round1(m.Signals.AvgComplexity),
			Stars:      m.Stars,
			Forks:      m.Forks,
		}
		details = append(details, detail)
	}

	avgTestRatio := 0.0
	if len(repoMetrics) > 0 {
		avgTestRatio = round1(testRatioSum/float64(len(repoMetrics))*100) / 100
	}
	testPresence := "None"
	switch {
	case avgTestRatio >= 0.25:
		testPresence = "Widespread"
	case avgTestRatio > 0:
		testPresence = "Partial"
	}

	return &Report{
		Profile: ProfileSummary{
			Username:             profile.Login,
			Name:                 profile.Name,
			Bio:                  profile.Bio,
			Avatar:               profile.AvatarURL,
			Location:             profile.Location,
			GitHubURL:            profile.HTMLURL,
			PrimaryLanguages:     primary,
			TotalRepositories:    len(all),
			AnalyzedRepositories: len(repoMetrics),
			ActivityStatus:       activity.Status,
		},
		Scores: Scores{
			OverallLevel:         scores.Level,
			OverallScore:         scores.Overall,
			MaxScore:             100,
			JobReadinessScore:    scores.JobReadiness,
			TechDepthScore:       scores.TechDepth,
			HiringReadiness:      scores.HiringReadiness,
			CodeSophistication:   scores.CodeSophistication,
			EngineeringPractices: scores.EngineeringPractices,
			ProjectMaturity:      scores.ProjectMaturity,
			ContributionActivity: scores.ContributionActivity,
			BreadthAndDepth:      scores.BreadthAndDepth,
		},
		RecruiterSummary: RecruiterSummary{
			TopStrengths:          e.RecruiterSummary.TopStrengths,
			RisksOrWeaknesses:     e.RecruiterSummary.RisksOrWeaknesses,
			RecommendedRoleLevel:  e.RecruiterSummary.RecommendedRoleLevel,
			HiringReadiness:       scores.HiringReadiness,
			ProjectMaturityRating: scores.ProjectMaturityRating,
			PortfolioReadiness:    e.RecruiterSummary.PortfolioReadiness,
		},
		EngineerBreakdown: EngineerBreakdown{
			CodePatterns:         e.EngineerBreakdown.CodePatterns,
			ArchitectureAnalysis: e.EngineerBreakdown.ArchitectureAnalysis,
			TestingAnalysis: TestingAnalysis{
				Maturity:          e.EngineerBreakdown.TestingMaturity,
				TestPresence:      testPresence,
				TestFileRatio:     avgTestRatio,
				TestLibrariesSeen: sortedKeys(testLibs),
				Details:           e.EngineerBreakdown.TestingDetails,
			},
			ComplexityInsights:     e.EngineerBreakdown.ComplexityInsights,
			CommitMessageQuality:   commitMessageQuality(commits),
			LanguageBreakdown:      langBreakdown,
			RepoLevelDetails:       details,
			NotableImplementations: e.EngineerBreakdown.NotableImplementations,
			ImprovementAreas:       e.EngineerBreakdown.ImprovementAreas,
			InterviewProbes:        e.EngineerBreakdown.InterviewProbes,
		},
	}
}

// repoScore grades a single repository 0..100 from its own signals.
func repoScore(s scoring.RepoSignals) float64 {
	score := s.ModernSyntaxRatio*20 + s.TypeSafetyRatio*15 +
		s.TestFileRatio*3*15 + s.ErrorHandlingDensity*15 +
		float64(s.ReadmeQuality)/5*20 + float64(s.CICDMaturity)/3*15
	if score > 100 {
		score = 100
	}
	return round1(score)
}

func sortedByCount(counts map[string]int, limit int) []string {
	type kv struct {
		k string
		n int
	}
	pairs := make([]kv, 0, len(counts))
	for k, n := range counts {
		pairs = append(pairs, kv{k, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].n != pairs[j].n {
			return pairs[i].n > pairs[j].n
		}
		return pairs[i].k < pairs[j].k
	})
	out := make([]string, 0, limit)
	for _, p := range pairs {
		out = append(out, p.k)
		if len(out) == limit {
			break
		}
	}
	return out
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

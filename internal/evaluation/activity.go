package evaluation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/codehost"
	"github.com/talentlane/backend/internal/scoring"
)

const (
	activityWindow      = 180 * 24 * time.Hour
	activitySampleRepos = 10

	// Code-host fan-out bound, shared by commit sampling and repo
	// analysis.
	maxConcurrentFetches = 8
)

// summarizeActivity samples commit history from the most recently updated
// repositories and reduces it to the activity signals the scorer uses.
// The raw commits also feed the commit-message-quality signal.
func summarizeActivity(ctx context.Context, host codehost.Client, username string, repos []codehost.Repo, now time.Time) (scoring.Activity, []codehost.Commit, error) {
	sample := make([]codehost.Repo, len(repos))
	copy(sample, repos)
	sort.Slice(sample, func(i, j int) bool {
		return sample[i].UpdatedAt.After(sample[j].UpdatedAt)
	})
	if len(sample) > activitySampleRepos {
		sample = sample[:activitySampleRepos]
	}

	since := now.Add(-activityWindow)
	var (
		mu      sync.Mutex
		commits []codehost.Commit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, repo := range sample {
		repo := repo
		g.Go(func() error {
			cs, err := host.ListCommits(gctx, username, repo.Name, since, username)
			if err != nil {
				// A repo deleted between listing and sampling is not
				// the candidate's problem.
				if apperr.KindOf(err) == apperr.KindNotFound {
					return nil
				}
				return fmt.Errorf("commits of %s: %w", repo.Name, err)
			}
			mu.Lock()
			commits = append(commits, cs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return scoring.Activity{}, nil, err
	}

	return reduceActivity(commits, username, now), commits, nil
}

// reduceActivity buckets commits by ISO week and derives the recency
// counters and status.
func reduceActivity(commits []codehost.Commit, username string, now time.Time) scoring.Activity {
	weeks := make(map[string]struct{})
	a := scoring.Activity{}

	for _, c := range commits {
		// Sampled repos can contain co-authored history; count only the
		// target's commits.
		if c.AuthorLogin != "" && !strings.EqualFold(c.AuthorLogin, username) {
			continue
		}
		age := now.Sub(c.AuthoredAt)
		if age <= 30*24*time.Hour {
			a.CommitsLast30d++
		}
		if age <= 90*24*time.Hour {
			a.CommitsLast90d++
		}
		year, week := c.AuthoredAt.ISOWeek()
		weeks[fmt.Sprintf("%d-W%02d", year, week)] = struct{}{}
	}

	a.WeeksActive = len(weeks)
	switch {
	case a.CommitsLast30d > 0:
		a.Status = scoring.ActivityActive
	case a.CommitsLast90d > 0:
		a.Status = scoring.ActivitySemiActive
	default:
		a.Status = scoring.ActivityInactive
	}
	return a
}

// commitMessageQuality grades commit hygiene from the sampled messages.
func commitMessageQuality(commits []codehost.Commit) string {
	if len(commits) == 0 {
		return "No recent commits to assess"
	}

	var informative, conventional int
	for _, c := range commits {
		subject, _, _ := strings.Cut(c.Message, "\n")
		words := len(strings.Fields(subject))
		if words >= 3 && len(subject) >= 15 {
			informative++
		}
		if conventionalPrefix(subject) {
			conventional++
		}
	}

	n := float64(len(commits))
	informativeRatio := float64(informative) / n
	switch {
	case informativeRatio >= 0.8 && float64(conventional)/n >= 0.5:
		return "Excellent: consistent, descriptive messages with a conventional style"
	case informativeRatio >= 0.6:
		return "Good: mostly descriptive commit messages"
	case informativeRatio >= 0.3:
		return "Fair: commit messages are often terse"
	default:
		return "Poor: commit messages rarely describe the change"
	}
}

func conventionalPrefix(subject string) bool {
	lower := strings.ToLower(subject)
	for _, p := range []string{"feat", "fix", "docs", "chore", "refactor", "test", "build", "ci", "perf", "style"} {
		if strings.HasPrefix(lower, p+":") || strings.HasPrefix(lower, p+"(") {
			return true
		}
	}
	return false
}

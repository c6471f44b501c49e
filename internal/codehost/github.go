package codehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/circuitbreaker"
)

const (
	repoCap      = 300
	perPage      = 100
	fetchTimeout = 30 * time.Second
)

// GitHub implements Client against the GitHub REST API.
type GitHub struct {
	gh      *github.Client
	breaker *circuitbreaker.Breaker
}

// NewGitHub builds a GitHub client. An empty token falls back to
// unauthenticated access with its much lower rate limits. A shared
// circuit breaker covers all API calls; NotFound and rate-limit
// answers are upstream working as intended and never trip it.
func NewGitHub(token string) *GitHub {
	httpClient := &http.Client{Timeout: fetchTimeout}
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(
			context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: fetchTimeout}),
			src,
		)
	}
	return &GitHub{
		gh: github.NewClient(httpClient),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:     "github",
			Cooldown: 30 * time.Second,
			TripAfter: func(c circuitbreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			Failure: func(err error) bool {
				return apperr.KindOf(err) == apperr.KindInternal
			},
		}),
	}
}

// guarded routes a fetch through the shared breaker, translating an
// open circuit into the unavailable kind callers already handle.
func guarded[T any](ctx context.Context, b *circuitbreaker.Breaker, fn func(context.Context) (T, error)) (T, error) {
	out, err := circuitbreaker.Do(b, ctx, fn)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return out, apperr.Unavailable("code host unavailable")
	}
	return out, err
}

func (g *GitHub) GetUser(ctx context.Context, username string) (*Profile, error) {
	return guarded(ctx, g.breaker, func(ctx context.Context) (*Profile, error) {
		u, _, err := g.gh.Users.Get(ctx, username)
		if err != nil {
			return nil, translate(err, "user %q", username)
		}
		return &Profile{
			Login:       u.GetLogin(),
			Name:        u.GetName(),
			Bio:         u.GetBio(),
			AvatarURL:   u.GetAvatarURL(),
			Location:    u.GetLocation(),
			HTMLURL:     u.GetHTMLURL(),
			PublicRepos: u.GetPublicRepos(),
		}, nil
	})
}

func (g *GitHub) ListRepos(ctx context.Context, username string) ([]Repo, error) {
	return guarded(ctx, g.breaker, func(ctx context.Context) ([]Repo, error) {
		var out []Repo
		opts := &github.RepositoryListByUserOptions{
			Sort:        "updated",
			ListOptions: github.ListOptions{PerPage: perPage},
		}
		for {
			repos, resp, err := g.gh.Repositories.ListByUser(ctx, username, opts)
			if err != nil {
				return nil, translate(err, "repos of %q", username)
			}
			for _, r := range repos {
				out = append(out, Repo{
					Name:        r.GetName(),
					FullName:    r.GetFullName(),
					Description: r.GetDescription(),
					Language:    r.GetLanguage(),
					Fork:        r.GetFork(),
					Archived:    r.GetArchived(),
					Disabled:    r.GetDisabled(),
					Size:        r.GetSize(),
					Stars:       r.GetStargazersCount(),
					Forks:       r.GetForksCount(),
					CreatedAt:   r.GetCreatedAt().Time,
					UpdatedAt:   r.GetUpdatedAt().Time,
					PushedAt:    r.GetPushedAt().Time,
				})
				if len(out) >= repoCap {
					return out, nil
				}
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return out, nil
	})
}

func (g *GitHub) ListFiles(ctx context.Context, owner, repo string) ([]TreeEntry, error) {
	return guarded(ctx, g.breaker, func(ctx context.Context) ([]TreeEntry, error) {
		tree, _, err := g.gh.Git.GetTree(ctx, owner, repo, "HEAD", true)
		if err != nil {
			return nil, translate(err, "tree of %s/%s", owner, repo)
		}
		var out []TreeEntry
		for _, e := range tree.Entries {
			if e.GetType() != "blob" {
				continue
			}
			out = append(out, TreeEntry{Path: e.GetPath(), Size: e.GetSize()})
		}
		return out, nil
	})
}

func (g *GitHub) GetFile(ctx context.Context, owner, repo, path string) (string, error) {
	return guarded(ctx, g.breaker, func(ctx context.Context) (string, error) {
		file, _, _, err := g.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
		if err != nil {
			return "", translate(err, "file %s in %s/%s", path, owner, repo)
		}
		if file == nil {
			return "", apperr.NotFound("%s in %s/%s is not a file", path, owner, repo)
		}
		content, err := file.GetContent()
		if err != nil {
			return "", apperr.Internal(err, "decode %s in %s/%s", path, owner, repo)
		}
		return content, nil
	})
}

func (g *GitHub) ListCommits(ctx context.Context, owner, repo string, since time.Time, author string) ([]Commit, error) {
	return guarded(ctx, g.breaker, func(ctx context.Context) ([]Commit, error) {
		var out []Commit
		opts := &github.CommitsListOptions{
			Author:      author,
			Since:       since,
			ListOptions: github.ListOptions{PerPage: perPage},
		}
		for {
			commits, resp, err := g.gh.Repositories.ListCommits(ctx, owner, repo, opts)
			if err != nil {
				// Empty repositories answer 409; treat as no commits.
				var ghErr *github.ErrorResponse
				if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusConflict {
					return nil, nil
				}
				return nil, translate(err, "commits of %s/%s", owner, repo)
			}
			for _, c := range commits {
				out = append(out, Commit{
					AuthorLogin: c.GetAuthor().GetLogin(),
					AuthoredAt:  c.GetCommit().GetAuthor().GetDate().Time,
					Message:     c.GetCommit().GetMessage(),
				})
			}
			if resp.NextPage == 0 || len(out) >= 1000 {
				break
			}
			opts.Page = resp.NextPage
		}
		return out, nil
	})
}

// translate maps GitHub API failures onto the apperr taxonomy.
func translate(err error, format string, args ...interface{}) error {
	target := fmt.Sprintf(format, args...)

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		retry := time.Until(rateErr.Rate.Reset.Time)
		if retry < 0 {
			retry = time.Minute
		}
		return apperr.RateLimited(retry, "code host rate limit hit fetching %s", target)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retry := time.Minute
		if abuseErr.RetryAfter != nil {
			retry = *abuseErr.RetryAfter
		}
		return apperr.RateLimited(retry, "code host throttled fetching %s", target)
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return apperr.NotFound("%s not found on code host", target)
		case http.StatusUnauthorized:
			return apperr.Internal(err, "code host credentials rejected fetching %s", target)
		case http.StatusForbidden:
			return apperr.RateLimited(time.Minute, "code host denied access fetching %s", target)
		}
	}
	return apperr.Internal(err, "code host error fetching %s", target)
}

package evaluation

import (
	"regexp"
	"time"

	"github.com/talentlane/backend/internal/codehost"
)

// Repositories below this host-reported size are noise (empty or
// single-file repos).
const minRepoSize = 10

var (
	courseworkPattern = regexp.MustCompile(`(?i)assignment|lab\d+|project\d+|homework|cs\d+|coursework|bootcamp`)
	templatePattern   = regexp.MustCompile(`(?i)generated by|template|boilerplate|starter`)
)

// FilterDetails explains what the repository filter removed. Returned in
// the error payload when nothing survives.
type FilterDetails struct {
	TotalRepos  int `json:"total_repos"`
	Forks       int `json:"forks"`
	TinyRepos   int `json:"tiny_repos"`
	FilteredOut int `json:"filtered_out"`
}

// filterRepos drops forks, dead repos, tiny repos, coursework, and
// abandoned projects, returning the surviving set and removal counts.
func filterRepos(repos []codehost.Repo, now time.Time) ([]codehost.Repo, FilterDetails) {
	details := FilterDetails{TotalRepos: len(repos)}
	kept := make([]codehost.Repo, 0, len(repos))

	for _, r := range repos {
		switch {
		case r.Fork:
			details.Forks++
		case r.Archived || r.Disabled:
			details.FilteredOut++
		case r.Size < minRepoSize:
			details.TinyRepos++
		case courseworkPattern.MatchString(r.Name) || courseworkPattern.MatchString(r.Description),
			templatePattern.MatchString(r.Name) || templatePattern.MatchString(r.Description):
			details.FilteredOut++
		case abandoned(r, now):
			details.FilteredOut++
		default:
			kept = append(kept, r)
		}
	}
	return kept, details
}

// abandoned reports repos created over five years ago and untouched for
// over two.
func abandoned(r codehost.Repo, now time.Time) bool {
	idle := r.PushedAt
	if idle.IsZero() {
		idle = r.UpdatedAt
	}
	return now.Sub(r.CreatedAt) > 5*365*24*time.Hour &&
		now.Sub(idle) > 2*365*24*time.Hour
}

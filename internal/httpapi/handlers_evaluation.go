package httpapi

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/leaderboard"
)

var githubUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,37}[a-zA-Z0-9])?$`)

type evaluateRequest struct {
	GitHubURL           string `json:"githubUrl"`
	GitHubURLSnake      string `json:"github_url"`
	SubmitToLeaderboard bool   `json:"submitToLeaderboard"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.decode(w, r, &req) {
		return
	}
	raw := req.GitHubURL
	if raw == "" {
		raw = req.GitHubURLSnake
	}
	username, err := parseGitHubUsername(raw)
	if err != nil {
		s.fail(w, err)
		return
	}

	report, err := s.evaluations.Evaluate(r.Context(), username, req.SubmitToLeaderboard)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}

// parseGitHubUsername accepts a profile URL or a bare username.
func parseGitHubUsername(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.Validation("githubUrl is required")
	}
	candidate := raw
	if strings.Contains(raw, "/") || strings.Contains(raw, ":") {
		u, err := url.Parse(raw)
		if err != nil || !strings.HasSuffix(strings.ToLower(u.Hostname()), "github.com") {
			return "", apperr.Validation("githubUrl must be a github.com profile URL or a username")
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 0 || parts[0] == "" {
			return "", apperr.Validation("githubUrl has no username path segment")
		}
		candidate = parts[0]
	}
	if !githubUsernamePattern.MatchString(candidate) {
		return "", apperr.Validation("%q is not a valid GitHub username", candidate)
	}
	return candidate, nil
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, err := s.board.List(r.Context(), leaderboard.ListInput{
		Country:  q.Get("country"),
		Level:    q.Get("level"),
		Language: q.Get("language"),
		Limit:    limit,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, page)
}

package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/store"
)

const maxSavedSkills = 30

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.ByID(r.Context(), s.user(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, user)
}

type updateMeRequest struct {
	Name           *string  `json:"name"`
	Country        *string  `json:"country"`
	Profession     *string  `json:"profession"`
	Skills         []string `json:"skills"`
	CompanyName    *string  `json:"company_name"`
	GitHubUsername *string  `json:"github_username"`
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Skills) > maxSavedSkills {
		s.fail(w, apperr.Validation("at most %d skills", maxSavedSkills))
		return
	}

	user, err := s.users.ByID(r.Context(), s.user(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Country != nil {
		user.Country = strings.TrimSpace(*req.Country)
	}
	if req.Profession != nil {
		user.Profession = strings.TrimSpace(*req.Profession)
	}
	if req.Skills != nil {
		user.Skills = req.Skills
	}
	if req.CompanyName != nil {
		user.CompanyName = strings.TrimSpace(*req.CompanyName)
	}
	if req.GitHubUsername != nil {
		user.GitHubUsername = strings.TrimSpace(*req.GitHubUsername)
	}
	if user.Role == store.RoleEmployer && user.CompanyName == "" {
		s.fail(w, apperr.Validation("employers must set a company name"))
		return
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, user)
}

func (s *Server) handleSaveGitHubUsername(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	username, err := parseGitHubUsername(body.Username)
	if err != nil {
		s.fail(w, err)
		return
	}

	user, err := s.users.ByID(r.Context(), s.user(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	for _, existing := range user.SavedGitHubUsernames {
		if strings.EqualFold(existing, username) {
			s.respond(w, http.StatusOK, map[string]interface{}{"saved": user.SavedGitHubUsernames})
			return
		}
	}
	user.SavedGitHubUsernames = append(user.SavedGitHubUsernames, username)
	if err := s.users.Update(r.Context(), user); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"saved": user.SavedGitHubUsernames})
}

// ============================================================================
// IDENTITY PROVIDER WEBHOOK
// ============================================================================

type clerkEvent struct {
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
		PublicMetadata struct {
			Role string `json:"role"`
		} `json:"public_metadata"`
	} `json:"data"`
}

// handleClerkWebhook keeps the local user table in sync with the
// identity provider. Signature is the svix scheme: HMAC-SHA256 over
// "{id}.{timestamp}.{raw body}".
func (s *Server) handleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.fail(w, apperr.Validation("unreadable webhook body"))
		return
	}
	if err := verifySvixSignature(s.cfg.ClerkWebhookSecret, r.Header, payload); err != nil {
		s.fail(w, apperr.Unauthorized("webhook signature verification failed"))
		return
	}

	var event clerkEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.fail(w, apperr.Validation("malformed webhook payload"))
		return
	}

	// Sync errors are logged, not surfaced: a 2xx stops provider retries
	// for events we cannot ever process.
	if err := s.syncUser(r, &event); err != nil {
		s.logger.Error("identity sync failed", "event", event.Type, "external_id", event.Data.ID, "error", err)
	}
	s.respond(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) syncUser(r *http.Request, event *clerkEvent) error {
	ctx := r.Context()
	switch event.Type {
	case "user.created":
		role := store.Role(event.Data.PublicMetadata.Role)
		if role != store.RoleEmployer && role != store.RoleAdmin {
			role = store.RoleFreelancer
		}
		now := time.Now().UTC()
		return s.users.Create(ctx, &store.User{
			ID:         uuid.New().String(),
			ExternalID: event.Data.ID,
			Email:      strings.ToLower(primaryEmail(event)),
			Name:       strings.TrimSpace(event.Data.FirstName + " " + event.Data.LastName),
			Role:       role,
			Verified:   true,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	case "user.updated":
		user, err := s.users.ByExternalID(ctx, event.Data.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil // never provisioned here; ignore
		}
		if err != nil {
			return err
		}
		if email := primaryEmail(event); email != "" {
			user.Email = strings.ToLower(email)
		}
		if name := strings.TrimSpace(event.Data.FirstName + " " + event.Data.LastName); name != "" {
			user.Name = name
		}
		return s.users.Update(ctx, user)
	case "user.deleted":
		user, err := s.users.ByExternalID(ctx, event.Data.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.users.Deactivate(ctx, user.ID)
	default:
		return nil
	}
}

func primaryEmail(event *clerkEvent) string {
	if len(event.Data.EmailAddresses) == 0 {
		return ""
	}
	return event.Data.EmailAddresses[0].EmailAddress
}

// verifySvixSignature checks "v1,<base64>" entries in svix-signature
// against HMAC-SHA256("{id}.{timestamp}.{payload}") keyed by the shared
// secret (optionally "whsec_"-prefixed, base64-encoded).
func verifySvixSignature(secret string, header http.Header, payload []byte) error {
	if secret == "" {
		return errors.New("webhook secret not configured")
	}
	id := header.Get("svix-id")
	timestamp := header.Get("svix-timestamp")
	signatures := header.Get("svix-signature")
	if id == "" || timestamp == "" || signatures == "" {
		return errors.New("missing signature headers")
	}

	key := []byte(secret)
	if trimmed, ok := strings.CutPrefix(secret, "whsec_"); ok {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return errors.New("undecodable webhook secret")
		}
		key = decoded
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, part := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return errors.New("no matching signature")
}

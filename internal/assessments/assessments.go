// Package assessments implements employer-defined AI interview
// assessments: templates, tokenized invitations, and the LLM-driven
// session engine.
package assessments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/llm"
	"github.com/talentlane/backend/internal/mailer"
	"github.com/talentlane/backend/internal/store"
)

const (
	defaultQuestionCount = 5
	minQuestionCount     = 3
	maxQuestionCount     = 20
	defaultTimeLimitMin  = 30
	minTimeLimitMin      = 5
	maxTimeLimitMin      = 120
	defaultInviteExpiry  = 7 * 24 * time.Hour
)

// Notifier is the notification fabric as this package needs it.
type Notifier interface {
	Emit(ctx context.Context, n *store.Notification) error
}

// Service owns assessment templates, invitations, and sessions.
type Service struct {
	assessments store.Assessments
	invitations store.Invitations
	sessions    store.Sessions
	users       store.Users
	model       llm.Client
	notifier    Notifier
	mail        mailer.Mailer
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(st *store.Store, model llm.Client, notifier Notifier, mail mailer.Mailer) *Service {
	return &Service{
		assessments: st.Assessments,
		invitations: st.Invitations,
		sessions:    st.Sessions,
		users:       st.Users,
		model:       model,
		notifier:    notifier,
		mail:        mail,
		logger:      slog.With("component", "assessments"),
		now:         time.Now,
	}
}

// CreateAssessmentInput is an assessment template creation request.
type CreateAssessmentInput struct {
	Title            string   `json:"title"`
	Profession       string   `json:"profession"`
	Role             string   `json:"role"`
	Skills           []string `json:"skills"`
	Difficulty       string   `json:"difficulty"`
	QuestionCount    int      `json:"question_count"`
	TimeLimitMinutes int      `json:"time_limit_minutes"`
}

// CreateAssessment stores a new template. Employers only.
func (s *Service) CreateAssessment(ctx context.Context, employer *store.User, in CreateAssessmentInput) (*store.Assessment, error) {
	if employer.Role != store.RoleEmployer && employer.Role != store.RoleAdmin {
		return nil, apperr.Forbidden("only employers can create assessments")
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Profession) == "" || strings.TrimSpace(in.Role) == "" {
		return nil, apperr.Validation("title, profession, and role are required")
	}

	difficulty := store.Difficulty(in.Difficulty)
	switch difficulty {
	case store.DifficultyBeginner, store.DifficultyIntermediate, store.DifficultyAdvanced:
	case "":
		difficulty = store.DifficultyIntermediate
	default:
		return nil, apperr.Validation("difficulty must be beginner, intermediate, or advanced")
	}

	questions := in.QuestionCount
	if questions == 0 {
		questions = defaultQuestionCount
	}
	if questions < minQuestionCount || questions > maxQuestionCount {
		return nil, apperr.Validation("question_count must be between %d and %d", minQuestionCount, maxQuestionCount)
	}
	timeLimit := in.TimeLimitMinutes
	if timeLimit == 0 {
		timeLimit = defaultTimeLimitMin
	}
	if timeLimit < minTimeLimitMin || timeLimit > maxTimeLimitMin {
		return nil, apperr.Validation("time_limit_minutes must be between %d and %d", minTimeLimitMin, maxTimeLimitMin)
	}

	a := &store.Assessment{
		ID:               uuid.New().String(),
		EmployerID:       employer.ID,
		Title:            strings.TrimSpace(in.Title),
		Profession:       strings.TrimSpace(in.Profession),
		Role:             strings.TrimSpace(in.Role),
		Skills:           in.Skills,
		Difficulty:       difficulty,
		QuestionCount:    questions,
		TimeLimitMinutes: timeLimit,
		IsActive:         true,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.assessments.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessments returns the employer's templates.
func (s *Service) ListAssessments(ctx context.Context, employer *store.User) ([]*store.Assessment, error) {
	return s.assessments.ListByEmployer(ctx, employer.ID)
}

// DeactivateAssessment retires a template; existing invitations keep
// working.
func (s *Service) DeactivateAssessment(ctx context.Context, employer *store.User, id string) error {
	err := s.assessments.Deactivate(ctx, id, employer.ID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("assessment %s not found", id)
	}
	return err
}

// InviteInput is an invitation creation request.
type InviteInput struct {
	AssessmentID    string `json:"assessment_id"`
	FreelancerEmail string `json:"freelancer_email"`
	ExpiresInHours  int    `json:"expires_in_hours"`
}

// Invite issues a tokenized invitation for one candidate.
func (s *Service) Invite(ctx context.Context, employer *store.User, in InviteInput) (*store.AssessmentInvitation, error) {
	a, err := s.assessments.ByID(ctx, in.AssessmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("assessment %s not found", in.AssessmentID)
	}
	if err != nil {
		return nil, err
	}
	if a.EmployerID != employer.ID {
		return nil, apperr.Forbidden("you do not own this assessment")
	}
	if !a.IsActive {
		return nil, apperr.Precondition("assessment is no longer active")
	}

	email := strings.ToLower(strings.TrimSpace(in.FreelancerEmail))
	if email == "" {
		return nil, apperr.Validation("freelancer_email is required")
	}

	expiry := defaultInviteExpiry
	if in.ExpiresInHours > 0 {
		expiry = time.Duration(in.ExpiresInHours) * time.Hour
	}

	inv := &store.AssessmentInvitation{
		ID:              uuid.New().String(),
		AssessmentID:    a.ID,
		EmployerID:      employer.ID,
		FreelancerEmail: email,
		Token:           newToken(),
		Status:          store.InvitationPending,
		ExpiresAt:       s.now().UTC().Add(expiry),
		CreatedAt:       s.now().UTC(),
	}

	if candidate, err := s.users.ByEmail(ctx, email); err == nil {
		inv.FreelancerID = candidate.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, err
	}

	if inv.FreelancerID != "" {
		s.notify(ctx, inv.FreelancerID, store.NotifAssessmentInvitation,
			"Assessment invitation",
			fmt.Sprintf("%s invited you to the assessment %q", employer.Name, a.Title),
			a.ID, employer.ID)
	}
	s.sendInviteEmail(ctx, employer, a, inv)
	return inv, nil
}

// ListInvitations returns the employer's invitations.
func (s *Service) ListInvitations(ctx context.Context, employer *store.User) ([]*store.AssessmentInvitation, error) {
	return s.invitations.ListByEmployer(ctx, employer.ID)
}

// InvitationView is what the public token endpoint exposes.
type InvitationView struct {
	Invitation *store.AssessmentInvitation `json:"invitation"`
	Assessment *store.Assessment           `json:"assessment"`
}

// ResolveToken loads an invitation from its public token, expiring it
// lazily.
func (s *Service) ResolveToken(ctx context.Context, token string) (*InvitationView, error) {
	inv, err := s.invitations.ByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("invitation not found")
	}
	if err != nil {
		return nil, err
	}

	if inv.Status == store.InvitationPending && s.now().After(inv.ExpiresAt) {
		if terr := s.invitations.TransitionStatus(ctx, inv.ID,
			[]store.InvitationStatus{store.InvitationPending}, store.InvitationExpired); terr != nil && !errors.Is(terr, store.ErrNoMatch) {
			s.logger.Warn("lazy expiry failed", "invitation_id", inv.ID, "error", terr)
		}
		return nil, apperr.Gone("invitation has expired")
	}

	a, err := s.assessments.ByID(ctx, inv.AssessmentID)
	if err != nil {
		return nil, err
	}
	return &InvitationView{Invitation: inv, Assessment: a}, nil
}

// DeclineInvitation lets the invited candidate turn an invitation down
// from its public token. Only pending invitations can be declined.
func (s *Service) DeclineInvitation(ctx context.Context, token string) error {
	inv, err := s.invitations.ByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("invitation not found")
	}
	if err != nil {
		return err
	}

	switch inv.Status {
	case store.InvitationPending:
	case store.InvitationExpired:
		return apperr.Gone("invitation has expired")
	default:
		return apperr.Conflict("invitation is already %s", inv.Status)
	}
	if s.now().After(inv.ExpiresAt) {
		if terr := s.invitations.TransitionStatus(ctx, inv.ID,
			[]store.InvitationStatus{store.InvitationPending}, store.InvitationExpired); terr != nil && !errors.Is(terr, store.ErrNoMatch) {
			s.logger.Warn("lazy expiry failed", "invitation_id", inv.ID, "error", terr)
		}
		return apperr.Gone("invitation has expired")
	}

	err = s.invitations.TransitionStatus(ctx, inv.ID,
		[]store.InvitationStatus{store.InvitationPending}, store.InvitationDeclined)
	if errors.Is(err, store.ErrNoMatch) {
		return apperr.Conflict("invitation is no longer pending")
	}
	if err != nil {
		return err
	}

	s.notify(ctx, inv.EmployerID, store.NotifAssessmentDeclined,
		"Invitation declined",
		fmt.Sprintf("%s declined your assessment invitation", inv.FreelancerEmail),
		inv.AssessmentID, inv.FreelancerID)
	return nil
}

func (s *Service) sendInviteEmail(ctx context.Context, employer *store.User, a *store.Assessment, inv *store.AssessmentInvitation) {
	if s.mail == nil {
		return
	}
	err := s.mail.Send(ctx, mailer.Email{
		To:      inv.FreelancerEmail,
		Subject: fmt.Sprintf("%s invited you to an assessment", employer.Name),
		HTML: fmt.Sprintf("<p>%s invited you to the assessment <b>%s</b> (%d questions, %d minutes). Use your invitation token <code>%s</code> to begin.</p>",
			employer.Name, a.Title, a.QuestionCount, a.TimeLimitMinutes, inv.Token),
		Text: fmt.Sprintf("%s invited you to the assessment %q (%d questions, %d minutes). Invitation token: %s",
			employer.Name, a.Title, a.QuestionCount, a.TimeLimitMinutes, inv.Token),
	})
	if err != nil {
		s.logger.Warn("invitation email failed", "invitation_id", inv.ID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, recipientID string, typ store.NotificationType, title, body, assessmentID, actorID string) {
	err := s.notifier.Emit(ctx, &store.Notification{
		RecipientID:  recipientID,
		Type:         typ,
		Title:        title,
		Body:         body,
		AssessmentID: assessmentID,
		ActorID:      actorID,
	})
	if err != nil {
		s.logger.Warn("notification emit failed", "type", typ, "error", err)
	}
}

func newToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in real trouble;
		// fall back to a UUID rather than a guessable token.
		return strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return hex.EncodeToString(buf)
}

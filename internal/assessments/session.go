package assessments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/llm"
	"github.com/talentlane/backend/internal/store"
)

// Wire roles of session messages.
const (
	messageRoleAI   = "ai"
	messageRoleUser = "user"
)

// turnResponse is the model's answer to one candidate message.
type turnResponse struct {
	Evaluation   string  `json:"evaluation"`
	Score        float64 `json:"score"`
	NextQuestion string  `json:"next_question"`
	Hint         string  `json:"hint"`
}

// questionResponse is the model's opening question.
type questionResponse struct {
	Question string `json:"question"`
}

// finalReport is the model's end-of-session verdict.
type finalReport struct {
	Score      float64            `json:"score"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Summary    string             `json:"summary"`
	Strengths  []string           `json:"strengths"`
	Weaknesses []string           `json:"weaknesses"`
}

// StartSession validates the invitation and opens a session with the
// first question.
func (s *Service) StartSession(ctx context.Context, user *store.User, token string) (*store.AssessmentSession, error) {
	inv, err := s.invitations.ByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("invitation not found")
	}
	if err != nil {
		return nil, err
	}

	switch inv.Status {
	case store.InvitationCompleted:
		return nil, apperr.Conflict("this assessment was already completed")
	case store.InvitationDeclined:
		return nil, apperr.Gone("this invitation was declined")
	case store.InvitationExpired:
		return nil, apperr.Gone("invitation has expired")
	}
	if s.now().After(inv.ExpiresAt) {
		if terr := s.invitations.TransitionStatus(ctx, inv.ID,
			[]store.InvitationStatus{store.InvitationPending, store.InvitationAccepted}, store.InvitationExpired); terr != nil && !errors.Is(terr, store.ErrNoMatch) {
			s.logger.Warn("lazy expiry failed", "invitation_id", inv.ID, "error", terr)
		}
		return nil, apperr.Gone("invitation has expired")
	}

	// The invitation is addressed to one candidate, by id when they were
	// registered at invite time, by email otherwise.
	if inv.FreelancerID != "" && inv.FreelancerID != user.ID {
		return nil, apperr.Forbidden("this invitation belongs to another candidate")
	}
	if inv.FreelancerID == "" && !strings.EqualFold(inv.FreelancerEmail, user.Email) {
		return nil, apperr.Forbidden("this invitation was sent to a different email address")
	}

	inProgress, err := s.sessions.HasInProgress(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if inProgress {
		return nil, apperr.Conflict("a session for this invitation is already in progress")
	}

	a, err := s.assessments.ByID(ctx, inv.AssessmentID)
	if err != nil {
		return nil, err
	}

	var first questionResponse
	err = s.askJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: assessorPrompt(a)},
		{Role: llm.RoleUser, Content: firstQuestionPrompt()},
	}, generationTemperature, &first)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(first.Question) == "" {
		return nil, apperr.Internal(nil, "model returned an empty opening question")
	}

	now := s.now().UTC()
	session := &store.AssessmentSession{
		ID:           uuid.New().String(),
		InvitationID: inv.ID,
		AssessmentID: a.ID,
		FreelancerID: user.ID,
		Messages: []store.SessionMessage{{
			Role:          messageRoleAI,
			Content:       first.Question,
			QuestionIndex: 1,
			Timestamp:     now,
		}},
		CurrentQuestionIndex: 1,
		TotalQuestions:       a.QuestionCount,
		Status:               store.SessionInProgress,
		StartedAt:            now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	if terr := s.invitations.TransitionStatus(ctx, inv.ID,
		[]store.InvitationStatus{store.InvitationPending}, store.InvitationAccepted); terr != nil && !errors.Is(terr, store.ErrNoMatch) {
		s.logger.Warn("invitation accept failed", "invitation_id", inv.ID, "error", terr)
	}

	s.notify(ctx, inv.EmployerID, store.NotifAssessmentStarted,
		"Assessment started",
		fmt.Sprintf("%s started the assessment %q", user.Name, a.Title),
		a.ID, user.ID)
	return session, nil
}

// SendMessage runs one turn: time check, evaluation of the answer, and
// either the next question or the final report.
func (s *Service) SendMessage(ctx context.Context, user *store.User, sessionID, content string) (*store.AssessmentSession, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("message content is required")
	}

	session, err := s.sessions.ByID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("session %s not found", sessionID)
	}
	if err != nil {
		return nil, err
	}
	if session.FreelancerID != user.ID {
		return nil, apperr.Forbidden("this session belongs to another candidate")
	}
	switch session.Status {
	case store.SessionInProgress:
	case store.SessionCompleted:
		return nil, apperr.Conflict("session is already completed")
	default:
		return nil, apperr.Gone("session is %s", session.Status)
	}

	a, err := s.assessments.ByID(ctx, session.AssessmentID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	elapsed := now.Sub(session.StartedAt)
	if elapsed > time.Duration(a.TimeLimitMinutes)*time.Minute {
		return nil, s.timeOut(ctx, session, now, elapsed)
	}

	userMsg := store.SessionMessage{Role: messageRoleUser, Content: content, Timestamp: now}

	history := chatHistory(a, session.Messages)
	history = append(history, llm.Message{Role: llm.RoleUser, Content: content})

	var turn turnResponse
	if err := s.askJSON(ctx, history, generationTemperature, &turn); err != nil {
		return nil, err
	}
	score := clamp(turn.Score, 0, 10)

	messages := []store.SessionMessage{userMsg}
	if turn.Evaluation != "" {
		messages = append(messages, store.SessionMessage{
			Role:      messageRoleAI,
			Content:   turn.Evaluation,
			Timestamp: now,
		})
	}

	spent := int(elapsed.Seconds())
	upd := store.SessionUpdate{
		TimeSpentSeconds:  &spent,
		PushQuestionScore: &score,
	}

	lastQuestion := session.CurrentQuestionIndex >= session.TotalQuestions
	if !lastQuestion {
		next := session.CurrentQuestionIndex + 1
		question := strings.TrimSpace(turn.NextQuestion)
		if question == "" {
			question = "Please elaborate on your previous answer with a concrete example."
		}
		messages = append(messages, store.SessionMessage{
			Role:          messageRoleAI,
			Content:       question,
			QuestionIndex: next,
			Timestamp:     now,
		})
		upd.CurrentQuestionIndex = &next
	}

	updated, err := s.sessions.AppendTurn(ctx, sessionID, messages, upd)
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.Conflict("session changed concurrently, reload and retry")
	}
	if err != nil {
		return nil, err
	}

	if lastQuestion {
		return s.finalize(ctx, a, updated)
	}
	return updated, nil
}

// timeOut marks the session timed out; the terminal write races only
// with itself, so a lost compare-and-set is fine.
func (s *Service) timeOut(ctx context.Context, session *store.AssessmentSession, now time.Time, elapsed time.Duration) error {
	timedOut := store.SessionTimedOut
	spent := int(elapsed.Seconds())
	_, err := s.sessions.AppendTurn(ctx, session.ID, nil, store.SessionUpdate{
		Status:           &timedOut,
		CompletedAt:      &now,
		TimeSpentSeconds: &spent,
	})
	if err != nil && !errors.Is(err, store.ErrNoMatch) {
		s.logger.Warn("timeout write failed", "session_id", session.ID, "error", err)
	}
	return apperr.Gone("the assessment time limit has passed")
}

// finalize asks the model for the end-of-session report and closes the
// session and invitation.
func (s *Service) finalize(ctx context.Context, a *store.Assessment, session *store.AssessmentSession) (*store.AssessmentSession, error) {
	history := chatHistory(a, session.Messages)
	history = append(history, llm.Message{Role: llm.RoleUser, Content: finalReportPrompt(session.QuestionScores)})

	var report finalReport
	if err := s.askJSON(ctx, history, finalReportTemperature, &report); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	completed := store.SessionCompleted
	score := clamp(report.Score, 0, 100)
	summary := report.Summary

	updated, err := s.sessions.AppendTurn(ctx, session.ID, nil, store.SessionUpdate{
		Status:      &completed,
		CompletedAt: &now,
		Score:       &score,
		Breakdown:   report.Breakdown,
		Summary:     &summary,
		Strengths:   report.Strengths,
		Weaknesses:  report.Weaknesses,
	})
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.Conflict("session changed concurrently, reload and retry")
	}
	if err != nil {
		return nil, err
	}

	if terr := s.invitations.TransitionStatus(ctx, session.InvitationID,
		[]store.InvitationStatus{store.InvitationPending, store.InvitationAccepted}, store.InvitationCompleted); terr != nil && !errors.Is(terr, store.ErrNoMatch) {
		s.logger.Warn("invitation completion failed", "invitation_id", session.InvitationID, "error", terr)
	}

	inv, err := s.invitations.ByID(ctx, session.InvitationID)
	if err == nil {
		s.notify(ctx, inv.EmployerID, store.NotifAssessmentCompleted,
			"Assessment completed",
			fmt.Sprintf("A candidate finished %q with a score of %.0f/100", a.Title, score),
			a.ID, session.FreelancerID)
	}
	s.notify(ctx, session.FreelancerID, store.NotifAssessmentCompleted,
		"Assessment completed",
		fmt.Sprintf("You finished %q; your report is ready", a.Title),
		a.ID, "")
	return updated, nil
}

// GetSession loads a session for one of its parties.
func (s *Service) GetSession(ctx context.Context, user *store.User, sessionID string) (*store.AssessmentSession, error) {
	session, err := s.sessions.ByID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("session %s not found", sessionID)
	}
	if err != nil {
		return nil, err
	}
	if session.FreelancerID == user.ID || user.Role == store.RoleAdmin {
		return session, nil
	}
	if inv, ierr := s.invitations.ByID(ctx, session.InvitationID); ierr == nil && inv.EmployerID == user.ID {
		return session, nil
	}
	return nil, apperr.Forbidden("you are not a party to this session")
}

// chatHistory rebuilds the completion history: the persona prompt, then
// the session log with wire roles mapped to model roles.
func chatHistory(a *store.Assessment, messages []store.SessionMessage) []llm.Message {
	history := make([]llm.Message, 0, len(messages)+1)
	history = append(history, llm.Message{Role: llm.RoleSystem, Content: assessorPrompt(a)})
	for _, m := range messages {
		role := llm.RoleUser
		if m.Role == messageRoleAI {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}
	return history
}

// askJSON runs one JSON-mode completion, retrying a single time when the
// response does not decode.
func (s *Service) askJSON(ctx context.Context, messages []llm.Message, temperature float32, out interface{}) error {
	for attempt := 1; attempt <= 2; attempt++ {
		content, err := s.model.Chat(ctx, messages, llm.Options{Temperature: temperature, JSONMode: true})
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(stripFences(content)), out); err == nil {
			return nil
		}
		s.logger.Warn("model returned undecodable JSON", "attempt", attempt)
	}
	return apperr.Internal(nil, "model returned undecodable JSON twice")
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

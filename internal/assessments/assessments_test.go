package assessments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/llm"
	"github.com/talentlane/backend/internal/store"
	"github.com/talentlane/backend/internal/store/memstore"
)

type capturedNotifier struct {
	mu   sync.Mutex
	sent []*store.Notification
}

func (c *capturedNotifier) Emit(_ context.Context, n *store.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *capturedNotifier) ofType(t store.NotificationType) []*store.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*store.Notification
	for _, n := range c.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// fakeLLM replays scripted completions in order.
type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) Chat(_ context.Context, _ []llm.Message, _ llm.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.calls >= len(f.responses) {
		return "", apperr.Unavailable("script exhausted")
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

type fixture struct {
	svc      *Service
	st       *store.Store
	model    *fakeLLM
	notifier *capturedNotifier
	employer *store.User
	worker   *store.User
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	model := &fakeLLM{}
	notifier := &capturedNotifier{}
	svc := NewService(st, model, notifier, nil)

	f := &fixture{
		svc:      svc,
		st:       st,
		model:    model,
		notifier: notifier,
		employer: &store.User{ID: "emp-1", Email: "boss@acme.test", Name: "Boss", Role: store.RoleEmployer, Active: true},
		worker:   &store.User{ID: "wrk-1", Email: "dev@home.test", Name: "Dev", Role: store.RoleFreelancer, Active: true},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return f.now }
	require.NoError(t, st.Users.Create(context.Background(), f.employer))
	require.NoError(t, st.Users.Create(context.Background(), f.worker))
	return f
}

func (f *fixture) createAssessment(t *testing.T, questions int) *store.Assessment {
	t.Helper()
	a, err := f.svc.CreateAssessment(context.Background(), f.employer, CreateAssessmentInput{
		Title:         "Backend Screening",
		Profession:    "Software Engineering",
		Role:          "Backend Engineer",
		Skills:        []string{"Go", "SQL"},
		QuestionCount: questions,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) invite(t *testing.T, assessmentID string) *store.AssessmentInvitation {
	t.Helper()
	inv, err := f.svc.Invite(context.Background(), f.employer, InviteInput{
		AssessmentID:    assessmentID,
		FreelancerEmail: f.worker.Email,
	})
	require.NoError(t, err)
	return inv
}

func TestCreateAssessmentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAssessment(ctx, f.worker, CreateAssessmentInput{Title: "x", Profession: "y", Role: "z"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.CreateAssessment(ctx, f.employer, CreateAssessmentInput{Title: "x"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "profession and role are required")

	_, err = f.svc.CreateAssessment(ctx, f.employer, CreateAssessmentInput{
		Title: "x", Profession: "y", Role: "z", Difficulty: "impossible",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.CreateAssessment(ctx, f.employer, CreateAssessmentInput{
		Title: "x", Profession: "y", Role: "z", QuestionCount: 21,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.CreateAssessment(ctx, f.employer, CreateAssessmentInput{
		Title: "x", Profession: "y", Role: "z", QuestionCount: 2,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "below the question floor")

	_, err = f.svc.CreateAssessment(ctx, f.employer, CreateAssessmentInput{
		Title: "x", Profession: "y", Role: "z", TimeLimitMinutes: 121,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "above the time ceiling")

	long, err := f.svc.CreateAssessment(ctx, f.employer, CreateAssessmentInput{
		Title: "x", Profession: "y", Role: "z", QuestionCount: 20, TimeLimitMinutes: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, long.QuestionCount)
	assert.Equal(t, 120, long.TimeLimitMinutes)

	a, err := f.svc.CreateAssessment(ctx, f.employer, CreateAssessmentInput{Title: "x", Profession: "y", Role: "z"})
	require.NoError(t, err)
	assert.Equal(t, store.DifficultyIntermediate, a.Difficulty)
	assert.Equal(t, defaultQuestionCount, a.QuestionCount)
	assert.Equal(t, defaultTimeLimitMin, a.TimeLimitMinutes)
	assert.True(t, a.IsActive)
}

func TestInviteBindsRegisteredCandidate(t *testing.T) {
	f := newFixture(t)
	a := f.createAssessment(t, 3)

	inv, err := f.svc.Invite(context.Background(), f.employer, InviteInput{
		AssessmentID:    a.ID,
		FreelancerEmail: "DEV@home.test",
	})
	require.NoError(t, err)
	assert.Equal(t, f.worker.ID, inv.FreelancerID, "email lookup binds the registered candidate")
	assert.Equal(t, "dev@home.test", inv.FreelancerEmail)
	assert.Len(t, inv.Token, 48, "24 random bytes hex-encoded")
	assert.Equal(t, f.now.Add(defaultInviteExpiry), inv.ExpiresAt)

	invited := f.notifier.ofType(store.NotifAssessmentInvitation)
	require.Len(t, invited, 1)
	assert.Equal(t, f.worker.ID, invited[0].RecipientID)
}

func TestInviteRequiresOwnedActiveAssessment(t *testing.T) {
	f := newFixture(t)
	a := f.createAssessment(t, 3)
	ctx := context.Background()

	stranger := &store.User{ID: "emp-2", Email: "other@acme.test", Role: store.RoleEmployer}
	_, err := f.svc.Invite(ctx, stranger, InviteInput{AssessmentID: a.ID, FreelancerEmail: "x@y.test"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, f.svc.DeactivateAssessment(ctx, f.employer, a.ID))
	_, err = f.svc.Invite(ctx, f.employer, InviteInput{AssessmentID: a.ID, FreelancerEmail: "x@y.test"})
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestResolveTokenExpiresLazily(t *testing.T) {
	f := newFixture(t)
	a := f.createAssessment(t, 3)
	inv := f.invite(t, a.ID)
	ctx := context.Background()

	view, err := f.svc.ResolveToken(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, view.Assessment.ID)
	assert.Equal(t, inv.ID, view.Invitation.ID)

	f.now = f.now.Add(defaultInviteExpiry + time.Hour)
	_, err = f.svc.ResolveToken(ctx, inv.Token)
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))

	stored, err := f.st.Invitations.ByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.InvitationExpired, stored.Status, "expiry is persisted on first touch")
}

func TestStartSessionAsksFirstQuestion(t *testing.T) {
	f := newFixture(t)
	a := f.createAssessment(t, 3)
	inv := f.invite(t, a.ID)
	f.model.responses = []string{`{"question": "What is a goroutine?"}`}

	session, err := f.svc.StartSession(context.Background(), f.worker, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, store.SessionInProgress, session.Status)
	assert.Equal(t, 1, session.CurrentQuestionIndex)
	assert.Equal(t, 3, session.TotalQuestions)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, messageRoleAI, session.Messages[0].Role)
	assert.Equal(t, "What is a goroutine?", session.Messages[0].Content)
	assert.Equal(t, 1, session.Messages[0].QuestionIndex)

	stored, err := f.st.Invitations.ByID(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.InvitationAccepted, stored.Status)

	started := f.notifier.ofType(store.NotifAssessmentStarted)
	require.Len(t, started, 1)
	assert.Equal(t, f.employer.ID, started[0].RecipientID)
}

func TestStartSessionGuards(t *testing.T) {
	f := newFixture(t)
	a := f.createAssessment(t, 3)
	inv := f.invite(t, a.ID)
	ctx := context.Background()

	stranger := &store.User{ID: "wrk-2", Email: "other@home.test", Role: store.RoleFreelancer}
	_, err := f.svc.StartSession(ctx, stranger, inv.Token)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "invitation bound to another candidate")

	f.model.responses = []string{`{"question": "Q1"}`}
	_, err = f.svc.StartSession(ctx, f.worker, inv.Token)
	require.NoError(t, err)

	_, err = f.svc.StartSession(ctx, f.worker, inv.Token)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "one in-progress session per invitation")
}

func TestStartSessionExpiredInvitation(t *testing.T) {
	f := newFixture(t)
	a := f.createAssessment(t, 3)
	inv := f.invite(t, a.ID)

	f.now = f.now.Add(defaultInviteExpiry + time.Minute)
	_, err := f.svc.StartSession(context.Background(), f.worker, inv.Token)
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))
}

func startedSession(t *testing.T, f *fixture, questions int) *store.AssessmentSession {
	t.Helper()
	a := f.createAssessment(t, questions)
	inv := f.invite(t, a.ID)
	f.model.responses = append(f.model.responses, `{"question": "Q1"}`)
	session, err := f.svc.StartSession(context.Background(), f.worker, inv.Token)
	require.NoError(t, err)
	return session
}

func TestSendMessageAdvancesToNextQuestion(t *testing.T) {
	f := newFixture(t)
	session := startedSession(t, f, 3)
	f.model.responses = append(f.model.responses,
		`{"evaluation": "Solid answer.", "score": 7.5, "next_question": "Q2", "hint": ""}`)

	updated, err := f.svc.SendMessage(context.Background(), f.worker, session.ID, "A goroutine is a lightweight thread.")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentQuestionIndex)
	assert.Equal(t, []float64{7.5}, updated.QuestionScores)
	require.Len(t, updated.Messages, 4, "question, answer, evaluation, next question")
	assert.Equal(t, messageRoleUser, updated.Messages[1].Role)
	assert.Equal(t, "Solid answer.", updated.Messages[2].Content)
	assert.Zero(t, updated.Messages[2].QuestionIndex, "evaluations carry no question index")
	assert.Equal(t, "Q2", updated.Messages[3].Content)
	assert.Equal(t, 2, updated.Messages[3].QuestionIndex)
}

func TestLastAnswerProducesFinalReport(t *testing.T) {
	f := newFixture(t)
	session := startedSession(t, f, 1)
	f.model.responses = append(f.model.responses,
		`{"evaluation": "Good.", "score": 8, "next_question": "", "hint": ""}`,
		`{"score": 82, "breakdown": {"Go": 85, "SQL": 78}, "summary": "Strong candidate.",
		  "strengths": ["clear communication"], "weaknesses": ["index tuning"]}`)

	updated, err := f.svc.SendMessage(context.Background(), f.worker, session.ID, "Answer.")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, 82.0, updated.Score)
	assert.Equal(t, 85.0, updated.Breakdown["Go"])
	assert.Equal(t, "Strong candidate.", updated.Summary)
	assert.Equal(t, []string{"clear communication"}, updated.Strengths)
	assert.Equal(t, 3, f.model.calls, "first question, evaluation, final report")

	stored, err := f.st.Invitations.ByID(context.Background(), session.InvitationID)
	require.NoError(t, err)
	assert.Equal(t, store.InvitationCompleted, stored.Status)

	completed := f.notifier.ofType(store.NotifAssessmentCompleted)
	require.Len(t, completed, 2, "one notification per party")
	recipients := []string{completed[0].RecipientID, completed[1].RecipientID}
	assert.ElementsMatch(t, []string{f.employer.ID, f.worker.ID}, recipients)

	_, err = f.svc.SendMessage(context.Background(), f.worker, session.ID, "one more")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "completed sessions take no messages")
}

func TestFinalScoreClamped(t *testing.T) {
	f := newFixture(t)
	session := startedSession(t, f, 1)
	f.model.responses = append(f.model.responses,
		`{"evaluation": "ok", "score": 14, "next_question": "", "hint": ""}`,
		`{"score": 140, "breakdown": {}, "summary": "s", "strengths": [], "weaknesses": []}`)

	updated, err := f.svc.SendMessage(context.Background(), f.worker, session.ID, "Answer.")
	require.NoError(t, err)
	assert.Equal(t, []float64{10}, updated.QuestionScores, "per-question score clamped to 10")
	assert.Equal(t, 100.0, updated.Score, "final score clamped to 100")
}

func TestTimeLimitMarksSessionTimedOut(t *testing.T) {
	f := newFixture(t)
	session := startedSession(t, f, 3)

	f.now = f.now.Add(time.Duration(defaultTimeLimitMin)*time.Minute + time.Second)
	_, err := f.svc.SendMessage(context.Background(), f.worker, session.ID, "Too late.")
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))

	stored, err := f.st.Sessions.ByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionTimedOut, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Len(t, stored.Messages, 1, "the late answer is not recorded")
	assert.Equal(t, 1, f.model.calls, "no model call after the deadline")
}

func TestSendMessageAuthorization(t *testing.T) {
	f := newFixture(t)
	session := startedSession(t, f, 3)

	stranger := &store.User{ID: "wrk-2", Email: "other@home.test", Role: store.RoleFreelancer}
	_, err := f.svc.SendMessage(context.Background(), stranger, session.ID, "hi")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.SendMessage(context.Background(), f.worker, "missing", "hi")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.SendMessage(context.Background(), f.worker, session.ID, "   ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUndecodableModelOutputRetriedOnce(t *testing.T) {
	f := newFixture(t)
	session := startedSession(t, f, 3)
	f.model.responses = append(f.model.responses,
		"Sure! Here is my evaluation of the answer.",
		"```json\n{\"evaluation\": \"ok\", \"score\": 6, \"next_question\": \"Q2\", \"hint\": \"\"}\n```")

	updated, err := f.svc.SendMessage(context.Background(), f.worker, session.ID, "Answer.")
	require.NoError(t, err)
	assert.Equal(t, []float64{6}, updated.QuestionScores)
	assert.Equal(t, 3, f.model.calls, "one retry after the prose response")
}

func TestUndecodableModelOutputTwiceIsInternal(t *testing.T) {
	f := newFixture(t)
	session := startedSession(t, f, 3)
	f.model.responses = append(f.model.responses, "prose", "still prose")

	_, err := f.svc.SendMessage(context.Background(), f.worker, session.ID, "Answer.")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestGetSessionParties(t *testing.T) {
	f := newFixture(t)
	session := startedSession(t, f, 3)
	ctx := context.Background()

	got, err := f.svc.GetSession(ctx, f.worker, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = f.svc.GetSession(ctx, f.employer, session.ID)
	assert.NoError(t, err, "the inviting employer may read the session")

	stranger := &store.User{ID: "wrk-2", Role: store.RoleFreelancer}
	_, err = f.svc.GetSession(ctx, stranger, session.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestDeclineInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createAssessment(t, 3)
	inv := f.invite(t, a.ID)

	require.NoError(t, f.svc.DeclineInvitation(ctx, inv.Token))

	stored, err := f.st.Invitations.ByToken(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, store.InvitationDeclined, stored.Status)

	declined := f.notifier.ofType(store.NotifAssessmentDeclined)
	require.Len(t, declined, 1)
	assert.Equal(t, f.employer.ID, declined[0].RecipientID)

	err = f.svc.DeclineInvitation(ctx, inv.Token)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "declining twice conflicts")
}

func TestDeclineInvitationGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createAssessment(t, 3)

	err := f.svc.DeclineInvitation(ctx, "no-such-token")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	inv := f.invite(t, a.ID)
	f.now = f.now.Add(defaultInviteExpiry + time.Hour)
	err = f.svc.DeclineInvitation(ctx, inv.Token)
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))

	stored, err := f.st.Invitations.ByToken(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, store.InvitationExpired, stored.Status, "lazy expiry persisted")
}

func TestDeclineAcceptedInvitationConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	startedSession(t, f, 3)

	invs, err := f.st.Invitations.ListByEmployer(ctx, f.employer.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)

	err = f.svc.DeclineInvitation(ctx, invs[0].Token)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

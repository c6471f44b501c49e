package contracts

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentlane/backend/internal/apperr"
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

type fakeCharger struct {
	charged int
	err     error
}

func (f *fakeCharger) ChargeMilestone(_ context.Context, c *store.Contract, index int, _ string) (*store.Contract, error) {
	f.charged++
	if f.err != nil {
		return nil, f.err
	}
	c.Milestones[index].PaymentStatus = store.PaymentProcessing
	return c, nil
}

type fixture struct {
	svc      *Service
	st       *store.Store
	notifier *capturedNotifier
	employer *store.User
	worker   *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	notifier := &capturedNotifier{}
	svc := NewService(st, notifier, nil, 3.6)

	employer := &store.User{ID: "emp-1", Email: "boss@acme.test", Name: "Boss", Role: store.RoleEmployer, Active: true}
	worker := &store.User{ID: "wrk-1", Email: "dev@home.test", Name: "Dev", Role: store.RoleFreelancer, Active: true}
	require.NoError(t, st.Users.Create(context.Background(), employer))
	require.NoError(t, st.Users.Create(context.Background(), worker))

	return &fixture{svc: svc, st: st, notifier: notifier, employer: employer, worker: worker}
}

func fixedInput(send bool) CreateInput {
	return CreateInput{
		Name:             "Build the API",
		Type:             "fixed",
		Budget:           1000,
		ContributorEmail: "dev@home.test",
		Send:             send,
		Milestones: []MilestoneInput{
			{Name: "Design", Budget: 400},
			{Name: "Implementation", Budget: 600},
		},
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.worker, fixedInput(false))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "freelancers cannot create contracts")

	in := fixedInput(false)
	in.Milestones[0].Budget = 500 // sum 1100 != 1000
	_, err = f.svc.Create(ctx, f.employer, in)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	in = fixedInput(false)
	in.Milestones = nil
	_, err = f.svc.Create(ctx, f.employer, in)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	in = fixedInput(false)
	in.Milestones = make([]MilestoneInput, 11)
	for i := range in.Milestones {
		in.Milestones[i] = MilestoneInput{Name: "m", Budget: 1000.0 / 11}
	}
	_, err = f.svc.Create(ctx, f.employer, in)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "more than 10 milestones rejected")

	_, err = f.svc.Create(ctx, f.employer, CreateInput{Name: "x", Type: "hourly", ContributorEmail: "dev@home.test"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "hourly requires a rate")
}

func TestCreateBudgetToleratesFloatDrift(t *testing.T) {
	f := newFixture(t)
	in := fixedInput(false)
	in.Budget = 0.3
	in.Milestones = []MilestoneInput{{Name: "a", Budget: 0.1}, {Name: "b", Budget: 0.2}}

	_, err := f.svc.Create(context.Background(), f.employer, in)
	assert.NoError(t, err)
}

func TestCreateBindsRegisteredContributorAndSends(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Create(context.Background(), f.employer, fixedInput(true))
	require.NoError(t, err)

	assert.Equal(t, f.worker.ID, c.ContributorID)
	assert.Equal(t, store.ContractPending, c.Status)

	invites := f.notifier.ofType(store.NotifContractInvitation)
	require.Len(t, invites, 1)
	assert.Equal(t, f.worker.ID, invites[0].RecipientID)
}

func TestAcceptAndRejectAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, f.employer, fixedInput(true))
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, f.employer, c.ID, store.ContractActive)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "creator cannot accept their own contract")

	accepted, err := f.svc.Transition(ctx, f.worker, c.ID, store.ContractActive)
	require.NoError(t, err)
	assert.Equal(t, store.ContractActive, accepted.Status)
	assert.Len(t, f.notifier.ofType(store.NotifContractAccepted), 1)

	_, err = f.svc.Transition(ctx, f.worker, c.ID, store.ContractActive)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err), "accept is not re-playable")
}

func TestAutoLinkOnFirstView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := fixedInput(true)
	in.ContributorEmail = "newcomer@home.test"
	c, err := f.svc.Create(ctx, f.employer, in)
	require.NoError(t, err)
	assert.Empty(t, c.ContributorID, "unknown email stays unbound at creation")

	newcomer := &store.User{ID: "new-1", Email: "Newcomer@home.test", Role: store.RoleFreelancer, Active: true}
	require.NoError(t, f.st.Users.Create(ctx, newcomer))

	got, err := f.svc.Get(ctx, newcomer, c.ID)
	require.NoError(t, err)
	assert.Equal(t, newcomer.ID, got.ContributorID, "first authenticated view binds by email")

	stranger := &store.User{ID: "str-1", Email: "other@home.test", Role: store.RoleFreelancer, Active: true}
	require.NoError(t, f.st.Users.Create(ctx, stranger))
	_, err = f.svc.Get(ctx, stranger, c.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func activeContract(t *testing.T, f *fixture) *store.Contract {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.Create(ctx, f.employer, fixedInput(true))
	require.NoError(t, err)
	c, err = f.svc.Transition(ctx, f.worker, c.ID, store.ContractActive)
	require.NoError(t, err)
	return c
}

func TestMilestoneLifecycle(t *testing.T) {
	f := newFixture(t)
	charger := &fakeCharger{}
	f.svc.BindCharger(charger)
	ctx := context.Background()
	c := activeContract(t, f)

	_, err := f.svc.UpdateMilestone(ctx, f.employer, c.ID, 0, MilestoneAction{Action: "start"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "creator cannot start work")

	c, err = f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "start"})
	require.NoError(t, err)
	assert.Equal(t, store.MilestoneInProgress, c.Milestones[0].Status)

	c, err = f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "submit", Note: "done"})
	require.NoError(t, err)
	assert.Equal(t, store.MilestoneSubmitted, c.Milestones[0].Status)
	assert.Equal(t, "done", c.Milestones[0].SubmissionNote)
	assert.Len(t, f.notifier.ofType(store.NotifMilestoneSubmitted), 1)

	_, err = f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "approve"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "contributor cannot approve")

	c, err = f.svc.UpdateMilestone(ctx, f.employer, c.ID, 0, MilestoneAction{Action: "approve"})
	require.NoError(t, err)
	assert.Equal(t, store.MilestoneApproved, c.Milestones[0].Status)
	assert.Equal(t, 1, charger.charged, "approval triggers the charge")
	assert.Len(t, f.notifier.ofType(store.NotifMilestoneApproved), 1)

	_, err = f.svc.UpdateMilestone(ctx, f.employer, c.ID, 0, MilestoneAction{Action: "approve"})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err), "approve is not re-playable")
}

func TestMilestoneSkipStartIsAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := activeContract(t, f)

	c, err := f.svc.UpdateMilestone(ctx, f.worker, c.ID, 1, MilestoneAction{Action: "submit"})
	require.NoError(t, err)
	assert.Equal(t, store.MilestoneSubmitted, c.Milestones[1].Status)
}

func TestMilestoneRejectionAndResubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := activeContract(t, f)

	_, err := f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "submit"})
	require.NoError(t, err)

	_, err = f.svc.UpdateMilestone(ctx, f.employer, c.ID, 0, MilestoneAction{Action: "reject"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "rejection requires feedback")

	c, err = f.svc.UpdateMilestone(ctx, f.employer, c.ID, 0, MilestoneAction{Action: "reject", Feedback: "missing tests"})
	require.NoError(t, err)
	assert.Equal(t, store.MilestoneRejected, c.Milestones[0].Status)
	assert.Equal(t, 1, c.Milestones[0].RevisionCount)
	assert.Equal(t, "missing tests", c.Milestones[0].RejectionFeedback)
	assert.Len(t, f.notifier.ofType(store.NotifMilestoneRejected), 1)

	c, err = f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "submit"})
	require.NoError(t, err)

	log := c.Milestones[0].ActivityLog
	require.NotEmpty(t, log)
	assert.Equal(t, "Milestone resubmitted after revision", log[len(log)-1].Message)
}

func TestRejectedMilestoneCanRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := activeContract(t, f)

	_, err := f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "submit"})
	require.NoError(t, err)
	_, err = f.svc.UpdateMilestone(ctx, f.employer, c.ID, 0, MilestoneAction{Action: "reject", Feedback: "wrong branch"})
	require.NoError(t, err)

	c, err = f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "start"})
	require.NoError(t, err, "rework begins by restarting the rejected milestone")
	assert.Equal(t, store.MilestoneInProgress, c.Milestones[0].Status)

	_, err = f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "start"})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err), "start is not re-playable")
}

func TestMilestoneActionsRequireActiveContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, f.employer, fixedInput(true))
	require.NoError(t, err)

	_, err = f.svc.UpdateMilestone(ctx, f.worker, c.ID, 0, MilestoneAction{Action: "start"})
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestAutoComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := activeContract(t, f)

	paid := store.MilestonePaid
	for i := range c.Milestones {
		_, err := f.st.Contracts.UpdateMilestone(ctx, c.ID, i,
			store.MilestonePrecondition{},
			store.MilestoneUpdate{Status: &paid}, nil)
		require.NoError(t, err)
	}

	done, err := f.svc.AutoComplete(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContractCompleted, done.Status)
	assert.Len(t, f.notifier.ofType(store.NotifContractCompleted), 2, "both parties notified")

	// Re-running is a no-op.
	again, err := f.svc.AutoComplete(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContractCompleted, again.Status)
	assert.Len(t, f.notifier.ofType(store.NotifContractCompleted), 2)
}

func TestAutoCompleteWaitsForAllMilestones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := activeContract(t, f)

	paid := store.MilestonePaid
	_, err := f.st.Contracts.UpdateMilestone(ctx, c.ID, 0,
		store.MilestonePrecondition{}, store.MilestoneUpdate{Status: &paid}, nil)
	require.NoError(t, err)

	got, err := f.svc.AutoComplete(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContractActive, got.Status)
}

func TestDeleteDraftOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.svc.Create(ctx, f.employer, fixedInput(false))
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, f.employer, draft.ID))

	sent, err := f.svc.Create(ctx, f.employer, fixedInput(true))
	require.NoError(t, err)
	err = f.svc.Delete(ctx, f.employer, sent.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestArchivePendingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.svc.Create(ctx, f.employer, fixedInput(false))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, f.employer, draft.ID, store.ContractArchived)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err), "a draft is deleted, not archived")

	sent, err := f.svc.Create(ctx, f.employer, fixedInput(true))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, f.worker, sent.ID, store.ContractArchived)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "only the creator archives")

	archived, err := f.svc.Transition(ctx, f.employer, sent.ID, store.ContractArchived)
	require.NoError(t, err)
	assert.Equal(t, store.ContractArchived, archived.Status)
}

func TestUpdateLockedWhenArchived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, f.employer, fixedInput(true))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, f.employer, c.ID, store.ContractArchived)
	require.NoError(t, err)

	name := "renamed"
	_, err = f.svc.Update(ctx, f.employer, c.ID, UpdateInput{Name: &name})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

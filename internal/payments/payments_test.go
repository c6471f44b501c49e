package payments

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/mailer"
	"github.com/talentlane/backend/internal/store"
	"github.com/talentlane/backend/internal/store/memstore"
)

type fakeGateway struct {
	mu            sync.Mutex
	customers     int
	intents       map[string]IntentRequest
	methods       []Method
	confirmErr    error
	webhookEvent  *Event
	webhookErr    error
	nextIntentSeq int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents: map[string]IntentRequest{},
		methods: []Method{{ID: "pm_1", Brand: "visa", Last4: "4242"}},
	}
}

func (f *fakeGateway) CreateCustomer(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers++
	return "cus_test", nil
}

func (f *fakeGateway) CreateSetupIntent(context.Context, string) (*SetupIntent, error) {
	return &SetupIntent{ID: "seti_1", ClientSecret: "secret"}, nil
}

func (f *fakeGateway) ListPaymentMethods(context.Context, string) ([]Method, error) {
	return f.methods, nil
}

func (f *fakeGateway) CreatePaymentIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextIntentSeq++
	id := "pi_" + string(rune('0'+f.nextIntentSeq))
	f.intents[id] = req
	return &Intent{ID: id, Status: "requires_confirmation"}, nil
}

func (f *fakeGateway) ConfirmPaymentIntent(_ context.Context, id, _ string) (*Intent, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &Intent{ID: id, Status: "processing"}, nil
}

func (f *fakeGateway) CancelPaymentIntent(context.Context, string) error { return nil }

func (f *fakeGateway) RetrievePaymentIntent(_ context.Context, id string) (*Intent, error) {
	return &Intent{ID: id, Status: "processing"}, nil
}

func (f *fakeGateway) VerifyWebhook([]byte, string) (*Event, error) {
	if f.webhookErr != nil {
		return nil, f.webhookErr
	}
	return f.webhookEvent, nil
}

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

func (c *capturedNotifier) count(t store.NotificationType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.sent {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fakeCompleter struct{ calls int }

func (f *fakeCompleter) AutoComplete(context.Context, string) (*store.Contract, error) {
	f.calls++
	return nil, nil
}

type fixture struct {
	orc       *Orchestrator
	st        *store.Store
	gateway   *fakeGateway
	notifier  *capturedNotifier
	completer *fakeCompleter
	employer  *store.User
	worker    *store.User
	contract  *store.Contract
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	gateway := newFakeGateway()
	notifier := &capturedNotifier{}
	completer := &fakeCompleter{}

	orc := NewOrchestrator(gateway, st, notifier, nil)
	orc.BindCompleter(completer)

	employer := &store.User{ID: "emp-1", Email: "boss@acme.test", Name: "Boss", Role: store.RoleEmployer, Active: true}
	worker := &store.User{ID: "wrk-1", Email: "dev@home.test", Name: "Dev", Role: store.RoleFreelancer, Active: true}
	require.NoError(t, st.Users.Create(ctx, employer))
	require.NoError(t, st.Users.Create(ctx, worker))

	c := &store.Contract{
		ID:                 "con-1",
		CreatorID:          employer.ID,
		ContributorID:      worker.ID,
		Name:               "Build the API",
		Type:               store.ContractFixed,
		Budget:             1000,
		Currency:           "usd",
		PlatformFeePercent: 3.6,
		Status:             store.ContractActive,
		Milestones: []store.Milestone{
			{Name: "Design", Budget: 400, Status: store.MilestoneApproved, PaymentStatus: store.PaymentNone},
			{Name: "Implementation", Budget: 600, Status: store.MilestoneSubmitted, PaymentStatus: store.PaymentNone},
		},
	}
	require.NoError(t, st.Contracts.Create(ctx, c))

	return &fixture{orc: orc, st: st, gateway: gateway, notifier: notifier,
		completer: completer, employer: employer, worker: worker, contract: c}
}

func TestChargeMilestone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	updated, err := f.orc.ChargeMilestone(ctx, f.contract, 0, "")
	require.NoError(t, err)

	m := updated.Milestones[0]
	assert.Equal(t, store.MilestoneApproved, m.Status, "charging does not change the milestone status")
	assert.Equal(t, store.PaymentProcessing, m.PaymentStatus)
	assert.NotEmpty(t, m.PaymentIntentID)
	assert.Equal(t, 1, m.PaymentAttempts)

	req := f.gateway.intents[m.PaymentIntentID]
	assert.Equal(t, int64(40000), req.AmountCents)
	assert.Equal(t, "con-1", req.Metadata["contract_id"])
	assert.Equal(t, "0", req.Metadata["milestone_index"])
	assert.Equal(t, "Design", req.Metadata["milestone_name"])
	assert.Equal(t, "3.6", req.Metadata["platform_fee_percent"])

	// Lazy customer creation persisted on the employer.
	boss, err := f.st.Users.ByID(ctx, f.employer.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_test", boss.StripeCustomerID)
}

func TestChargeMilestoneGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orc.ChargeMilestone(ctx, f.contract, 1, "")
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err), "only approved milestones are chargeable")

	_, err = f.orc.ChargeMilestone(ctx, f.contract, 0, "")
	require.NoError(t, err)

	reloaded, err := f.st.Contracts.ByID(ctx, f.contract.ID)
	require.NoError(t, err)
	_, err = f.orc.ChargeMilestone(ctx, reloaded, 0, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "in-flight payment blocks a second charge")
}

func TestChargeFailureKeepsApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.confirmErr = apperr.Precondition("payment declined: card declined")

	_, err := f.orc.ChargeMilestone(ctx, f.contract, 0, "")
	require.Error(t, err)

	c, err := f.st.Contracts.ByID(ctx, f.contract.ID)
	require.NoError(t, err)
	m := c.Milestones[0]
	assert.Equal(t, store.MilestoneApproved, m.Status, "failure never reverts the approval")
	assert.Equal(t, store.PaymentFailed, m.PaymentStatus)
	assert.NotEmpty(t, m.PaymentError)
	assert.Equal(t, 1, m.PaymentAttempts)
	assert.Equal(t, 1, f.notifier.count(store.NotifPaymentFailed))

	// Retry after failure is allowed.
	f.gateway.confirmErr = nil
	updated, err := f.orc.ChargeMilestone(ctx, c, 0, "")
	require.NoError(t, err)
	assert.Equal(t, store.PaymentProcessing, updated.Milestones[0].PaymentStatus)
	assert.Equal(t, 2, updated.Milestones[0].PaymentAttempts)
}

func succeededEvent(c *store.Contract, index int, intentID string) *Event {
	return &Event{
		Type:     EventIntentSucceeded,
		IntentID: intentID,
		Metadata: map[string]string{
			"contract_id":     c.ID,
			"milestone_index": "0",
		},
	}
}

func TestWebhookSucceededCreditsPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	charged, err := f.orc.ChargeMilestone(ctx, f.contract, 0, "")
	require.NoError(t, err)
	intentID := charged.Milestones[0].PaymentIntentID

	f.gateway.webhookEvent = succeededEvent(f.contract, 0, intentID)
	require.NoError(t, f.orc.HandleWebhook(ctx, []byte("{}"), "sig"))

	c, err := f.st.Contracts.ByID(ctx, f.contract.ID)
	require.NoError(t, err)
	m := c.Milestones[0]
	assert.Equal(t, store.MilestonePaid, m.Status)
	assert.Equal(t, store.PaymentSucceeded, m.PaymentStatus)
	assert.NotNil(t, m.PaidAt)
	assert.InDelta(t, 385.60, m.PayoutAmount, 0.001, "payout is budget minus the 3.6%% fee")

	dev, err := f.st.Users.ByID(ctx, f.worker.ID)
	require.NoError(t, err)
	assert.InDelta(t, 385.60, dev.Balance, 0.001)
	assert.InDelta(t, 385.60, dev.TotalEarnings, 0.001)

	assert.Equal(t, 1, f.notifier.count(store.NotifMilestonePaid))
	assert.Equal(t, 1, f.notifier.count(store.NotifPaymentReceipt))
	assert.Equal(t, 1, f.completer.calls)
}

func TestWebhookSucceededIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	charged, err := f.orc.ChargeMilestone(ctx, f.contract, 0, "")
	require.NoError(t, err)
	f.gateway.webhookEvent = succeededEvent(f.contract, 0, charged.Milestones[0].PaymentIntentID)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.orc.HandleWebhook(ctx, []byte("{}"), "sig"))
	}

	dev, err := f.st.Users.ByID(ctx, f.worker.ID)
	require.NoError(t, err)
	assert.InDelta(t, 385.60, dev.Balance, 0.001, "repeat deliveries credit exactly once")
	assert.Equal(t, 1, f.notifier.count(store.NotifMilestonePaid))
}

func TestWebhookFailedKeepsMilestoneApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	charged, err := f.orc.ChargeMilestone(ctx, f.contract, 0, "")
	require.NoError(t, err)
	f.gateway.webhookEvent = &Event{
		Type:           EventIntentFailed,
		IntentID:       charged.Milestones[0].PaymentIntentID,
		Metadata:       map[string]string{"contract_id": f.contract.ID, "milestone_index": "0"},
		FailureMessage: "insufficient funds",
	}
	require.NoError(t, f.orc.HandleWebhook(ctx, []byte("{}"), "sig"))

	c, err := f.st.Contracts.ByID(ctx, f.contract.ID)
	require.NoError(t, err)
	m := c.Milestones[0]
	assert.Equal(t, store.MilestoneApproved, m.Status)
	assert.Equal(t, store.PaymentFailed, m.PaymentStatus)
	assert.Equal(t, "insufficient funds", m.PaymentError)
	assert.Equal(t, 1, f.notifier.count(store.NotifPaymentFailed))
	assert.Equal(t, 1, f.notifier.count(store.NotifPaymentDelayed))
}

func TestWebhookBadSignature(t *testing.T) {
	f := newFixture(t)
	f.gateway.webhookErr = apperr.Validation("webhook signature verification failed")

	err := f.orc.HandleWebhook(context.Background(), []byte("{}"), "bad")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestWebhookUnknownEventIgnored(t *testing.T) {
	f := newFixture(t)
	f.gateway.webhookEvent = &Event{Type: "charge.refunded"}
	assert.NoError(t, f.orc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
}

func fundedWorker(t *testing.T, f *fixture, amount float64) *store.User {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.st.Users.CreditEarnings(ctx, f.worker.ID, amount))
	require.NoError(t, f.st.Users.SetBankInfo(ctx, f.worker.ID, &store.BankInfo{
		AccountHolder: "Dev", BankName: "Bank", AccountNumber: "123",
		Country: "NL", Currency: "eur",
	}))
	u, err := f.st.Users.ByID(ctx, f.worker.ID)
	require.NoError(t, err)
	return u
}

func TestRequestWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := fundedWorker(t, f, 500)

	w, err := f.orc.RequestWithdrawal(ctx, worker, 200)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalPending, w.Status)
	assert.Equal(t, "eur", w.Currency)
	assert.Equal(t, "123", w.BankInfo.AccountNumber, "bank info is snapshotted")

	u, err := f.st.Users.ByID(ctx, worker.ID)
	require.NoError(t, err)
	assert.InDelta(t, 300, u.Balance, 0.001)
	assert.Equal(t, 1, f.notifier.count(store.NotifWithdrawalRequested))

	_, err = f.orc.RequestWithdrawal(ctx, u, 50)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "one open withdrawal at a time")
}

// blindWithdrawals hides open withdrawals from the pre-check, simulating a
// second request racing past it before the first insert lands.
type blindWithdrawals struct {
	store.Withdrawals
}

func (b *blindWithdrawals) HasOpen(context.Context, string) (bool, error) {
	return false, nil
}

func TestRequestWithdrawalRaceLosesAtInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := fundedWorker(t, f, 500)
	f.orc.withdrawals = &blindWithdrawals{Withdrawals: f.st.Withdrawals}

	_, err := f.orc.RequestWithdrawal(ctx, worker, 200)
	require.NoError(t, err)

	_, err = f.orc.RequestWithdrawal(ctx, worker, 100)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "store uniqueness backstops the pre-check")

	list, err := f.st.Withdrawals.ListByUser(ctx, worker.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1, "only one withdrawal was opened")

	u, err := f.st.Users.ByID(ctx, worker.ID)
	require.NoError(t, err)
	assert.InDelta(t, 300, u.Balance, 0.001, "the losing debit was refunded")
}

func TestRequestWithdrawalInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	worker := fundedWorker(t, f, 100)

	_, err := f.orc.RequestWithdrawal(context.Background(), worker, 150)
	require.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Insufficient balance")

	u, err2 := f.st.Users.ByID(context.Background(), worker.ID)
	require.NoError(t, err2)
	assert.InDelta(t, 100, u.Balance, 0.001, "failed request leaves the balance untouched")
}

func TestRequestWithdrawalRequiresBankInfo(t *testing.T) {
	f := newFixture(t)
	_, err := f.orc.RequestWithdrawal(context.Background(), f.worker, 10)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestProcessWithdrawalRejectRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := fundedWorker(t, f, 500)
	admin := &store.User{ID: "adm-1", Role: store.RoleAdmin}

	w, err := f.orc.RequestWithdrawal(ctx, worker, 200)
	require.NoError(t, err)

	_, err = f.orc.ProcessWithdrawal(ctx, worker, w.ID, store.WithdrawalCompleted, "", "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "non-admins cannot process")

	rejected, err := f.orc.ProcessWithdrawal(ctx, admin, w.ID, store.WithdrawalRejected, "bad account", "")
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalRejected, rejected.Status)

	u, err := f.st.Users.ByID(ctx, worker.ID)
	require.NoError(t, err)
	assert.InDelta(t, 500, u.Balance, 0.001, "rejection returns the amount")
	assert.Equal(t, 1, f.notifier.count(store.NotifWithdrawalRejected))

	// Terminal states cannot be re-processed.
	_, err = f.orc.ProcessWithdrawal(ctx, admin, w.ID, store.WithdrawalCompleted, "", "")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestProcessWithdrawalCompletePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := fundedWorker(t, f, 500)
	admin := &store.User{ID: "adm-1", Role: store.RoleAdmin}

	w, err := f.orc.RequestWithdrawal(ctx, worker, 400)
	require.NoError(t, err)

	_, err = f.orc.ProcessWithdrawal(ctx, admin, w.ID, store.WithdrawalProcessing, "", "batch-77")
	require.NoError(t, err)
	done, err := f.orc.ProcessWithdrawal(ctx, admin, w.ID, store.WithdrawalCompleted, "", "batch-77")
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalCompleted, done.Status)

	u, err := f.st.Users.ByID(ctx, worker.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, u.Balance, 0.001, "completion does not refund")
}

type capturedMailer struct{ sent []mailer.Email }

func (m *capturedMailer) Send(_ context.Context, e mailer.Email) error {
	m.sent = append(m.sent, e)
	return nil
}

func TestCompletedWithdrawalSendsEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := fundedWorker(t, f, 500)
	admin := &store.User{ID: "adm-1", Role: store.RoleAdmin}
	mail := &capturedMailer{}
	f.orc.mail = mail

	w, err := f.orc.RequestWithdrawal(ctx, worker, 200)
	require.NoError(t, err)

	_, err = f.orc.ProcessWithdrawal(ctx, admin, w.ID, store.WithdrawalCompleted, "", "batch-1")
	require.NoError(t, err)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, worker.Email, mail.sent[0].To)
	assert.Contains(t, mail.sent[0].Text, "200.00 EUR")
}

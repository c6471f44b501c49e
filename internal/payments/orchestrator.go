package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/mailer"
	"github.com/talentlane/backend/internal/store"
)

// Notifier is the notification fabric as the orchestrator needs it.
type Notifier interface {
	Emit(ctx context.Context, n *store.Notification) error
}

// Completer closes a contract once every milestone is paid; implemented
// by the contract core and invoked after each reconciled payment.
type Completer interface {
	AutoComplete(ctx context.Context, contractID string) (*store.Contract, error)
}

// Orchestrator translates milestone approvals into gateway charges,
// reconciles gateway webhooks, and runs the withdrawal lifecycle.
type Orchestrator struct {
	gateway     Gateway
	users       store.Users
	contracts   store.Contracts
	withdrawals store.Withdrawals
	notifier    Notifier
	completer   Completer
	mail        mailer.Mailer
	logger      *slog.Logger
	now         func() time.Time
}

func NewOrchestrator(gateway Gateway, st *store.Store, notifier Notifier, mail mailer.Mailer) *Orchestrator {
	return &Orchestrator{
		gateway:     gateway,
		users:       st.Users,
		contracts:   st.Contracts,
		withdrawals: st.Withdrawals,
		notifier:    notifier,
		mail:        mail,
		logger:      slog.With("component", "payments"),
		now:         time.Now,
	}
}

// BindCompleter attaches the contract core's auto-complete hook.
func (o *Orchestrator) BindCompleter(c Completer) { o.completer = c }

// EnsureCustomer lazily creates the gateway customer for a user and
// persists the id.
func (o *Orchestrator) EnsureCustomer(ctx context.Context, user *store.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	customerID, err := o.gateway.CreateCustomer(ctx, user.Email, user.Name)
	if err != nil {
		return "", err
	}
	if err := o.users.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		return "", err
	}
	user.StripeCustomerID = customerID
	return customerID, nil
}

// SetupIntent creates a gateway setup intent so the user can attach a
// payment instrument.
func (o *Orchestrator) SetupIntent(ctx context.Context, user *store.User) (*SetupIntent, error) {
	customerID, err := o.EnsureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}
	return o.gateway.CreateSetupIntent(ctx, customerID)
}

// Methods lists the user's saved payment instruments.
func (o *Orchestrator) Methods(ctx context.Context, user *store.User) ([]Method, error) {
	if user.StripeCustomerID == "" {
		return []Method{}, nil
	}
	return o.gateway.ListPaymentMethods(ctx, user.StripeCustomerID)
}

// Pay is the explicit charge/retry entry point. Creator only.
func (o *Orchestrator) Pay(ctx context.Context, user *store.User, contractID string, index int, methodID string) (*store.Contract, error) {
	c, err := o.contracts.ByID(ctx, contractID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("contract %s not found", contractID)
	}
	if err != nil {
		return nil, err
	}
	if c.CreatorID != user.ID {
		return nil, apperr.Forbidden("only the contract creator can pay a milestone")
	}
	return o.ChargeMilestone(ctx, c, index, methodID)
}

// ChargeMilestone charges one approved milestone: lazy customer, method
// selection, intent creation with reconciliation metadata, auto-confirm.
// Gateway failures are recorded on the milestone; the approval stands.
func (o *Orchestrator) ChargeMilestone(ctx context.Context, c *store.Contract, index int, methodID string) (*store.Contract, error) {
	if index < 0 || index >= len(c.Milestones) {
		return nil, apperr.NotFound("contract has no milestone %d", index)
	}
	m := c.Milestones[index]
	if m.Status != store.MilestoneApproved {
		return nil, apperr.Precondition("milestone must be approved before payment, currently %s", m.Status)
	}
	switch m.PaymentStatus {
	case store.PaymentSucceeded:
		return nil, apperr.Conflict("milestone is already paid")
	case store.PaymentProcessing:
		return nil, apperr.Conflict("a payment for this milestone is already in flight")
	}

	creator, err := o.users.ByID(ctx, c.CreatorID)
	if err != nil {
		return nil, err
	}
	customerID, err := o.EnsureCustomer(ctx, creator)
	if err != nil {
		return nil, err
	}

	if methodID == "" {
		methods, err := o.gateway.ListPaymentMethods(ctx, customerID)
		if err != nil {
			return nil, err
		}
		if len(methods) == 0 {
			return nil, apperr.Precondition("no saved payment method; add one first")
		}
		methodID = methods[0].ID
	}

	intent, err := o.gateway.CreatePaymentIntent(ctx, IntentRequest{
		AmountCents: int64(math.Round(m.Budget * 100)),
		Currency:    c.Currency,
		CustomerID:  customerID,
		Metadata: map[string]string{
			"contract_id":          c.ID,
			"milestone_index":      strconv.Itoa(index),
			"milestone_name":       m.Name,
			"platform_fee_percent": strconv.FormatFloat(c.PlatformFeePercent, 'f', -1, 64),
		},
	})
	if err != nil {
		return nil, o.recordChargeFailure(ctx, c, index, "", err)
	}

	if _, err := o.gateway.ConfirmPaymentIntent(ctx, intent.ID, methodID); err != nil {
		return nil, o.recordChargeFailure(ctx, c, index, intent.ID, err)
	}

	processing := store.PaymentProcessing
	updated, err := o.contracts.UpdateMilestone(ctx, c.ID, index,
		store.MilestonePrecondition{
			Status:           []store.MilestoneStatus{store.MilestoneApproved},
			PaymentStatusNot: store.PaymentSucceeded,
		},
		store.MilestoneUpdate{
			PaymentIntentID:    &intent.ID,
			PaymentStatus:      &processing,
			IncPaymentAttempts: true,
		},
		&store.ActivityEntry{
			Action:    "payment_initiated",
			Actor:     store.ActorCreator,
			Message:   fmt.Sprintf("Payment of %.2f %s initiated", m.Budget, c.Currency),
			Timestamp: o.now().UTC(),
		})
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.Conflict("milestone changed while the payment was being created")
	}
	return updated, err
}

// recordChargeFailure marks the milestone failed and notifies the
// creator, then returns the gateway error unchanged.
func (o *Orchestrator) recordChargeFailure(ctx context.Context, c *store.Contract, index int, intentID string, cause error) error {
	failed := store.PaymentFailed
	msg := cause.Error()
	now := o.now().UTC()
	upd := store.MilestoneUpdate{
		PaymentStatus:      &failed,
		PaymentError:       &msg,
		PaymentFailedAt:    &now,
		IncPaymentAttempts: true,
	}
	if intentID != "" {
		upd.PaymentIntentID = &intentID
	}
	_, err := o.contracts.UpdateMilestone(ctx, c.ID, index,
		store.MilestonePrecondition{PaymentStatusNot: store.PaymentSucceeded},
		upd,
		&store.ActivityEntry{
			Action:    "payment_failed",
			Actor:     store.ActorSystem,
			Message:   msg,
			Timestamp: now,
		})
	if err != nil {
		o.logger.Error("failed to record charge failure",
			"contract_id", c.ID, "milestone", index, "error", err)
	}

	o.emit(ctx, c.CreatorID, store.NotifPaymentFailed, "Payment failed",
		fmt.Sprintf("The payment for %q on %q failed: %s", c.Milestones[index].Name, c.Name, msg), c.ID)
	return cause
}

func (o *Orchestrator) emit(ctx context.Context, recipientID string, typ store.NotificationType, title, body, contractID string) {
	if recipientID == "" {
		return
	}
	err := o.notifier.Emit(ctx, &store.Notification{
		RecipientID: recipientID,
		Type:        typ,
		Title:       title,
		Body:        body,
		ContractID:  contractID,
	})
	if err != nil {
		o.logger.Warn("notification emit failed", "type", typ, "error", err)
	}
}

package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/talentlane/backend/internal/metrics"
	"github.com/talentlane/backend/internal/store"
)

// HandleWebhook verifies and reconciles one gateway event. A signature
// failure surfaces as a validation error (the endpoint answers 400);
// everything after verification is absorbed so the gateway stops
// retrying events our own logic cannot process.
func (o *Orchestrator) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := o.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		metrics.PaymentWebhooksTotal.WithLabelValues("unknown", "bad_signature").Inc()
		return err
	}

	switch event.Type {
	case EventIntentSucceeded:
		err = o.reconcileSucceeded(ctx, event)
	case EventIntentFailed:
		err = o.reconcileFailed(ctx, event)
	default:
		metrics.PaymentWebhooksTotal.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	if err != nil {
		metrics.PaymentWebhooksTotal.WithLabelValues(event.Type, "error").Inc()
		o.logger.Error("webhook reconciliation failed",
			"event_type", event.Type, "intent_id", event.IntentID, "error", err)
		return nil
	}
	metrics.PaymentWebhooksTotal.WithLabelValues(event.Type, "ok").Inc()
	return nil
}

// locate resolves the contract and milestone index an intent refers to,
// preferring the metadata and falling back to the stored intent id.
func (o *Orchestrator) locate(ctx context.Context, event *Event) (*store.Contract, int, error) {
	if contractID := event.Metadata["contract_id"]; contractID != "" {
		index, err := strconv.Atoi(event.Metadata["milestone_index"])
		if err != nil {
			return nil, 0, fmt.Errorf("intent %s carries a bad milestone_index: %w", event.IntentID, err)
		}
		c, err := o.contracts.ByID(ctx, contractID)
		if err != nil {
			return nil, 0, err
		}
		if index < 0 || index >= len(c.Milestones) {
			return nil, 0, fmt.Errorf("contract %s has no milestone %d", contractID, index)
		}
		return c, index, nil
	}

	c, err := o.contracts.ByPaymentIntent(ctx, event.IntentID)
	if err != nil {
		return nil, 0, err
	}
	for i, m := range c.Milestones {
		if m.PaymentIntentID == event.IntentID {
			return c, i, nil
		}
	}
	return nil, 0, fmt.Errorf("intent %s not present on contract %s", event.IntentID, c.ID)
}

// reconcileSucceeded marks the milestone paid and credits the
// contributor. Idempotent: the compare-and-set on payment_status lets the
// first delivery win and later deliveries observe succeeded and exit.
func (o *Orchestrator) reconcileSucceeded(ctx context.Context, event *Event) error {
	c, index, err := o.locate(ctx, event)
	if err != nil {
		return err
	}
	if c.Milestones[index].PaymentStatus == store.PaymentSucceeded {
		return nil
	}

	m := c.Milestones[index]
	payout := round2(m.Budget * (1 - c.PlatformFeePercent/100))
	now := o.now().UTC()
	paid := store.MilestonePaid
	succeeded := store.PaymentSucceeded

	updated, err := o.contracts.UpdateMilestone(ctx, c.ID, index,
		store.MilestonePrecondition{PaymentStatusNot: store.PaymentSucceeded},
		store.MilestoneUpdate{
			Status:          &paid,
			PaidAt:          &now,
			PaymentStatus:   &succeeded,
			PaymentIntentID: &event.IntentID,
			PayoutAmount:    &payout,
		},
		&store.ActivityEntry{
			Action:    "paid",
			Actor:     store.ActorSystem,
			Message:   fmt.Sprintf("Payment confirmed, %.2f %s released", payout, c.Currency),
			Timestamp: now,
		})
	if errors.Is(err, store.ErrNoMatch) {
		// A concurrent delivery won the compare-and-set.
		return nil
	}
	if err != nil {
		return err
	}

	// Single $inc against the payee document; safe under concurrent
	// webhooks because only one delivery reaches this point.
	if updated.ContributorID != "" {
		if err := o.users.CreditEarnings(ctx, updated.ContributorID, payout); err != nil {
			return fmt.Errorf("crediting contributor %s: %w", updated.ContributorID, err)
		}
		o.emit(ctx, updated.ContributorID, store.NotifMilestonePaid, "Milestone paid",
			fmt.Sprintf("%.2f %s was released for %q on %q", payout, updated.Currency, m.Name, updated.Name), updated.ID)
	}
	o.emit(ctx, updated.CreatorID, store.NotifPaymentReceipt, "Payment receipt",
		fmt.Sprintf("Your payment of %.2f %s for %q on %q was processed", m.Budget, updated.Currency, m.Name, updated.Name), updated.ID)

	if o.completer != nil {
		if _, err := o.completer.AutoComplete(ctx, updated.ID); err != nil {
			o.logger.Warn("auto-complete check failed", "contract_id", updated.ID, "error", err)
		}
	}
	return nil
}

// reconcileFailed records the failure; the milestone stays approved so
// the creator can retry.
func (o *Orchestrator) reconcileFailed(ctx context.Context, event *Event) error {
	c, index, err := o.locate(ctx, event)
	if err != nil {
		return err
	}

	reason := event.FailureMessage
	if reason == "" {
		reason = "payment was declined by the gateway"
	}
	failed := store.PaymentFailed
	now := o.now().UTC()

	updated, err := o.contracts.UpdateMilestone(ctx, c.ID, index,
		store.MilestonePrecondition{PaymentStatusNot: store.PaymentSucceeded},
		store.MilestoneUpdate{
			PaymentStatus:   &failed,
			PaymentError:    &reason,
			PaymentFailedAt: &now,
		},
		&store.ActivityEntry{
			Action:    "payment_failed",
			Actor:     store.ActorSystem,
			Message:   reason,
			Timestamp: now,
		})
	if errors.Is(err, store.ErrNoMatch) {
		// Already succeeded; a stale failure event changes nothing.
		return nil
	}
	if err != nil {
		return err
	}

	m := updated.Milestones[index]
	o.emit(ctx, updated.CreatorID, store.NotifPaymentFailed, "Payment failed",
		fmt.Sprintf("The payment for %q on %q failed: %s", m.Name, updated.Name, reason), updated.ID)
	if updated.ContributorID != "" {
		o.emit(ctx, updated.ContributorID, store.NotifPaymentDelayed, "Payment delayed",
			fmt.Sprintf("The payment for %q on %q hit a problem; the employer was asked to retry", m.Name, updated.Name), updated.ID)
	}
	return nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

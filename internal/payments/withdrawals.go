package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/mailer"
	"github.com/talentlane/backend/internal/store"
)

// SetBankInfo validates and stores the user's payout destination.
func (o *Orchestrator) SetBankInfo(ctx context.Context, user *store.User, info *BankInfoInput) error {
	if info == nil {
		return apperr.Validation("bank info is required")
	}
	for field, v := range map[string]string{
		"account_holder": info.AccountHolder,
		"bank_name":      info.BankName,
		"account_number": info.AccountNumber,
		"country":        info.Country,
		"currency":       info.Currency,
	} {
		if strings.TrimSpace(v) == "" {
			return apperr.Validation("bank info field %s is required", field)
		}
	}
	return o.users.SetBankInfo(ctx, user.ID, &store.BankInfo{
		AccountHolder: strings.TrimSpace(info.AccountHolder),
		BankName:      strings.TrimSpace(info.BankName),
		AccountNumber: strings.TrimSpace(info.AccountNumber),
		RoutingNumber: strings.TrimSpace(info.RoutingNumber),
		Country:       strings.TrimSpace(info.Country),
		Currency:      strings.ToLower(strings.TrimSpace(info.Currency)),
	})
}

// BankInfoInput is the withdrawal-info request body.
type BankInfoInput struct {
	AccountHolder string `json:"account_holder"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number"`
	Country       string `json:"country"`
	Currency      string `json:"currency"`
}

// RequestWithdrawal debits the balance and opens a withdrawal. The debit
// is a compare-and-set guarded by balance >= amount, so concurrent
// requests cannot overdraw.
func (o *Orchestrator) RequestWithdrawal(ctx context.Context, user *store.User, amount float64) (*store.Withdrawal, error) {
	if amount <= 0 {
		return nil, apperr.Validation("withdrawal amount must be positive")
	}
	if user.BankInfo == nil {
		return nil, apperr.Precondition("configure withdrawal bank info first")
	}

	open, err := o.withdrawals.HasOpen(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, apperr.Conflict("a withdrawal is already pending; wait for it to finish")
	}

	if err := o.users.DebitBalance(ctx, user.ID, amount); err != nil {
		if errors.Is(err, store.ErrNoMatch) {
			return nil, apperr.Precondition("Insufficient balance")
		}
		return nil, err
	}

	w := &store.Withdrawal{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Amount:    round2(amount),
		Currency:  user.BankInfo.Currency,
		Status:    store.WithdrawalPending,
		BankInfo:  *user.BankInfo, // snapshot; later edits don't affect this payout
		CreatedAt: o.now().UTC(),
	}
	if err := o.withdrawals.Create(ctx, w); err != nil {
		// The debit already happened; put the money back before failing.
		if rerr := o.users.RefundBalance(ctx, user.ID, amount); rerr != nil {
			o.logger.Error("refund after failed withdrawal create failed",
				"user_id", user.ID, "amount", amount, "error", rerr)
		}
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent request slipped past the pre-check; the store's
			// uniqueness rule is the final arbiter.
			return nil, apperr.Conflict("a withdrawal is already pending; wait for it to finish")
		}
		return nil, err
	}

	o.emit(ctx, user.ID, store.NotifWithdrawalRequested, "Withdrawal requested",
		fmt.Sprintf("Your withdrawal of %.2f %s was received and is awaiting processing", w.Amount, strings.ToUpper(w.Currency)), "")
	return w, nil
}

// ListWithdrawals returns the user's withdrawal history.
func (o *Orchestrator) ListWithdrawals(ctx context.Context, user *store.User) ([]*store.Withdrawal, error) {
	return o.withdrawals.ListByUser(ctx, user.ID)
}

// ProcessWithdrawal is the admin transition: processing (intermediate),
// completed (terminal), or rejected (terminal, refunds the balance).
// Terminal withdrawals cannot be re-processed.
func (o *Orchestrator) ProcessWithdrawal(ctx context.Context, admin *store.User, id string, to store.WithdrawalStatus, adminNote, processorRef string) (*store.Withdrawal, error) {
	if admin.Role != store.RoleAdmin {
		return nil, apperr.Forbidden("only admins can process withdrawals")
	}

	var from []store.WithdrawalStatus
	switch to {
	case store.WithdrawalProcessing:
		from = []store.WithdrawalStatus{store.WithdrawalPending}
	case store.WithdrawalCompleted, store.WithdrawalRejected:
		from = []store.WithdrawalStatus{store.WithdrawalPending, store.WithdrawalProcessing}
	default:
		return nil, apperr.Validation("withdrawals can only move to processing, completed, or rejected")
	}

	w, err := o.withdrawals.TransitionStatus(ctx, id, from, to, adminNote, processorRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("withdrawal %s not found", id)
	}
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.InvalidTransition("withdrawal", "terminal", string(to))
	}
	if err != nil {
		return nil, err
	}

	switch to {
	case store.WithdrawalProcessing:
		o.emit(ctx, w.UserID, store.NotifWithdrawalProcessing, "Withdrawal processing",
			fmt.Sprintf("Your withdrawal of %.2f %s is being processed", w.Amount, strings.ToUpper(w.Currency)), "")
	case store.WithdrawalCompleted:
		o.emit(ctx, w.UserID, store.NotifWithdrawalCompleted, "Withdrawal completed",
			fmt.Sprintf("Your withdrawal of %.2f %s was sent to your bank", w.Amount, strings.ToUpper(w.Currency)), "")
		o.sendWithdrawalEmail(ctx, w)
	case store.WithdrawalRejected:
		// Rejection returns the money with the same atomic $inc used by
		// payout credits.
		if err := o.users.RefundBalance(ctx, w.UserID, w.Amount); err != nil {
			o.logger.Error("withdrawal rejection refund failed",
				"withdrawal_id", w.ID, "user_id", w.UserID, "error", err)
		}
		body := fmt.Sprintf("Your withdrawal of %.2f %s was rejected and the amount returned to your balance", w.Amount, strings.ToUpper(w.Currency))
		if adminNote != "" {
			body += ": " + adminNote
		}
		o.emit(ctx, w.UserID, store.NotifWithdrawalRejected, "Withdrawal rejected", body, "")
	}
	return w, nil
}

// sendWithdrawalEmail confirms a completed payout by mail. Failures are
// logged only; the in-app notification already went out.
func (o *Orchestrator) sendWithdrawalEmail(ctx context.Context, w *store.Withdrawal) {
	if o.mail == nil {
		return
	}
	user, err := o.users.ByID(ctx, w.UserID)
	if err != nil {
		o.logger.Warn("withdrawal email recipient lookup failed", "withdrawal_id", w.ID, "error", err)
		return
	}
	amount := fmt.Sprintf("%.2f %s", w.Amount, strings.ToUpper(w.Currency))
	err = o.mail.Send(ctx, mailer.Email{
		To:      user.Email,
		Subject: "Your withdrawal was sent",
		HTML:    fmt.Sprintf("<p>Your withdrawal of <b>%s</b> was sent to %s.</p>", amount, w.BankInfo.BankName),
		Text:    fmt.Sprintf("Your withdrawal of %s was sent to %s.", amount, w.BankInfo.BankName),
	})
	if err != nil {
		o.logger.Warn("withdrawal email failed", "withdrawal_id", w.ID, "error", err)
	}
}

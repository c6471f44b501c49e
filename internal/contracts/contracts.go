// Package contracts implements the contract and milestone lifecycle:
// creation, the validated status graphs, milestone actions with their
// activity log, auto-linking of email invitations, and auto-completion.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/mailer"
	"github.com/talentlane/backend/internal/store"
)

const maxMilestones = 10

// budgetEpsilon absorbs float drift when checking that milestone budgets
// sum to the contract budget.
const budgetEpsilon = 0.01

// Notifier is the notification fabric as this package needs it.
type Notifier interface {
	Emit(ctx context.Context, n *store.Notification) error
}

// Charger triggers the payment flow when a milestone is approved. The
// implementation records payment state on the milestone itself and never
// reverts the approval.
type Charger interface {
	ChargeMilestone(ctx context.Context, contract *store.Contract, index int, methodID string) (*store.Contract, error)
}

// Service is the contract core.
type Service struct {
	contracts  store.Contracts
	users      store.Users
	notifier   Notifier
	mail       mailer.Mailer
	charger    Charger
	feePercent float64
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(st *store.Store, notifier Notifier, mail mailer.Mailer, feePercent float64) *Service {
	return &Service{
		contracts:  st.Contracts,
		users:      st.Users,
		notifier:   notifier,
		mail:       mail,
		feePercent: feePercent,
		logger:     slog.With("component", "contracts"),
		now:        time.Now,
	}
}

// BindCharger attaches the payment trigger after construction; the
// orchestrator and the contract core reference each other only through
// their ports.
func (s *Service) BindCharger(c Charger) { s.charger = c }

// MilestoneInput is one milestone in a creation request.
type MilestoneInput struct {
	Name    string     `json:"name"`
	Budget  float64    `json:"budget"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

// CreateInput is a contract creation request.
type CreateInput struct {
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	Category         string           `json:"category"`
	Type             string           `json:"type"`
	Budget           float64          `json:"budget"`
	HourlyRate       float64          `json:"hourly_rate"`
	HoursPerWeek     int              `json:"hours_per_week"`
	Currency         string           `json:"currency"`
	ContributorEmail string           `json:"contributor_email"`
	SplitMilestones  bool             `json:"split_milestones"`
	Milestones       []MilestoneInput `json:"milestones"`
	Send             bool             `json:"send"`
}

// UpdateInput carries the mutable contract fields. Status here only
// supports the draft→pending send; every other move goes through
// Transition.
type UpdateInput struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	Category         *string `json:"category"`
	ContributorEmail *string `json:"contributor_email"`
	Status           *string `json:"status"`
}

// MilestoneAction is the payload of a milestone status change.
type MilestoneAction struct {
	Action          string `json:"action"`
	Note            string `json:"note"`
	Feedback        string `json:"feedback"`
	PaymentMethodID string `json:"payment_method_id"`
}

// Create validates and persists a new contract. Employers only.
func (s *Service) Create(ctx context.Context, creator *store.User, in CreateInput) (*store.Contract, error) {
	if creator.Role != store.RoleEmployer && creator.Role != store.RoleAdmin {
		return nil, apperr.Forbidden("only employers can create contracts")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("contract name is required")
	}

	ctype := store.ContractType(in.Type)
	switch ctype {
	case store.ContractFixed:
		if err := validateFixed(in); err != nil {
			return nil, err
		}
	case store.ContractHourly:
		if in.HourlyRate <= 0 {
			return nil, apperr.Validation("hourly contracts require a positive hourly_rate")
		}
		if len(in.Milestones) > 0 {
			return nil, apperr.Validation("hourly contracts do not carry milestones")
		}
	default:
		return nil, apperr.Validation("contract type must be fixed or hourly")
	}

	if strings.TrimSpace(in.ContributorEmail) == "" {
		return nil, apperr.Validation("contributor_email is required")
	}

	now := s.now().UTC()
	c := &store.Contract{
		ID:                 uuid.New().String(),
		CreatorID:          creator.ID,
		ContributorEmail:   strings.ToLower(strings.TrimSpace(in.ContributorEmail)),
		Name:               strings.TrimSpace(in.Name),
		Description:        in.Description,
		Category:           in.Category,
		Type:               ctype,
		Budget:             in.Budget,
		HourlyRate:         in.HourlyRate,
		HoursPerWeek:       in.HoursPerWeek,
		Currency:           currencyOrDefault(in.Currency),
		PlatformFeePercent: s.feePercent,
		SplitMilestones:    in.SplitMilestones,
		Status:             store.ContractDraft,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, m := range in.Milestones {
		c.Milestones = append(c.Milestones, store.Milestone{
			Name:          strings.TrimSpace(m.Name),
			Budget:        m.Budget,
			DueDate:       m.DueDate,
			Status:        store.MilestonePending,
			PaymentStatus: store.PaymentNone,
			ActivityLog: []store.ActivityEntry{{
				Action:    "created",
				Actor:     store.ActorCreator,
				Timestamp: now,
			}},
		})
	}

	// Addressing a registered user binds immediately; an unknown email
	// auto-links on first authenticated contact.
	if contributor, err := s.users.ByEmail(ctx, c.ContributorEmail); err == nil {
		c.ContributorID = contributor.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := s.contracts.Create(ctx, c); err != nil {
		return nil, err
	}

	if in.Send {
		return s.send(ctx, creator, c)
	}
	return c, nil
}

func validateFixed(in CreateInput) error {
	if in.Budget <= 0 {
		return apperr.Validation("fixed contracts require a positive budget")
	}
	if len(in.Milestones) == 0 {
		return apperr.Validation("fixed contracts require at least one milestone")
	}
	if len(in.Milestones) > maxMilestones {
		return apperr.Validation("contracts are limited to %d milestones", maxMilestones)
	}
	var sum float64
	for i, m := range in.Milestones {
		if strings.TrimSpace(m.Name) == "" {
			return apperr.Validation("milestone %d needs a name", i+1)
		}
		if m.Budget <= 0 {
			return apperr.Validation("milestone %q needs a positive budget", m.Name)
		}
		sum += m.Budget
	}
	if math.Abs(sum-in.Budget) > budgetEpsilon {
		return apperr.Validation("milestone budgets sum to %.2f but the contract budget is %.2f", sum, in.Budget)
	}
	return nil
}

// Get loads a contract for a party, auto-linking an email invitation on
// first authenticated view.
func (s *Service) Get(ctx context.Context, user *store.User, id string) (*store.Contract, error) {
	return s.access(ctx, user, id)
}

// ListForUser returns every contract the user created or contributes to,
// including unbound invitations addressed to their email.
func (s *Service) ListForUser(ctx context.Context, user *store.User) ([]*store.Contract, error) {
	return s.contracts.ListForUser(ctx, user.ID, strings.ToLower(user.Email))
}

// Update mutates contract metadata. Creator only; locked once the
// contract is completed or archived.
func (s *Service) Update(ctx context.Context, user *store.User, id string, in UpdateInput) (*store.Contract, error) {
	c, err := s.access(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if c.CreatorID != user.ID {
		return nil, apperr.Forbidden("only the contract creator can update it")
	}
	if c.Status == store.ContractCompleted || c.Status == store.ContractArchived {
		return nil, apperr.Forbidden("contract is %s and can no longer be updated", c.Status)
	}

	if in.Status != nil {
		if store.ContractStatus(*in.Status) != store.ContractPending {
			return nil, apperr.Validation("status can only be set to pending here; use the status endpoint for other transitions")
		}
		return s.Transition(ctx, user, id, store.ContractPending)
	}

	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, apperr.Validation("contract name cannot be empty")
		}
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.Category != nil {
		c.Category = *in.Category
	}
	if in.ContributorEmail != nil {
		if c.Status != store.ContractDraft {
			return nil, apperr.Forbidden("the contributor can only change while the contract is a draft")
		}
		c.ContributorEmail = strings.ToLower(strings.TrimSpace(*in.ContributorEmail))
		c.ContributorID = ""
	}
	c.UpdatedAt = s.now().UTC()

	if err := s.contracts.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a contract. Creator only, drafts only.
func (s *Service) Delete(ctx context.Context, user *store.User, id string) error {
	c, err := s.access(ctx, user, id)
	if err != nil {
		return err
	}
	if c.CreatorID != user.ID {
		return apperr.Forbidden("only the contract creator can delete it")
	}
	if c.Status != store.ContractDraft {
		return apperr.Forbidden("only draft contracts can be deleted")
	}
	return s.contracts.Delete(ctx, id)
}

// Transition moves the contract along the status graph, enforcing both
// the edge and the acting party.
func (s *Service) Transition(ctx context.Context, user *store.User, id string, to store.ContractStatus) (*store.Contract, error) {
	c, err := s.access(ctx, user, id)
	if err != nil {
		return nil, err
	}
	from := c.Status

	if err := authorizeTransition(c, user, from, to); err != nil {
		return nil, err
	}

	updated, err := s.contracts.TransitionStatus(ctx, id, []store.ContractStatus{from}, to)
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.Conflict("contract status changed concurrently, reload and retry")
	}
	if err != nil {
		return nil, err
	}

	s.announceTransition(ctx, user, updated, to)
	return updated, nil
}

// authorizeTransition validates one edge of the contract graph.
func authorizeTransition(c *store.Contract, user *store.User, from, to store.ContractStatus) error {
	invalid := apperr.InvalidTransition("contract", string(from), string(to))

	switch to {
	case store.ContractPending: // send
		if from != store.ContractDraft {
			return invalid
		}
		if c.CreatorID != user.ID {
			return apperr.Forbidden("only the creator can send a contract")
		}
	case store.ContractActive: // accept
		if from != store.ContractPending {
			return invalid
		}
		if c.ContributorID == "" || c.ContributorID != user.ID {
			return apperr.Forbidden("only the invited contributor can accept")
		}
	case store.ContractRejected: // decline or withdraw
		if from != store.ContractPending {
			return invalid
		}
		if user.ID != c.CreatorID && user.ID != c.ContributorID {
			return apperr.Forbidden("only a contract party can reject it")
		}
	case store.ContractArchived:
		if from != store.ContractPending {
			return invalid
		}
		if c.CreatorID != user.ID {
			return apperr.Forbidden("only the creator can archive a contract")
		}
	case store.ContractDisputed:
		if from != store.ContractActive {
			return invalid
		}
		if user.ID != c.CreatorID && user.ID != c.ContributorID {
			return apperr.Forbidden("only a contract party can open a dispute")
		}
	default:
		// completed is system-driven via AutoComplete; draft is never a
		// target.
		return invalid
	}
	return nil
}

// send publishes a draft to the contributor: status flip, notification if
// they are registered, invitation email otherwise.
func (s *Service) send(ctx context.Context, creator *store.User, c *store.Contract) (*store.Contract, error) {
	updated, err := s.contracts.TransitionStatus(ctx, c.ID, []store.ContractStatus{store.ContractDraft}, store.ContractPending)
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.Conflict("contract status changed concurrently, reload and retry")
	}
	if err != nil {
		return nil, err
	}
	s.announceTransition(ctx, creator, updated, store.ContractPending)
	return updated, nil
}

// announceTransition emits the notifications a status change produces.
// Best effort: a failed emit never fails the transition.
func (s *Service) announceTransition(ctx context.Context, actor *store.User, c *store.Contract, to store.ContractStatus) {
	switch to {
	case store.ContractPending:
		if c.ContributorID != "" {
			s.notify(ctx, c.ContributorID, store.NotifContractInvitation,
				"New contract invitation",
				fmt.Sprintf("%s invited you to the contract %q", actor.Name, c.Name),
				c, actor.ID)
		} else {
			s.inviteByEmail(ctx, actor, c)
		}
	case store.ContractActive:
		s.notify(ctx, c.CreatorID, store.NotifContractAccepted,
			"Contract accepted",
			fmt.Sprintf("%s accepted the contract %q", actor.Name, c.Name),
			c, actor.ID)
	case store.ContractRejected:
		recipient := c.CreatorID
		if actor.ID == c.CreatorID && c.ContributorID != "" {
			recipient = c.ContributorID
		}
		s.notify(ctx, recipient, store.NotifContractRejected,
			"Contract rejected",
			fmt.Sprintf("The contract %q was rejected", c.Name),
			c, actor.ID)
	case store.ContractDisputed:
		other := c.ContributorID
		if actor.ID == c.ContributorID {
			other = c.CreatorID
		}
		if other != "" {
			s.notify(ctx, other, store.NotifContractDisputed,
				"Contract disputed",
				fmt.Sprintf("A dispute was opened on the contract %q", c.Name),
				c, actor.ID)
		}
	}
}

func (s *Service) inviteByEmail(ctx context.Context, creator *store.User, c *store.Contract) {
	if s.mail == nil || c.ContributorEmail == "" {
		return
	}
	err := s.mail.Send(ctx, mailer.Email{
		To:      c.ContributorEmail,
		Subject: fmt.Sprintf("%s invited you to a contract on TalentLane", creator.Name),
		HTML: fmt.Sprintf("<p>%s invited you to the contract <b>%s</b>. Sign up with this email address to view and accept it.</p>",
			creator.Name, c.Name),
		Text: fmt.Sprintf("%s invited you to the contract %q. Sign up with this email address to view and accept it.",
			creator.Name, c.Name),
	})
	if err != nil {
		s.logger.Warn("invitation email failed", "contract_id", c.ID, "error", err)
	}
}

// UpdateMilestone applies one milestone action. The underlying write is a
// compare-and-set on the milestone's prior status, so concurrent actors
// cannot double-apply an action.
func (s *Service) UpdateMilestone(ctx context.Context, user *store.User, contractID string, index int, action MilestoneAction) (*store.Contract, error) {
	c, err := s.access(ctx, user, contractID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(c.Milestones) {
		return nil, apperr.NotFound("contract has no milestone %d", index)
	}
	if c.Status != store.ContractActive {
		return nil, apperr.Precondition("milestones can only change on an active contract")
	}

	switch action.Action {
	case "start":
		return s.startMilestone(ctx, user, c, index)
	case "submit":
		return s.submitMilestone(ctx, user, c, index, action.Note)
	case "approve":
		return s.approveMilestone(ctx, user, c, index, action.PaymentMethodID)
	case "reject":
		return s.rejectMilestone(ctx, user, c, index, action.Feedback)
	default:
		return nil, apperr.Validation("unknown milestone action %q", action.Action)
	}
}

func (s *Service) startMilestone(ctx context.Context, user *store.User, c *store.Contract, index int) (*store.Contract, error) {
	if user.ID != c.ContributorID {
		return nil, apperr.Forbidden("only the contributor can start a milestone")
	}

	status := store.MilestoneInProgress
	updated, err := s.contracts.UpdateMilestone(ctx, c.ID, index,
		store.MilestonePrecondition{Status: []store.MilestoneStatus{store.MilestonePending, store.MilestoneRejected}},
		store.MilestoneUpdate{Status: &status},
		&store.ActivityEntry{
			Action:    "started",
			Actor:     store.ActorContributor,
			Message:   "Work started",
			Timestamp: s.now().UTC(),
		})
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.InvalidTransition("milestone", string(c.Milestones[index].Status), "in-progress")
	}
	return updated, err
}

func (s *Service) submitMilestone(ctx context.Context, user *store.User, c *store.Contract, index int, note string) (*store.Contract, error) {
	if user.ID != c.ContributorID {
		return nil, apperr.Forbidden("only the contributor can submit a milestone")
	}

	prior := c.Milestones[index].Status
	switch prior {
	case store.MilestonePending, store.MilestoneInProgress, store.MilestoneRejected:
	default:
		return nil, apperr.InvalidTransition("milestone", string(prior), "submitted")
	}

	message := "Milestone submitted for review"
	if prior == store.MilestoneRejected {
		message = "Milestone resubmitted after revision"
	}

	status := store.MilestoneSubmitted
	now := s.now().UTC()
	updated, err := s.contracts.UpdateMilestone(ctx, c.ID, index,
		store.MilestonePrecondition{Status: []store.MilestoneStatus{prior}},
		store.MilestoneUpdate{Status: &status, SubmittedAt: &now, SubmissionNote: &note},
		&store.ActivityEntry{
			Action:    "submitted",
			Actor:     store.ActorContributor,
			Message:   message,
			Timestamp: now,
		})
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.Conflict("milestone changed concurrently, reload and retry")
	}
	if err != nil {
		return nil, err
	}

	s.notify(ctx, c.CreatorID, store.NotifMilestoneSubmitted,
		"Milestone submitted",
		fmt.Sprintf("%q was submitted on the contract %q", c.Milestones[index].Name, c.Name),
		c, user.ID)
	return updated, nil
}

func (s *Service) approveMilestone(ctx context.Context, user *store.User, c *store.Contract, index int, methodID string) (*store.Contract, error) {
	if user.ID != c.CreatorID {
		return nil, apperr.Forbidden("only the creator can approve a milestone")
	}

	status := store.MilestoneApproved
	now := s.now().UTC()
	updated, err := s.contracts.UpdateMilestone(ctx, c.ID, index,
		store.MilestonePrecondition{Status: []store.MilestoneStatus{store.MilestoneSubmitted}},
		store.MilestoneUpdate{Status: &status, ApprovedAt: &now},
		&store.ActivityEntry{
			Action:    "approved",
			Actor:     store.ActorCreator,
			Message:   "Submission approved",
			Timestamp: now,
		})
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.InvalidTransition("milestone", string(c.Milestones[index].Status), "approved")
	}
	if err != nil {
		return nil, err
	}

	if updated.ContributorID != "" {
		s.notify(ctx, updated.ContributorID, store.NotifMilestoneApproved,
			"Milestone approved",
			fmt.Sprintf("%q was approved on the contract %q", updated.Milestones[index].Name, updated.Name),
			updated, user.ID)
	}

	// Approval triggers payment for fixed contracts. A gateway failure is
	// recorded on the milestone; the approval stands either way.
	if s.charger != nil && updated.Type == store.ContractFixed {
		charged, err := s.charger.ChargeMilestone(ctx, updated, index, methodID)
		if err != nil {
			s.logger.Warn("milestone charge failed",
				"contract_id", updated.ID, "milestone", index, "error", err)
			if reloaded, lerr := s.contracts.ByID(ctx, updated.ID); lerr == nil {
				return reloaded, nil
			}
			return updated, nil
		}
		return charged, nil
	}
	return updated, nil
}

func (s *Service) rejectMilestone(ctx context.Context, user *store.User, c *store.Contract, index int, feedback string) (*store.Contract, error) {
	if user.ID != c.CreatorID {
		return nil, apperr.Forbidden("only the creator can reject a milestone")
	}
	if strings.TrimSpace(feedback) == "" {
		return nil, apperr.Validation("rejection requires feedback for the contributor")
	}

	status := store.MilestoneRejected
	now := s.now().UTC()
	updated, err := s.contracts.UpdateMilestone(ctx, c.ID, index,
		store.MilestonePrecondition{Status: []store.MilestoneStatus{store.MilestoneSubmitted}},
		store.MilestoneUpdate{Status: &status, RejectionFeedback: &feedback, IncRevisionCount: true},
		&store.ActivityEntry{
			Action:    "rejected",
			Actor:     store.ActorCreator,
			Message:   feedback,
			Timestamp: now,
		})
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperr.InvalidTransition("milestone", string(c.Milestones[index].Status), "rejected")
	}
	if err != nil {
		return nil, err
	}

	if updated.ContributorID != "" {
		s.notify(ctx, updated.ContributorID, store.NotifMilestoneRejected,
			"Milestone needs revision",
			fmt.Sprintf("%q was sent back on the contract %q: %s", updated.Milestones[index].Name, updated.Name, feedback),
			updated, user.ID)
	}
	return updated, nil
}

// AutoComplete finishes a contract once every milestone is paid. Invoked
// by the payment reconciler after each paid transition; calling it on a
// contract with unpaid milestones is a no-op.
func (s *Service) AutoComplete(ctx context.Context, contractID string) (*store.Contract, error) {
	c, err := s.contracts.ByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != store.ContractActive || len(c.Milestones) == 0 {
		return c, nil
	}
	for _, m := range c.Milestones {
		if m.Status != store.MilestonePaid {
			return c, nil
		}
	}

	updated, err := s.contracts.TransitionStatus(ctx, contractID, []store.ContractStatus{store.ContractActive}, store.ContractCompleted)
	if errors.Is(err, store.ErrNoMatch) {
		// A concurrent reconciler already completed it.
		return s.contracts.ByID(ctx, contractID)
	}
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("All milestones on %q are paid; the contract is complete", updated.Name)
	s.notify(ctx, updated.CreatorID, store.NotifContractCompleted, "Contract completed", body, updated, "")
	if updated.ContributorID != "" {
		s.notify(ctx, updated.ContributorID, store.NotifContractCompleted, "Contract completed", body, updated, "")
	}
	return updated, nil
}

// access loads the contract, auto-links an email invitation, and checks
// the caller is a party.
func (s *Service) access(ctx context.Context, user *store.User, id string) (*store.Contract, error) {
	c, err := s.contracts.ByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("contract %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	// One-time email→user link on first authenticated contact. The write
	// is guarded by contributor-is-unset, so a concurrent link wins once.
	if c.ContributorID == "" && c.ContributorEmail != "" &&
		strings.EqualFold(c.ContributorEmail, user.Email) {
		err := s.contracts.BindContributor(ctx, c.ID, user.ID)
		switch {
		case err == nil:
			c.ContributorID = user.ID
		case errors.Is(err, store.ErrNoMatch):
			if c, err = s.contracts.ByID(ctx, id); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	if user.Role == store.RoleAdmin || user.ID == c.CreatorID || user.ID == c.ContributorID ||
		strings.EqualFold(c.ContributorEmail, user.Email) {
		return c, nil
	}
	return nil, apperr.Forbidden("you are not a party to this contract")
}

func (s *Service) notify(ctx context.Context, recipientID string, typ store.NotificationType, title, body string, c *store.Contract, actorID string) {
	err := s.notifier.Emit(ctx, &store.Notification{
		RecipientID: recipientID,
		Type:        typ,
		Title:       title,
		Body:        body,
		ContractID:  c.ID,
		ActorID:     actorID,
	})
	if err != nil {
		s.logger.Warn("notification emit failed",
			"type", typ, "recipient_id", recipientID, "error", err)
	}
}

func currencyOrDefault(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "usd"
	}
	return c
}

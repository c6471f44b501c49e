package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: not found")

// ErrNoMatch is returned when a conditional update's precondition failed:
// the document exists but its current state did not match the guard.
var ErrNoMatch = errors.New("store: precondition not matched")

// ErrDuplicate is returned when an insert collides with a uniqueness rule,
// e.g. a second open withdrawal for the same user.
var ErrDuplicate = errors.New("store: duplicate")

// Users is the user aggregate repository. Balance and earnings mutations are
// single-document atomic operations; callers never read-modify-write money.
type Users interface {
	Create(ctx context.Context, u *User) error
	ByID(ctx context.Context, id string) (*User, error)
	ByExternalID(ctx context.Context, externalID string) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetStripeCustomerID(ctx context.Context, id, customerID string) error
	SetBankInfo(ctx context.Context, id string, info *BankInfo) error
	Deactivate(ctx context.Context, id string) error

	// CreditEarnings atomically increments balance and total_earnings.
	CreditEarnings(ctx context.Context, id string, amount float64) error
	// DebitBalance decrements balance guarded by balance >= amount.
	// Returns ErrNoMatch when the guard fails.
	DebitBalance(ctx context.Context, id string, amount float64) error
	// RefundBalance atomically re-credits a previously debited amount.
	RefundBalance(ctx context.Context, id string, amount float64) error
}

// MilestonePrecondition guards a milestone transition at the document level.
type MilestonePrecondition struct {
	// Status, when non-empty, requires the milestone's current status to be
	// one of these values.
	Status []MilestoneStatus
	// PaymentStatusNot, when set, requires the milestone's payment_status to
	// differ from this value (webhook idempotency guard).
	PaymentStatusNot PaymentStatus
}

// MilestoneUpdate describes the fields a transition sets. Nil pointers are
// left untouched; Inc fields become $inc operations.
type MilestoneUpdate struct {
	Status             *MilestoneStatus
	SubmissionNote     *string
	SubmittedAt        *time.Time
	ApprovedAt         *time.Time
	PaidAt             *time.Time
	PaymentIntentID    *string
	PaymentStatus      *PaymentStatus
	PaymentError       *string
	PaymentFailedAt    *time.Time
	PayoutAmount       *float64
	RejectionFeedback  *string
	IncRevisionCount   bool
	IncPaymentAttempts bool
}

// Contracts is the contract aggregate repository.
type Contracts interface {
	Create(ctx context.Context, c *Contract) error
	ByID(ctx context.Context, id string) (*Contract, error)
	ByPaymentIntent(ctx context.Context, intentID string) (*Contract, error)
	ListForUser(ctx context.Context, userID, email string) ([]*Contract, error)
	Update(ctx context.Context, c *Contract) error
	Delete(ctx context.Context, id string) error

	// TransitionStatus compare-and-sets the contract status. Returns the
	// updated contract, or ErrNoMatch if the current status was not in from.
	TransitionStatus(ctx context.Context, id string, from []ContractStatus, to ContractStatus) (*Contract, error)

	// BindContributor performs the one-time email→user link, guarded by
	// contributor being unset. ErrNoMatch means it was already bound.
	BindContributor(ctx context.Context, id, userID string) error

	// UpdateMilestone atomically applies upd to milestone index under pre,
	// appending entry to its activity log. Returns the updated contract or
	// ErrNoMatch when the precondition failed.
	UpdateMilestone(ctx context.Context, id string, index int, pre MilestonePrecondition, upd MilestoneUpdate, entry *ActivityEntry) (*Contract, error)
}

// Notifications is the per-recipient notification log.
type Notifications interface {
	Insert(ctx context.Context, n *Notification) error
	List(ctx context.Context, recipientID string, page, limit int, unreadOnly bool) ([]*Notification, int64, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	// MarkRead returns false when the notification was already read (no-op).
	MarkRead(ctx context.Context, id, recipientID string) (bool, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, id, recipientID string) error
}

// Withdrawals is the withdrawal lifecycle repository.
type Withdrawals interface {
	// Create inserts a withdrawal. At most one pending-or-processing
	// withdrawal may exist per user; a second returns ErrDuplicate.
	Create(ctx context.Context, w *Withdrawal) error
	ByID(ctx context.Context, id string) (*Withdrawal, error)
	ListByUser(ctx context.Context, userID string) ([]*Withdrawal, error)
	// HasOpen reports whether the user has a pending or processing withdrawal.
	HasOpen(ctx context.Context, userID string) (bool, error)
	// TransitionStatus compare-and-sets status and stamps processing fields.
	TransitionStatus(ctx context.Context, id string, from []WithdrawalStatus, to WithdrawalStatus, adminNote, processorRef string) (*Withdrawal, error)
}

// LeaderboardFilter narrows a leaderboard listing.
type LeaderboardFilter struct {
	Country  string
	Level    string
	Language string
	Limit    int
}

// Leaderboard stores opt-in evaluation projections.
type Leaderboard interface {
	Upsert(ctx context.Context, e *LeaderboardEntry) error
	Has(ctx context.Context, username string) (bool, error)
	List(ctx context.Context, f LeaderboardFilter) ([]*LeaderboardEntry, int64, error)
}

// Assessments stores employer assessment templates.
type Assessments interface {
	Create(ctx context.Context, a *Assessment) error
	ByID(ctx context.Context, id string) (*Assessment, error)
	ListByEmployer(ctx context.Context, employerID string) ([]*Assessment, error)
	Deactivate(ctx context.Context, id, employerID string) error
}

// Invitations stores assessment invitations.
type Invitations interface {
	Create(ctx context.Context, inv *AssessmentInvitation) error
	ByID(ctx context.Context, id string) (*AssessmentInvitation, error)
	ByToken(ctx context.Context, token string) (*AssessmentInvitation, error)
	ListByEmployer(ctx context.Context, employerID string) ([]*AssessmentInvitation, error)
	TransitionStatus(ctx context.Context, id string, from []InvitationStatus, to InvitationStatus) error
}

// SessionUpdate describes the fields one assessment turn sets.
type SessionUpdate struct {
	CurrentQuestionIndex *int
	TimeSpentSeconds     *int
	Status               *SessionStatus
	CompletedAt          *time.Time
	Score                *float64
	Breakdown            map[string]float64
	Summary              *string
	Strengths            []string
	Weaknesses           []string
	PushQuestionScore    *float64
}

// Sessions stores assessment sessions; messages are append-only.
type Sessions interface {
	Create(ctx context.Context, s *AssessmentSession) error
	ByID(ctx context.Context, id string) (*AssessmentSession, error)
	// HasInProgress reports whether an in-progress session exists for the invitation.
	HasInProgress(ctx context.Context, invitationID string) (bool, error)
	// AppendTurn atomically appends messages and applies upd, guarded by the
	// session still being in_progress (unless upd itself sets a terminal
	// status from in_progress). Returns the updated session.
	AppendTurn(ctx context.Context, id string, messages []SessionMessage, upd SessionUpdate) (*AssessmentSession, error)
}

// Store bundles every repository behind one constructor.
type Store struct {
	Users         Users
	Contracts     Contracts
	Notifications Notifications
	Withdrawals   Withdrawals
	Leaderboard   Leaderboard
	Assessments   Assessments
	Invitations   Invitations
	Sessions      Sessions
}

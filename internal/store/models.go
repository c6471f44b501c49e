// Package store defines the persisted domain entities and the repository
// contracts the services depend on. Concrete backings live in mongo.go
// (production) and the memstore subpackage (tests, eval-only mode); both
// honor the same single-document atomicity rules.
package store

import "time"

// ============================================================================
// USERS
// ============================================================================

type Role string

const (
	RoleFreelancer Role = "freelancer"
	RoleEmployer   Role = "employer"
	RoleAdmin      Role = "admin"
)

// BankInfo is the payout destination snapshot attached to withdrawals.
type BankInfo struct {
	AccountHolder string `bson:"account_holder" json:"account_holder"`
	BankName      string `bson:"bank_name" json:"bank_name"`
	AccountNumber string `bson:"account_number" json:"account_number"`
	RoutingNumber string `bson:"routing_number" json:"routing_number,omitempty"`
	Country       string `bson:"country" json:"country"`
	Currency      string `bson:"currency" json:"currency"`
}

// User is an aggregate root; balance and total_earnings only move through
// the atomic Credit/Debit/Refund operations below.
type User struct {
	ID                   string    `bson:"_id" json:"id"`
	ExternalID           string    `bson:"external_id" json:"external_id"`
	Email                string    `bson:"email" json:"email"`
	Name                 string    `bson:"name" json:"name"`
	Country              string    `bson:"country,omitempty" json:"country,omitempty"`
	Role                 Role      `bson:"role" json:"role"`
	Verified             bool      `bson:"verified" json:"verified"`
	GitHubUsername       string    `bson:"github_username,omitempty" json:"github_username,omitempty"`
	Profession           string    `bson:"profession,omitempty" json:"profession,omitempty"`
	Skills               []string  `bson:"skills,omitempty" json:"skills,omitempty"`
	CompanyName          string    `bson:"company_name,omitempty" json:"company_name,omitempty"`
	SavedGitHubUsernames []string  `bson:"saved_github_usernames,omitempty" json:"saved_github_usernames,omitempty"`
	StripeCustomerID     string    `bson:"stripe_customer_id,omitempty" json:"-"`
	Balance              float64   `bson:"balance" json:"balance"`
	TotalEarnings        float64   `bson:"total_earnings" json:"total_earnings"`
	BankInfo             *BankInfo `bson:"bank_info,omitempty" json:"bank_info,omitempty"`
	Active               bool      `bson:"active" json:"active"`
	CreatedAt            time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

// ============================================================================
// CONTRACTS & MILESTONES
// ============================================================================

type ContractStatus string

const (
	ContractDraft     ContractStatus = "draft"
	ContractPending   ContractStatus = "pending"
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractRejected  ContractStatus = "rejected"
	ContractDisputed  ContractStatus = "disputed"
	ContractArchived  ContractStatus = "archived"
)

type ContractType string

const (
	ContractFixed  ContractType = "fixed"
	ContractHourly ContractType = "hourly"
)

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in-progress"
	MilestoneSubmitted  MilestoneStatus = "submitted"
	MilestoneApproved   MilestoneStatus = "approved"
	MilestonePaid       MilestoneStatus = "paid"
	MilestoneRejected   MilestoneStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentNone       PaymentStatus = "none"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
)

// ActivityActor identifies who took a milestone action.
type ActivityActor string

const (
	ActorCreator     ActivityActor = "creator"
	ActorContributor ActivityActor = "contributor"
	ActorSystem      ActivityActor = "system"
)

// ActivityEntry is one append-only milestone activity-log record.
type ActivityEntry struct {
	Action    string        `bson:"action" json:"action"`
	Actor     ActivityActor `bson:"actor" json:"actor"`
	Message   string        `bson:"message,omitempty" json:"message,omitempty"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
}

// Milestone is embedded in its Contract and addressed by order index.
type Milestone struct {
	Name             string          `bson:"name" json:"name"`
	Budget           float64         `bson:"budget" json:"budget"`
	DueDate          *time.Time      `bson:"due_date,omitempty" json:"due_date,omitempty"`
	Status           MilestoneStatus `bson:"status" json:"status"`
	SubmissionNote   string          `bson:"submission_note,omitempty" json:"submission_note,omitempty"`
	SubmittedAt      *time.Time      `bson:"submitted_at,omitempty" json:"submitted_at,omitempty"`
	ApprovedAt       *time.Time      `bson:"approved_at,omitempty" json:"approved_at,omitempty"`
	PaidAt           *time.Time      `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	PaymentIntentID  string          `bson:"payment_intent_id,omitempty" json:"payment_intent_id,omitempty"`
	PaymentStatus    PaymentStatus   `bson:"payment_status" json:"payment_status"`
	PaymentError     string          `bson:"payment_error,omitempty" json:"payment_error,omitempty"`
	PaymentFailedAt  *time.Time      `bson:"payment_failed_at,omitempty" json:"payment_failed_at,omitempty"`
	PaymentAttempts  int             `bson:"payment_attempts" json:"payment_attempts"`
	PayoutAmount     float64         `bson:"payout_amount,omitempty" json:"payout_amount,omitempty"`
	RevisionCount    int             `bson:"revision_count" json:"revision_count"`
	RejectionFeedback string         `bson:"rejection_feedback,omitempty" json:"rejection_feedback,omitempty"`
	ActivityLog      []ActivityEntry `bson:"activity_log,omitempty" json:"activity_log,omitempty"`
}

// Contract is an aggregate root owning its milestones.
type Contract struct {
	ID                 string         `bson:"_id" json:"id"`
	CreatorID          string         `bson:"creator_id" json:"creator_id"`
	ContributorID      string         `bson:"contributor_id,omitempty" json:"contributor_id,omitempty"`
	ContributorEmail   string         `bson:"contributor_email,omitempty" json:"contributor_email,omitempty"`
	Name               string         `bson:"name" json:"name"`
	Description        string         `bson:"description,omitempty" json:"description,omitempty"`
	Category           string         `bson:"category,omitempty" json:"category,omitempty"`
	Type               ContractType   `bson:"type" json:"type"`
	Budget             float64        `bson:"budget,omitempty" json:"budget,omitempty"`
	HourlyRate         float64        `bson:"hourly_rate,omitempty" json:"hourly_rate,omitempty"`
	HoursPerWeek       int            `bson:"hours_per_week,omitempty" json:"hours_per_week,omitempty"`
	Currency           string         `bson:"currency" json:"currency"`
	PlatformFeePercent float64        `bson:"platform_fee_percent" json:"platform_fee_percent"`
	SplitMilestones    bool           `bson:"split_milestones" json:"split_milestones"`
	Status             ContractStatus `bson:"status" json:"status"`
	Milestones         []Milestone    `bson:"milestones,omitempty" json:"milestones,omitempty"`
	CreatedAt          time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `bson:"updated_at" json:"updated_at"`
}

// ============================================================================
// NOTIFICATIONS
// ============================================================================

type NotificationType string

const (
	NotifContractInvitation    NotificationType = "contract_invitation"
	NotifContractAccepted      NotificationType = "contract_accepted"
	NotifContractRejected      NotificationType = "contract_rejected"
	NotifContractCompleted     NotificationType = "contract_completed"
	NotifContractDisputed      NotificationType = "contract_disputed"
	NotifMilestoneSubmitted    NotificationType = "milestone_submitted"
	NotifMilestoneApproved     NotificationType = "milestone_approved"
	NotifMilestoneRejected     NotificationType = "milestone_rejected"
	NotifMilestonePaid         NotificationType = "milestone_paid"
	NotifPaymentReceipt        NotificationType = "payment_receipt"
	NotifPaymentFailed         NotificationType = "payment_failed"
	NotifPaymentDelayed        NotificationType = "payment_delayed"
	NotifWithdrawalRequested   NotificationType = "withdrawal_requested"
	NotifWithdrawalProcessing  NotificationType = "withdrawal_processing"
	NotifWithdrawalCompleted   NotificationType = "withdrawal_completed"
	NotifWithdrawalRejected    NotificationType = "withdrawal_rejected"
	NotifAssessmentInvitation  NotificationType = "assessment_invitation"
	NotifAssessmentStarted     NotificationType = "assessment_started"
	NotifAssessmentCompleted   NotificationType = "assessment_completed"
	NotifAssessmentDeclined    NotificationType = "assessment_declined"
	NotifSystem                NotificationType = "system"
)

// Notification is one entry in the per-recipient notification log.
// A TTL index expires entries 90 days after creation.
type Notification struct {
	ID           string                 `bson:"_id" json:"id"`
	RecipientID  string                 `bson:"recipient_id" json:"recipient_id"`
	Type         NotificationType       `bson:"type" json:"type"`
	Title        string                 `bson:"title" json:"title"`
	Body         string                 `bson:"body" json:"body"`
	ContractID   string                 `bson:"contract_id,omitempty" json:"contract_id,omitempty"`
	AssessmentID string                 `bson:"assessment_id,omitempty" json:"assessment_id,omitempty"`
	ActorID      string                 `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	Metadata     map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Read         bool                   `bson:"read" json:"read"`
	ReadAt       *time.Time             `bson:"read_at,omitempty" json:"read_at,omitempty"`
	CreatedAt    time.Time              `bson:"created_at" json:"created_at"`
}

// ============================================================================
// WITHDRAWALS
// ============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// Withdrawal records a payout intent fulfilled out-of-band by an operator.
type Withdrawal struct {
	ID           string           `bson:"_id" json:"id"`
	UserID       string           `bson:"user_id" json:"user_id"`
	Amount       float64          `bson:"amount" json:"amount"`
	Currency     string           `bson:"currency" json:"currency"`
	Status       WithdrawalStatus `bson:"status" json:"status"`
	BankInfo     BankInfo         `bson:"bank_info" json:"bank_info"`
	AdminNote    string           `bson:"admin_note,omitempty" json:"admin_note,omitempty"`
	ProcessorRef string           `bson:"processor_ref,omitempty" json:"processor_ref,omitempty"`
	ProcessedAt  *time.Time       `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	CreatedAt    time.Time        `bson:"created_at" json:"created_at"`
}

// ============================================================================
// LEADERBOARD
// ============================================================================

// LeaderboardEntry is the opt-in projection of an evaluation result,
// keyed by lowercased code-host username and upserted on each submission.
type LeaderboardEntry struct {
	Username         string    `bson:"_id" json:"username"`
	Name             string    `bson:"name,omitempty" json:"name,omitempty"`
	AvatarURL        string    `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Country          string    `bson:"country,omitempty" json:"country,omitempty"`
	Level            string    `bson:"level" json:"level"`
	OverallScore     float64   `bson:"overall_score" json:"overall_score"`
	JobReadiness     float64   `bson:"job_readiness_score" json:"job_readiness_score"`
	TechDepth        float64   `bson:"tech_depth_score" json:"tech_depth_score"`
	PrimaryLanguages []string  `bson:"primary_languages,omitempty" json:"primary_languages,omitempty"`
	ConsentedAt      time.Time `bson:"consented_at" json:"consented_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

// ============================================================================
// ASSESSMENTS
// ============================================================================

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Assessment is an employer-owned interview template.
type Assessment struct {
	ID               string     `bson:"_id" json:"id"`
	EmployerID       string     `bson:"employer_id" json:"employer_id"`
	Title            string     `bson:"title" json:"title"`
	Profession       string     `bson:"profession" json:"profession"`
	Role             string     `bson:"role" json:"role"`
	Skills           []string   `bson:"skills,omitempty" json:"skills,omitempty"`
	Difficulty       Difficulty `bson:"difficulty" json:"difficulty"`
	QuestionCount    int        `bson:"question_count" json:"question_count"`
	TimeLimitMinutes int        `bson:"time_limit_minutes" json:"time_limit_minutes"`
	IsActive         bool       `bson:"is_active" json:"is_active"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
}

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationCompleted InvitationStatus = "completed"
	InvitationExpired   InvitationStatus = "expired"
	InvitationDeclined  InvitationStatus = "declined"
)

// AssessmentInvitation binds one assessment to one recipient via a
// high-entropy token usable from a public link.
type AssessmentInvitation struct {
	ID              string           `bson:"_id" json:"id"`
	AssessmentID    string           `bson:"assessment_id" json:"assessment_id"`
	EmployerID      string           `bson:"employer_id" json:"employer_id"`
	FreelancerID    string           `bson:"freelancer_id,omitempty" json:"freelancer_id,omitempty"`
	FreelancerEmail string           `bson:"freelancer_email,omitempty" json:"freelancer_email,omitempty"`
	Token           string           `bson:"token" json:"token"`
	Status          InvitationStatus `bson:"status" json:"status"`
	ExpiresAt       time.Time        `bson:"expires_at" json:"expires_at"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
}

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionTimedOut   SessionStatus = "timed_out"
	SessionAbandoned  SessionStatus = "abandoned"
)

// SessionMessage is one turn in the evaluator conversation.
// Role is "ai" or "user" on the wire.
type SessionMessage struct {
	Role          string    `bson:"role" json:"role"`
	Content       string    `bson:"content" json:"content"`
	QuestionIndex int       `bson:"question_index,omitempty" json:"question_index,omitempty"`
	Timestamp     time.Time `bson:"timestamp" json:"timestamp"`
}

// AssessmentSession is an aggregate root owning its message log.
// Terminal statuses are immutable; messages are append-only.
type AssessmentSession struct {
	ID                   string             `bson:"_id" json:"id"`
	InvitationID         string             `bson:"invitation_id" json:"invitation_id"`
	AssessmentID         string             `bson:"assessment_id" json:"assessment_id"`
	FreelancerID         string             `bson:"freelancer_id" json:"freelancer_id"`
	Messages             []SessionMessage   `bson:"messages,omitempty" json:"messages,omitempty"`
	CurrentQuestionIndex int                `bson:"current_question_index" json:"current_question_index"`
	TotalQuestions       int                `bson:"total_questions" json:"total_questions"`
	Status               SessionStatus      `bson:"status" json:"status"`
	StartedAt            time.Time          `bson:"started_at" json:"started_at"`
	CompletedAt          *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	TimeSpentSeconds     int                `bson:"time_spent_seconds" json:"time_spent_seconds"`
	QuestionScores       []float64          `bson:"question_scores,omitempty" json:"question_scores,omitempty"`
	Score                float64            `bson:"score,omitempty" json:"score,omitempty"`
	Breakdown            map[string]float64 `bson:"breakdown,omitempty" json:"breakdown,omitempty"`
	Summary              string             `bson:"summary,omitempty" json:"summary,omitempty"`
	Strengths            []string           `bson:"strengths,omitempty" json:"strengths,omitempty"`
	Weaknesses           []string           `bson:"weaknesses,omitempty" json:"weaknesses,omitempty"`
}

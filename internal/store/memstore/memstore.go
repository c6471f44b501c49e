// Package memstore is an in-memory Store backing with the same
// single-document atomicity guarantees as the Mongo implementation.
// It backs the test suites and the persistence-free eval-only mode.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/talentlane/backend/internal/store"
)

// New returns a Store where every repository shares one lock domain per
// collection, mirroring per-document atomicity closely enough for tests.
func New() *store.Store {
	return &store.Store{
		Users:         &users{byID: map[string]*store.User{}},
		Contracts:     &contracts{byID: map[string]*store.Contract{}},
		Notifications: &notifications{},
		Withdrawals:   &withdrawals{byID: map[string]*store.Withdrawal{}},
		Leaderboard:   &leaderboard{byUsername: map[string]*store.LeaderboardEntry{}},
		Assessments:   &assessments{byID: map[string]*store.Assessment{}},
		Invitations:   &invitations{byID: map[string]*store.AssessmentInvitation{}},
		Sessions:      &sessions{byID: map[string]*store.AssessmentSession{}},
	}
}

// ============================================================================
// USERS
// ============================================================================

type users struct {
	mu   sync.Mutex
	byID map[string]*store.User
}

func (s *users) Create(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	s.byID[u.ID] = &cp
	return nil
}

func (s *users) find(match func(*store.User) bool) (*store.User, error) {
	for _, u := range s.byID {
		if u.Active && match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *users) ByID(_ context.Context, id string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(u *store.User) bool { return u.ID == id })
}

// ByExternalID resolves login identities without the active filter; the
// authenticator needs to see deactivated accounts to reject them as
// forbidden rather than unknown.
func (s *users) ByExternalID(_ context.Context, externalID string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *users) ByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(u *store.User) bool { return u.Email == email })
}

func (s *users) Update(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Name = u.Name
	cur.Email = u.Email
	cur.Country = u.Country
	cur.Role = u.Role
	cur.Verified = u.Verified
	cur.GitHubUsername = u.GitHubUsername
	cur.Profession = u.Profession
	cur.Skills = append([]string(nil), u.Skills...)
	cur.CompanyName = u.CompanyName
	cur.SavedGitHubUsernames = append([]string(nil), u.SavedGitHubUsernames...)
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *users) SetStripeCustomerID(_ context.Context, id, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.StripeCustomerID = customerID
	return nil
}

func (s *users) SetBankInfo(_ context.Context, id string, info *store.BankInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	cp := *info
	u.BankInfo = &cp
	return nil
}

func (s *users) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Active = false
	return nil
}

func (s *users) CreditEarnings(_ context.Context, id string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Balance += amount
	u.TotalEarnings += amount
	return nil
}

func (s *users) DebitBalance(_ context.Context, id string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return store.ErrNoMatch
	}
	if u.Balance < amount {
		return store.ErrNoMatch
	}
	u.Balance -= amount
	return nil
}

func (s *users) RefundBalance(_ context.Context, id string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Balance += amount
	return nil
}

// ============================================================================
// CONTRACTS
// ============================================================================

type contracts struct {
	mu   sync.Mutex
	byID map[string]*store.Contract
}

func copyContract(c *store.Contract) *store.Contract {
	cp := *c
	cp.Milestones = make([]store.Milestone, len(c.Milestones))
	for i, m := range c.Milestones {
		cp.Milestones[i] = m
		cp.Milestones[i].ActivityLog = append([]store.ActivityEntry(nil), m.ActivityLog...)
	}
	return &cp
}

func (s *contracts) Create(_ context.Context, c *store.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.byID[c.ID] = copyContract(c)
	return nil
}

func (s *contracts) ByID(_ context.Context, id string) (*store.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyContract(c), nil
}

func (s *contracts) ByPaymentIntent(_ context.Context, intentID string) (*store.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		for _, m := range c.Milestones {
			if m.PaymentIntentID == intentID {
				return copyContract(c), nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *contracts) ListForUser(_ context.Context, userID, email string) ([]*store.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Contract
	for _, c := range s.byID {
		if c.CreatorID == userID || c.ContributorID == userID || (email != "" && c.ContributorEmail == email) {
			out = append(out, copyContract(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *contracts) Update(_ context.Context, c *store.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; !ok {
		return store.ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	s.byID[c.ID] = copyContract(c)
	return nil
}

func (s *contracts) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *contracts) TransitionStatus(_ context.Context, id string, from []store.ContractStatus, to store.ContractStatus) (*store.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNoMatch
	}
	if len(from) > 0 && !containsStatus(from, c.Status) {
		return nil, store.ErrNoMatch
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return copyContract(c), nil
}

func containsStatus[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (s *contracts) BindContributor(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || c.ContributorID != "" {
		return store.ErrNoMatch
	}
	c.ContributorID = userID
	return nil
}

func (s *contracts) UpdateMilestone(_ context.Context, id string, index int, pre store.MilestonePrecondition, upd store.MilestoneUpdate, entry *store.ActivityEntry) (*store.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || index < 0 || index >= len(c.Milestones) {
		return nil, store.ErrNoMatch
	}
	m := &c.Milestones[index]
	if len(pre.Status) > 0 && !containsStatus(pre.Status, m.Status) {
		return nil, store.ErrNoMatch
	}
	if pre.PaymentStatusNot != "" && m.PaymentStatus == pre.PaymentStatusNot {
		return nil, store.ErrNoMatch
	}

	if upd.Status != nil {
		m.Status = *upd.Status
	}
	if upd.SubmissionNote != nil {
		m.SubmissionNote = *upd.SubmissionNote
	}
	if upd.SubmittedAt != nil {
		m.SubmittedAt = upd.SubmittedAt
	}
	if upd.ApprovedAt != nil {
		m.ApprovedAt = upd.ApprovedAt
	}
	if upd.PaidAt != nil {
		m.PaidAt = upd.PaidAt
	}
	if upd.PaymentIntentID != nil {
		m.PaymentIntentID = *upd.PaymentIntentID
	}
	if upd.PaymentStatus != nil {
		m.PaymentStatus = *upd.PaymentStatus
	}
	if upd.PaymentError != nil {
		m.PaymentError = *upd.PaymentError
	}
	if upd.PaymentFailedAt != nil {
		m.PaymentFailedAt = upd.PaymentFailedAt
	}
	if upd.PayoutAmount != nil {
		m.PayoutAmount = *upd.PayoutAmount
	}
	if upd.RejectionFeedback != nil {
		m.RejectionFeedback = *upd.RejectionFeedback
	}
	if upd.IncRevisionCount {
		m.RevisionCount++
	}
	if upd.IncPaymentAttempts {
		m.PaymentAttempts++
	}
	if entry != nil {
		m.ActivityLog = append(m.ActivityLog, *entry)
	}
	c.UpdatedAt = time.Now().UTC()
	return copyContract(c), nil
}

// ============================================================================
// NOTIFICATIONS
// ============================================================================

type notifications struct {
	mu   sync.Mutex
	list []*store.Notification
}

func (s *notifications) Insert(_ context.Context, n *store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	s.list = append(s.list, &cp)
	return nil
}

func (s *notifications) List(_ context.Context, recipientID string, page, limit int, unreadOnly bool) ([]*store.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var matched []*store.Notification
	for _, n := range s.list {
		if n.RecipientID == recipientID && (!unreadOnly || !n.Read) {
			matched = append(matched, n)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*store.Notification, 0, end-start)
	for _, n := range matched[start:end] {
		cp := *n
		out = append(out, &cp)
	}
	return out, total, nil
}

func (s *notifications) UnreadCount(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, notif := range s.list {
		if notif.RecipientID == recipientID && !notif.Read {
			n++
		}
	}
	return n, nil
}

func (s *notifications) MarkRead(_ context.Context, id, recipientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.list {
		if n.ID == id && n.RecipientID == recipientID {
			if n.Read {
				return false, nil
			}
			now := time.Now().UTC()
			n.Read = true
			n.ReadAt = &now
			return true, nil
		}
	}
	return false, store.ErrNotFound
}

func (s *notifications) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var modified int64
	for _, n := range s.list {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			n.ReadAt = &now
			modified++
		}
	}
	return modified, nil
}

func (s *notifications) Delete(_ context.Context, id, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.list {
		if n.ID == id && n.RecipientID == recipientID {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// ============================================================================
// WITHDRAWALS
// ============================================================================

type withdrawals struct {
	mu   sync.Mutex
	byID map[string]*store.Withdrawal
}

func (s *withdrawals) Create(_ context.Context, w *store.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Same rule the partial unique index enforces on Mongo.
	for _, existing := range s.byID {
		if existing.UserID == w.UserID &&
			(existing.Status == store.WithdrawalPending || existing.Status == store.WithdrawalProcessing) {
			return store.ErrDuplicate
		}
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	cp := *w
	s.byID[w.ID] = &cp
	return nil
}

func (s *withdrawals) ByID(_ context.Context, id string) (*store.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *withdrawals) ListByUser(_ context.Context, userID string) ([]*store.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Withdrawal
	for _, w := range s.byID {
		if w.UserID == userID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *withdrawals) HasOpen(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.byID {
		if w.UserID == userID && (w.Status == store.WithdrawalPending || w.Status == store.WithdrawalProcessing) {
			return true, nil
		}
	}
	return false, nil
}

func (s *withdrawals) TransitionStatus(_ context.Context, id string, from []store.WithdrawalStatus, to store.WithdrawalStatus, adminNote, processorRef string) (*store.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNoMatch
	}
	if len(from) > 0 && !containsStatus(from, w.Status) {
		return nil, store.ErrNoMatch
	}
	w.Status = to
	if adminNote != "" {
		w.AdminNote = adminNote
	}
	if processorRef != "" {
		w.ProcessorRef = processorRef
	}
	if to == store.WithdrawalCompleted || to == store.WithdrawalRejected {
		now := time.Now().UTC()
		w.ProcessedAt = &now
	}
	cp := *w
	return &cp, nil
}

// ============================================================================
// LEADERBOARD
// ============================================================================

type leaderboard struct {
	mu         sync.Mutex
	byUsername map[string]*store.LeaderboardEntry
}

func (s *leaderboard) Upsert(_ context.Context, e *store.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Username = strings.ToLower(e.Username)
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	s.byUsername[e.Username] = &cp
	return nil
}

func (s *leaderboard) Has(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byUsername[strings.ToLower(username)]
	return ok, nil
}

func (s *leaderboard) List(_ context.Context, f store.LeaderboardFilter) ([]*store.LeaderboardEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.LeaderboardEntry
	for _, e := range s.byUsername {
		if f.Country != "" && e.Country != f.Country {
			continue
		}
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Language != "" && !containsStatus(e.PrimaryLanguages, f.Language) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OverallScore > out[j].OverallScore })

	total := int64(len(out))
	limit := f.Limit
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// ============================================================================
// ASSESSMENTS
// ============================================================================

type assessments struct {
	mu   sync.Mutex
	byID map[string]*store.Assessment
}

func (s *assessments) Create(_ context.Context, a *store.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.IsActive = true
	cp := *a
	s.byID[a.ID] = &cp
	return nil
}

func (s *assessments) ByID(_ context.Context, id string) (*store.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *assessments) ListByEmployer(_ context.Context, employerID string) ([]*store.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Assessment
	for _, a := range s.byID {
		if a.EmployerID == employerID && a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *assessments) Deactivate(_ context.Context, id, employerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || a.EmployerID != employerID {
		return store.ErrNotFound
	}
	a.IsActive = false
	return nil
}

// ============================================================================
// INVITATIONS
// ============================================================================

type invitations struct {
	mu   sync.Mutex
	byID map[string]*store.AssessmentInvitation
}

func (s *invitations) Create(_ context.Context, inv *store.AssessmentInvitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	cp := *inv
	s.byID[inv.ID] = &cp
	return nil
}

func (s *invitations) ByID(_ context.Context, id string) (*store.AssessmentInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *invitations) ByToken(_ context.Context, token string) (*store.AssessmentInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.byID {
		if inv.Token == token {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *invitations) ListByEmployer(_ context.Context, employerID string) ([]*store.AssessmentInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.AssessmentInvitation
	for _, inv := range s.byID {
		if inv.EmployerID == employerID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *invitations) TransitionStatus(_ context.Context, id string, from []store.InvitationStatus, to store.InvitationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return store.ErrNoMatch
	}
	if len(from) > 0 && !containsStatus(from, inv.Status) {
		return store.ErrNoMatch
	}
	inv.Status = to
	return nil
}

// ============================================================================
// SESSIONS
// ============================================================================

type sessions struct {
	mu   sync.Mutex
	byID map[string]*store.AssessmentSession
}

func copySession(s *store.AssessmentSession) *store.AssessmentSession {
	cp := *s
	cp.Messages = append([]store.SessionMessage(nil), s.Messages...)
	cp.QuestionScores = append([]float64(nil), s.QuestionScores...)
	if s.Breakdown != nil {
		cp.Breakdown = make(map[string]float64, len(s.Breakdown))
		for k, v := range s.Breakdown {
			cp.Breakdown[k] = v
		}
	}
	return &cp
}

func (s *sessions) Create(_ context.Context, sess *store.AssessmentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	s.byID[sess.ID] = copySession(sess)
	return nil
}

func (s *sessions) ByID(_ context.Context, id string) (*store.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *sessions) HasInProgress(_ context.Context, invitationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.byID {
		if sess.InvitationID == invitationID && sess.Status == store.SessionInProgress {
			return true, nil
		}
	}
	return false, nil
}

func (s *sessions) AppendTurn(_ context.Context, id string, messages []store.SessionMessage, upd store.SessionUpdate) (*store.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok || sess.Status != store.SessionInProgress {
		return nil, store.ErrNoMatch
	}
	sess.Messages = append(sess.Messages, messages...)
	if upd.CurrentQuestionIndex != nil {
		sess.CurrentQuestionIndex = *upd.CurrentQuestionIndex
	}
	if upd.TimeSpentSeconds != nil {
		sess.TimeSpentSeconds = *upd.TimeSpentSeconds
	}
	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	if upd.CompletedAt != nil {
		sess.CompletedAt = upd.CompletedAt
	}
	if upd.Score != nil {
		sess.Score = *upd.Score
	}
	if upd.Breakdown != nil {
		sess.Breakdown = upd.Breakdown
	}
	if upd.Summary != nil {
		sess.Summary = *upd.Summary
	}
	if upd.Strengths != nil {
		sess.Strengths = upd.Strengths
	}
	if upd.Weaknesses != nil {
		sess.Weaknesses = upd.Weaknesses
	}
	if upd.PushQuestionScore != nil {
		sess.QuestionScores = append(sess.QuestionScores, *upd.PushQuestionScore)
	}
	return copySession(sess), nil
}

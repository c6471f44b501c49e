// Package httpapi is the HTTP surface of the platform. Handlers are
// translation only: decode, call one service operation, encode. All
// policy lives in the services.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/assessments"
	"github.com/talentlane/backend/internal/auth"
	"github.com/talentlane/backend/internal/config"
	"github.com/talentlane/backend/internal/contracts"
	"github.com/talentlane/backend/internal/evaluation"
	"github.com/talentlane/backend/internal/leaderboard"
	"github.com/talentlane/backend/internal/metrics"
	"github.com/talentlane/backend/internal/notify"
	"github.com/talentlane/backend/internal/payments"
	"github.com/talentlane/backend/internal/store"
)

const serviceName = "talentlane-api"

// Server wires every service behind the route table.
type Server struct {
	cfg *config.Config

	authn       *auth.Authenticator
	users       store.Users
	evaluations *evaluation.Service
	board       *leaderboard.Service
	contracts   *contracts.Service
	payments    *payments.Orchestrator
	assessments *assessments.Service
	notify      *notify.Service
	hub         *notify.Hub

	// ping checks persistence health; nil in eval-only mode.
	ping func(ctx context.Context) error

	generalLimiter *rateLimiter
	evalLimiter    *rateLimiter
	logger         *slog.Logger
}

// Deps bundles the server's collaborators.
type Deps struct {
	Config      *config.Config
	Auth        *auth.Authenticator
	Users       store.Users
	Evaluations *evaluation.Service
	Leaderboard *leaderboard.Service
	Contracts   *contracts.Service
	Payments    *payments.Orchestrator
	Assessments *assessments.Service
	Notify      *notify.Service
	Hub         *notify.Hub
	Ping        func(ctx context.Context) error
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:            d.Config,
		authn:          d.Auth,
		users:          d.Users,
		evaluations:    d.Evaluations,
		board:          d.Leaderboard,
		contracts:      d.Contracts,
		payments:       d.Payments,
		assessments:    d.Assessments,
		notify:         d.Notify,
		hub:            d.Hub,
		ping:           d.Ping,
		generalLimiter: newRateLimiter(d.Config.RateLimitWindow, d.Config.RateLimitMaxRequests),
		evalLimiter:    newRateLimiter(d.Config.RateLimitWindow, d.Config.EvalRateLimitMax),
		logger:         slog.With("component", "httpapi"),
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Webhooks read the raw body for signature verification; they sit
	// outside auth and rate limiting.
	r.HandleFunc("/api/webhooks/stripe", s.handleStripeWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/webhooks/clerk", s.handleClerkWebhook).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.limit(s.generalLimiter))

	// Public surface.
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/assessments/invitations/token/{token}", s.handleResolveInvitation).Methods(http.MethodGet)
	api.HandleFunc("/assessments/invitations/token/{token}/decline", s.handleDeclineInvitation).Methods(http.MethodPost)

	// The evaluation endpoint carries its own, much tighter limit.
	evalRoute := r.PathPrefix("/api/evaluate").Subrouter()
	evalRoute.Use(s.limit(s.evalLimiter))
	evalRoute.HandleFunc("", s.handleEvaluate).Methods(http.MethodPost)

	// Authenticated surface.
	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireAuth)

	authed.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/users/me", s.handleUpdateMe).Methods(http.MethodPut)
	authed.HandleFunc("/users/me/github-usernames", s.handleSaveGitHubUsername).Methods(http.MethodPost)

	authed.HandleFunc("/contracts", s.handleCreateContract).Methods(http.MethodPost)
	authed.HandleFunc("/contracts", s.handleListContracts).Methods(http.MethodGet)
	authed.HandleFunc("/contracts/{id}", s.handleGetContract).Methods(http.MethodGet)
	authed.HandleFunc("/contracts/{id}", s.handleUpdateContract).Methods(http.MethodPut)
	authed.HandleFunc("/contracts/{id}", s.handleDeleteContract).Methods(http.MethodDelete)
	authed.HandleFunc("/contracts/{id}/status", s.handleContractStatus).Methods(http.MethodPatch)
	authed.HandleFunc("/contracts/{id}/milestones/{index}/status", s.handleMilestoneStatus).Methods(http.MethodPatch)

	authed.HandleFunc("/payments/setup-intent", s.handleSetupIntent).Methods(http.MethodPost)
	authed.HandleFunc("/payments/methods", s.handlePaymentMethods).Methods(http.MethodGet)
	authed.HandleFunc("/payments/milestones/{contractId}/{milestoneIndex}/pay", s.handlePayMilestone).Methods(http.MethodPost)
	authed.HandleFunc("/payments/balance", s.handleBalance).Methods(http.MethodGet)
	authed.HandleFunc("/payments/withdrawal-info", s.handleWithdrawalInfo).Methods(http.MethodPut)
	authed.HandleFunc("/payments/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	authed.HandleFunc("/payments/withdrawals", s.handleListWithdrawals).Methods(http.MethodGet)
	authed.HandleFunc("/payments/admin/withdrawals/{id}", s.handleProcessWithdrawal).Methods(http.MethodPatch)

	authed.HandleFunc("/assessments", s.handleCreateAssessment).Methods(http.MethodPost)
	authed.HandleFunc("/assessments", s.handleListAssessments).Methods(http.MethodGet)
	authed.HandleFunc("/assessments/{id}", s.handleDeactivateAssessment).Methods(http.MethodDelete)
	authed.HandleFunc("/assessments/invitations", s.handleInvite).Methods(http.MethodPost)
	authed.HandleFunc("/assessments/invitations", s.handleListInvitations).Methods(http.MethodGet)
	authed.HandleFunc("/assessments/sessions/start", s.handleStartSession).Methods(http.MethodPost)
	authed.HandleFunc("/assessments/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	authed.HandleFunc("/assessments/sessions/{id}/message", s.handleSessionMessage).Methods(http.MethodPost)

	authed.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/unread-count", s.handleUnreadCount).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/read-all", s.handleMarkAllRead).Methods(http.MethodPatch)
	authed.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPatch)
	authed.HandleFunc("/notifications/{id}", s.handleDeleteNotification).Methods(http.MethodDelete)

	// Websocket handshake authenticates itself (token query parameter)
	// and must not pass through body-oriented middleware.
	r.HandleFunc("/ws/notifications", s.handleWebsocket).Methods(http.MethodGet)

	return s.cors(s.observe(r))
}

// Close stops the rate limiter janitors.
func (s *Server) Close() {
	s.generalLimiter.Close()
	s.evalLimiter.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   serviceName,
	}
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			s.respond(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	s.respond(w, http.StatusOK, body)
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

// errorEnvelope is the standard error shape.
type errorEnvelope struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err, "unexpected error")
	}
	status := apperr.HTTPStatus(e.Kind)
	msg := e.Message
	if e.Kind == apperr.KindInternal {
		s.logger.Error("request failed", "error", err)
		if s.cfg.Production() {
			msg = "Internal server error"
		}
	}
	if e.Kind == apperr.KindRateLimited && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(e.RetryAfter))
	}
	s.respond(w, status, errorEnvelope{Error: msg, Message: msg, Details: e.Details})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.fail(w, apperr.Validation("invalid JSON body"))
		return false
	}
	return true
}

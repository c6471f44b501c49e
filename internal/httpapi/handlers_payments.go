package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/payments"
	"github.com/talentlane/backend/internal/store"
)

// maxWebhookBody bounds the raw payload read; Stripe events stay well
// under this.
const maxWebhookBody = 1 << 20

func (s *Server) handleSetupIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := s.payments.SetupIntent(r.Context(), s.user(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, intent)
}

func (s *Server) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := s.payments.Methods(r.Context(), s.user(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"methods": methods})
}

func (s *Server) handlePayMilestone(w http.ResponseWriter, r *http.Request) {
	user := s.user(r)
	if err := requireVerified(user); err != nil {
		s.fail(w, err)
		return
	}
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["milestoneIndex"])
	if err != nil {
		s.fail(w, apperr.Validation("milestone index must be a number"))
		return
	}
	var body struct {
		PaymentMethodID string `json:"payment_method_id"`
	}
	if r.ContentLength > 0 && !s.decode(w, r, &body) {
		return
	}
	c, err := s.payments.Pay(r.Context(), user, vars["contractId"], index, body.PaymentMethodID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, c)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	// Re-read the user so the figure is current, not the token-time copy.
	user, err := s.users.ByID(r.Context(), s.user(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"balance":        user.Balance,
		"total_earnings": user.TotalEarnings,
	})
}

func (s *Server) handleWithdrawalInfo(w http.ResponseWriter, r *http.Request) {
	var info payments.BankInfoInput
	if !s.decode(w, r, &info) {
		return
	}
	if err := s.payments.SetBankInfo(r.Context(), s.user(r), &info); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	user := s.user(r)
	if err := requireVerified(user); err != nil {
		s.fail(w, err)
		return
	}
	var body struct {
		Amount float64 `json:"amount"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	wd, err := s.payments.RequestWithdrawal(r.Context(), user, body.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, wd)
}

func (s *Server) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := s.payments.ListWithdrawals(r.Context(), s.user(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"withdrawals": list})
}

func (s *Server) handleProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status       string `json:"status"`
		AdminNote    string `json:"admin_note"`
		ProcessorRef string `json:"processor_ref"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	wd, err := s.payments.ProcessWithdrawal(r.Context(), s.user(r), mux.Vars(r)["id"],
		store.WithdrawalStatus(body.Status), body.AdminNote, body.ProcessorRef)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, wd)
}

// handleStripeWebhook verifies the signature over the unmodified bytes.
// Processing failures still answer 200 so the gateway does not retry
// logic errors; only a bad signature earns a 400.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.fail(w, apperr.Validation("unreadable webhook body"))
		return
	}
	if err := s.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"received": true})
}

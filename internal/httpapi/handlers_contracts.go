package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/contracts"
	"github.com/talentlane/backend/internal/store"
)

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	user := s.user(r)
	if err := requireVerified(user); err != nil {
		s.fail(w, err)
		return
	}
	var in contracts.CreateInput
	if !s.decode(w, r, &in) {
		return
	}
	c, err := s.contracts.Create(r.Context(), user, in)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, c)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	list, err := s.contracts.ListForUser(r.Context(), s.user(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"contracts": list})
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.contracts.Get(r.Context(), s.user(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, c)
}

func (s *Server) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	var in contracts.UpdateInput
	if !s.decode(w, r, &in) {
		return
	}
	c, err := s.contracts.Update(r.Context(), s.user(r), mux.Vars(r)["id"], in)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, c)
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	if err := s.contracts.Delete(r.Context(), s.user(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleContractStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Status == "" {
		s.fail(w, apperr.Validation("status is required"))
		return
	}
	c, err := s.contracts.Transition(r.Context(), s.user(r), mux.Vars(r)["id"], store.ContractStatus(body.Status))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, c)
}

func (s *Server) handleMilestoneStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		s.fail(w, apperr.Validation("milestone index must be a number"))
		return
	}
	var action contracts.MilestoneAction
	if !s.decode(w, r, &action) {
		return
	}
	c, err := s.contracts.UpdateMilestone(r.Context(), s.user(r), vars["id"], index, action)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, c)
}

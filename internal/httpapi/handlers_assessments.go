package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/assessments"
)

func (s *Server) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	var in assessments.CreateAssessmentInput
	if !s.decode(w, r, &in) {
		return
	}
	a, err := s.assessments.CreateAssessment(r.Context(), s.user(r), in)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, a)
}

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	list, err := s.assessments.ListAssessments(r.Context(), s.user(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"assessments": list})
}

func (s *Server) handleDeactivateAssessment(w http.ResponseWriter, r *http.Request) {
	if err := s.assessments.DeactivateAssessment(r.Context(), s.user(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var in assessments.InviteInput
	if !s.decode(w, r, &in) {
		return
	}
	inv, err := s.assessments.Invite(r.Context(), s.user(r), in)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, inv)
}

func (s *Server) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	list, err := s.assessments.ListInvitations(r.Context(), s.user(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"invitations": list})
}

func (s *Server) handleResolveInvitation(w http.ResponseWriter, r *http.Request) {
	view, err := s.assessments.ResolveToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, view)
}

func (s *Server) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	if err := s.assessments.DeclineInvitation(r.Context(), mux.Vars(r)["token"]); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Token == "" {
		s.fail(w, apperr.Validation("token is required"))
		return
	}
	session, err := s.assessments.StartSession(r.Context(), s.user(r), body.Token)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.assessments.GetSession(r.Context(), s.user(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, session)
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	session, err := s.assessments.SendMessage(r.Context(), s.user(r), mux.Vars(r)["id"], body.Content)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, session)
}

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	unreadOnly := q.Get("unread_only") == "true"

	list, total, err := s.notify.List(r.Context(), s.user(r).ID, page, limit, unreadOnly)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"total":         total,
	})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.notify.UnreadCount(r.Context(), s.user(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	changed, err := s.notify.MarkRead(r.Context(), s.user(r).ID, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"updated": changed})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := s.notify.MarkAllRead(r.Context(), s.user(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int64{"updated": count})
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.notify.Delete(r.Context(), s.user(r).ID, mux.Vars(r)["id"]); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleWebsocket authenticates the handshake itself: browsers cannot
// set headers on websocket dials, so the token rides a query parameter.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	user, err := s.authn.Authenticate(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.hub.HandleSocket(w, r, user.ID)
}

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a frame
	maxMsgSize = 4 * 1024         // Client frames are tiny control messages
	sendBuffer = 64               // Per-socket outbound channel buffer
)

// Server-pushed socket events.
const (
	EventNotificationNew = "notification:new"
	EventUnreadCount     = "notification:unreadCount"
)

// Client-initiated socket events. Each gets an ack carrying the same id.
const (
	eventGetUnreadCount = "notification:getUnreadCount"
	eventMarkRead       = "notification:markRead"
	eventMarkAllRead    = "notification:markAllRead"
	eventAck            = "ack"
	eventError          = "error"
)

// Frame is the JSON envelope for every socket message in both directions.
type Frame struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// clientFrame is the inbound form; Data stays raw until the event is known.
type clientFrame struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub tracks live sockets per recipient and fans pushed frames out to all
// of a recipient's open connections.
type Hub struct {
	mu       sync.RWMutex
	sockets  map[string]map[*socket]struct{}
	upgrader websocket.Upgrader
	svc      *Service
	logger   *slog.Logger
}

// NewHub builds the socket hub. In production only the listed origins may
// connect; elsewhere all origins are accepted.
func NewHub(allowedOrigins []string, production bool) *Hub {
	h := &Hub{
		sockets: make(map[string]map[*socket]struct{}),
		logger:  slog.With("component", "notify.hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     buildCheckOrigin(allowedOrigins, production),
	}
	return h
}

func buildCheckOrigin(allowedOrigins []string, production bool) func(r *http.Request) bool {
	if production && len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		for _, origin := range allowedOrigins {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				return true
			}
			slog.Info("rejected socket connection from origin", "origin", origin)
			return false
		}
	}
	if production {
		slog.Warn("ALLOWED_ORIGINS not set in production, accepting all socket origins")
	}
	return func(r *http.Request) bool { return true }
}

// bind wires the service the read pump dispatches client events to.
func (h *Hub) bind(svc *Service) { h.svc = svc }

// HandleSocket upgrades the request and registers the socket under the
// authenticated recipient. The caller resolves recipientID before handoff.
func (h *Hub) HandleSocket(w http.ResponseWriter, r *http.Request, recipientID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("socket upgrade failed", "error", err)
		return
	}

	s := &socket{
		hub:         h,
		recipientID: recipientID,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
	h.register(s)
	h.logger.Info("socket connected", "recipient_id", recipientID)

	// writePump owns all writes (ping, push, ack, close); readPump owns
	// all reads. Single-owner pumps keep the connection race free.
	go s.writePump()
	go s.readPump()
}

// Push delivers a frame to every open socket of the recipient on this pod.
// Sockets with a full buffer are skipped, never blocked on.
func (h *Hub) Push(recipientID string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Warn("dropping unmarshalable frame", "event", frame.Event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sockets[recipientID] {
		select {
		case s.send <- data:
		default:
			h.logger.Warn("send buffer full, dropping frame",
				"recipient_id", recipientID, "event", frame.Event)
		}
	}
}

func (h *Hub) register(s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sockets[s.recipientID]
	if set == nil {
		set = make(map[*socket]struct{})
		h.sockets[s.recipientID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) unregister(s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sockets[s.recipientID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.sockets, s.recipientID)
	}
}

// Close tears down every open socket.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*socket
	for _, set := range h.sockets {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range all {
		s.close()
	}
}

// socket is one live WebSocket connection for a recipient.
type socket struct {
	hub         *Hub
	recipientID string
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	once        sync.Once
}

func (s *socket) close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.unregister(s)
		s.conn.Close()
		s.hub.logger.Info("socket disconnected", "recipient_id", s.recipientID)
	})
}

// writePump serializes all writes to the connection.
func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain queued frames while we hold the write slot.
			n := len(s.send)
			for i := 0; i < n; i++ {
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}

// readPump reads client frames and dispatches the control events.
func (s *socket) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMsgSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warn("socket read error", "recipient_id", s.recipientID, "error", err)
			}
			return
		}

		var msg clientFrame
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.reply(Frame{Event: eventError, Data: map[string]string{"error": "invalid frame"}})
			continue
		}
		s.dispatch(msg)
	}
}

func (s *socket) dispatch(msg clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Event {
	case eventGetUnreadCount:
		count, err := s.hub.svc.UnreadCount(ctx, s.recipientID)
		if err != nil {
			s.replyErr(msg.ID, "failed to load unread count")
			return
		}
		s.reply(Frame{ID: msg.ID, Event: eventAck, Data: map[string]int64{"count": count}})

	case eventMarkRead:
		var body struct {
			NotificationID string `json:"notification_id"`
		}
		if err := json.Unmarshal(msg.Data, &body); err != nil || body.NotificationID == "" {
			s.replyErr(msg.ID, "notification_id is required")
			return
		}
		if _, err := s.hub.svc.MarkRead(ctx, s.recipientID, body.NotificationID); err != nil {
			s.replyErr(msg.ID, "failed to mark notification read")
			return
		}
		count, _ := s.hub.svc.UnreadCount(ctx, s.recipientID)
		s.reply(Frame{ID: msg.ID, Event: eventAck, Data: map[string]int64{"count": count}})

	case eventMarkAllRead:
		if _, err := s.hub.svc.MarkAllRead(ctx, s.recipientID); err != nil {
			s.replyErr(msg.ID, "failed to mark notifications read")
			return
		}
		s.reply(Frame{ID: msg.ID, Event: eventAck, Data: map[string]int64{"count": 0}})

	default:
		s.replyErr(msg.ID, "unknown event: "+msg.Event)
	}
}

func (s *socket) reply(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
		s.hub.logger.Warn("send buffer full, dropping reply", "recipient_id", s.recipientID)
	}
}

func (s *socket) replyErr(id, message string) {
	s.reply(Frame{ID: id, Event: eventError, Data: map[string]string{"error": message}})
}

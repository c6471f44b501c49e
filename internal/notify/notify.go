// Package notify is the notification fabric: a persistent per-recipient
// log plus best-effort realtime push over WebSocket. The log is the source
// of truth; a recipient who was offline sees the same entries on next
// fetch that a connected one saw pushed.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/metrics"
	"github.com/talentlane/backend/internal/store"
)

// Service owns the notification log and the push fan-out.
type Service struct {
	notifications store.Notifications
	hub           *Hub
	bus           Bus
	unsubscribe   func()
	logger        *slog.Logger
}

// NewService wires the log, the socket hub, and the fan-out bus. The hub
// delivers frames arriving on the bus to this pod's sockets.
func NewService(notifications store.Notifications, hub *Hub, bus Bus) *Service {
	s := &Service{
		notifications: notifications,
		hub:           hub,
		bus:           bus,
		logger:        slog.With("component", "notify"),
	}
	hub.bind(s)
	s.unsubscribe = bus.Subscribe(hub.Push)
	return s
}

// Close detaches from the bus and drops all live sockets.
func (s *Service) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Close()
}

// Emit persists a notification and pushes it to the recipient's live
// sockets. Persistence failures are returned; push failures are not — a
// dropped frame only costs immediacy, the log already has the entry.
func (s *Service) Emit(ctx context.Context, n *store.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Read = false

	if err := s.notifications.Insert(ctx, n); err != nil {
		return err
	}

	s.push(ctx, n.RecipientID, Frame{Event: EventNotificationNew, Data: n})
	s.pushUnreadCount(ctx, n.RecipientID)
	return nil
}

// List returns one page of the recipient's log, newest first, with the
// total matching count for pagination.
func (s *Service) List(ctx context.Context, recipientID string, page, limit int, unreadOnly bool) ([]*store.Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.notifications.List(ctx, recipientID, page, limit, unreadOnly)
}

func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return s.notifications.UnreadCount(ctx, recipientID)
}

// MarkRead marks one notification read. Marking an already-read entry is
// a no-op, reported through the bool. The updated unread count is pushed
// either way so badge state converges across the recipient's devices.
func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) (bool, error) {
	changed, err := s.notifications.MarkRead(ctx, notificationID, recipientID)
	if errors.Is(err, store.ErrNotFound) {
		return false, apperr.NotFound("notification %s not found", notificationID)
	}
	if err != nil {
		return false, err
	}
	if changed {
		s.pushUnreadCount(ctx, recipientID)
	}
	return changed, nil
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.notifications.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.pushUnreadCount(ctx, recipientID)
	}
	return n, nil
}

func (s *Service) Delete(ctx context.Context, recipientID, notificationID string) error {
	err := s.notifications.Delete(ctx, notificationID, recipientID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("notification %s not found", notificationID)
	}
	return err
}

func (s *Service) pushUnreadCount(ctx context.Context, recipientID string) {
	count, err := s.notifications.UnreadCount(ctx, recipientID)
	if err != nil {
		s.logger.Warn("unread count lookup failed, skipping push",
			"recipient_id", recipientID, "error", err)
		return
	}
	s.push(ctx, recipientID, Frame{Event: EventUnreadCount, Data: map[string]int64{"count": count}})
}

func (s *Service) push(ctx context.Context, recipientID string, frame Frame) {
	if err := s.bus.Publish(ctx, recipientID, frame); err != nil {
		metrics.NotificationsPushed.WithLabelValues("error").Inc()
		s.logger.Warn("push publish failed", "recipient_id", recipientID,
			"event", frame.Event, "error", err)
		return
	}
	metrics.NotificationsPushed.WithLabelValues("ok").Inc()
}

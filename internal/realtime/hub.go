// Package realtime pushes freshly created in-app notifications to users who
// currently hold an open websocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// EventNewNotification is the event name clients listen for.
const EventNewNotification = "new_notification"

// Message is the data part of a new_notification frame.
type Message struct {
	NotificationID string         `json:"notificationId"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Channel        domain.Channel `json:"channel"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// MessageFor builds the push payload for a stored notification.
func MessageFor(n *domain.Notification) Message {
	return Message{
		NotificationID: n.ID,
		Title:          n.Title,
		Message:        n.Message,
		Channel:        n.Channel,
		CreatedAt:      n.CreatedAt,
	}
}

// Envelope is the frame written to the socket.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Session is one live client connection.
type Session interface {
	ID() string
	// Send queues a frame for delivery. It must not block on the network.
	Send(frame []byte) error
}

// Hub tracks live sessions grouped by user id. A user may hold several
// sessions (tabs, devices); every one of them receives each notification.
type Hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]map[Session]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[string]map[Session]struct{}),
	}
}

func (h *Hub) Join(userID string, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[userID]; !ok {
		h.sessions[userID] = make(map[Session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	h.logger.Debug("realtime session joined",
		zap.String("user_id", userID),
		zap.String("session_id", s.ID()),
		zap.Int("sessions", len(h.sessions[userID])),
	)
}

func (h *Hub) Leave(userID string, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.sessions[userID]
	if !ok {
		return
	}
	delete(conns, s)
	if len(conns) == 0 {
		delete(h.sessions, userID)
	}
}

// Connected returns how many sessions the user currently holds.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Notify sends msg to every session of userID. It is a no-op when the user is
// offline. Errors from individual sessions are joined; delivery to the other
// sessions still happens.
func (h *Hub) Notify(ctx context.Context, userID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: EventNewNotification, Data: msg})
	if err != nil {
		return fmt.Errorf("encode realtime frame: %w", err)
	}

	h.mu.RLock()
	targets := make([]Session, 0, len(h.sessions[userID]))
	for s := range h.sessions[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.Send(frame); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

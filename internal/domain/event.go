package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EventStatus tracks the lifecycle of an ingested event.
type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventProcessed EventStatus = "PROCESSED"
	EventFailed    EventStatus = "FAILED"
)

// ParseEventStatus rejects anything outside the closed set.
func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(s); st {
	case EventPending, EventProcessed, EventFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown event status %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s EventStatus) IsTerminal() bool {
	return s == EventProcessed || s == EventFailed
}

// CanTransitionTo enforces PENDING→PROCESSED and PENDING→FAILED only.
func (s EventStatus) CanTransitionTo(to EventStatus) bool {
	return s == EventPending && to.IsTerminal()
}

// Event is a domain event received from an upstream producer.
type Event struct {
	ID             string          `json:"id"`
	EventType      string          `json:"eventType"`
	UserID         string          `json:"userId"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey *string         `json:"idempotencyKey,omitempty"`
	Status         EventStatus     `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// PayloadMap decodes the stored payload for template rendering.
func (e *Event) PayloadMap() map[string]any {
	m := map[string]any{}
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &m)
	}
	return m
}

const (
	MaxEventTypeLength     = 50
	MaxUserIDLength        = 64
	MaxIdempotencyKeyLen   = 255
	DefaultMaxPayloadBytes = 10 * 1024
)

var (
	eventTypePattern = regexp.MustCompile(`^[A-Z_]+$`)
	userIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// KnownEventTypes is the default allow-list. Each has a dedicated template.
var KnownEventTypes = []string{
	"USER_REGISTERED",
	"USER_LOGIN",
	"ORDER_PLACED",
	"ORDER_SHIPPED",
	"ORDER_DELIVERED",
	"PAYMENT_RECEIVED",
	"PAYMENT_FAILED",
	"PASSWORD_RESET",
	"ACCOUNT_VERIFIED",
	"SUBSCRIPTION_RENEWED",
	"SUBSCRIPTION_CANCELLED",
}

// EventTypeSet is an allow-list of event types.
type EventTypeSet map[string]struct{}

// NewEventTypeSet builds the allow-list from the known types plus extras.
// Extras that are not well-formed are ignored.
func NewEventTypeSet(extra ...string) EventTypeSet {
	set := make(EventTypeSet, len(KnownEventTypes)+len(extra))
	for _, t := range KnownEventTypes {
		set[t] = struct{}{}
	}
	for _, t := range extra {
		t = strings.TrimSpace(t)
		if isWellFormedEventType(t) {
			set[t] = struct{}{}
		}
	}
	return set
}

func (s EventTypeSet) Contains(eventType string) bool {
	_, ok := s[eventType]
	return ok
}

func isWellFormedEventType(t string) bool {
	return len(t) <= MaxEventTypeLength && eventTypePattern.MatchString(t)
}

// SubmitRequest is the inbound payload for a single event.
type SubmitRequest struct {
	EventType      string          `json:"eventType"`
	UserID         string          `json:"userId"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// Validate checks the request against the allow-list and size bound and
// returns the payload in compact form, ready to persist.
func (r *SubmitRequest) Validate(allowed EventTypeSet, maxPayloadBytes int) (json.RawMessage, error) {
	if r.EventType == "" {
		return nil, ErrEventTypeRequired
	}
	if !isWellFormedEventType(r.EventType) {
		return nil, ErrEventTypeMalformed
	}
	if !allowed.Contains(r.EventType) {
		return nil, ErrEventTypeNotAllowed
	}
	if r.UserID == "" {
		return nil, ErrUserIDRequired
	}
	if len(r.UserID) > MaxUserIDLength || !userIDPattern.MatchString(r.UserID) {
		return nil, ErrUserIDMalformed
	}
	if len(r.IdempotencyKey) > MaxIdempotencyKeyLen {
		return nil, ErrIdempotencyKeyLong
	}

	raw := bytes.TrimSpace(r.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrPayloadRequired
	}
	if raw[0] != '{' {
		return nil, ErrPayloadNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ErrPayloadNotObject
	}
	for k := range fields {
		if strings.TrimSpace(k) == "" {
			return nil, ErrPayloadEmptyKey
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, ErrPayloadNotObject
	}
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}
	if compact.Len() > maxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	return compact.Bytes(), nil
}

// SubmitResult is what the ingestion gateway hands back to a producer.
type SubmitResult struct {
	EventID   string      `json:"eventId"`
	Status    EventStatus `json:"status"`
	Accepted  bool        `json:"accepted"`
	Duplicate bool        `json:"duplicate,omitempty"`
}

// EventStatusView is the read model returned by the status query.
type EventStatusView struct {
	EventID   string      `json:"eventId"`
	EventType string      `json:"eventType"`
	Status    EventStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

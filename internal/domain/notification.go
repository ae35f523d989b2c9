package domain

import (
	"fmt"
	"time"
)

// Channel is the delivery channel for a notification.
type Channel string

const (
	ChannelInApp Channel = "IN_APP"
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
)

// Channels lists every channel in fan-out order.
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelPush}

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelInApp, ChannelEmail, ChannelPush:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// Priority is informational; it does not affect dispatch order.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Notification is created once per channel that accepted a send attempt.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EventID   string    `json:"eventId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Channel   Channel   `json:"channel"`
	IsRead    bool      `json:"isRead"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeliveryStatus is the outcome recorded for a single channel attempt.
type DeliveryStatus string

const (
	DeliverySuccess  DeliveryStatus = "SUCCESS"
	DeliveryFailed   DeliveryStatus = "FAILED"
	DeliveryRetrying DeliveryStatus = "RETRYING"
)

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	switch st := DeliveryStatus(s); st {
	case DeliverySuccess, DeliveryFailed, DeliveryRetrying:
		return st, nil
	}
	return "", fmt.Errorf("unknown delivery status %q", s)
}

// DeliveryLog is an append-only audit row. NotificationID is nil when the
// channel failed before a notification could be stored.
type DeliveryLog struct {
	ID             string         `json:"id"`
	NotificationID *string        `json:"notificationId,omitempty"`
	EventID        string         `json:"eventId"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attemptCount"`
	ErrorMessage   *string        `json:"errorMessage,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

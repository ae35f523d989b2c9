package repository

import (
	"context"
	"time"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// The pgx implementations live in pg_*.go.
// Tests use the hand-written in-memory versions in mock_*.go.

// EventRepository persists ingested events.
type EventRepository interface {
	// Create returns domain.ErrConflict when the idempotency key is taken.
	Create(ctx context.Context, e *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error)
	// ExistsSince reports whether the user already has an event of this type
	// created strictly after since.
	ExistsSince(ctx context.Context, userID, eventType string, since time.Time) (bool, error)
	// TransitionStatus moves a PENDING event to a terminal status. It returns
	// false when the event was already terminal, and ErrNotFound when absent.
	TransitionStatus(ctx context.Context, id string, to domain.EventStatus) (bool, error)
}

// NotificationRepository stores notifications for channels that succeeded.
type NotificationRepository interface {
	// CreateDelivered writes the notification and its SUCCESS delivery log
	// atomically: either both exist afterwards or neither does.
	CreateDelivered(ctx context.Context, n *domain.Notification, log *domain.DeliveryLog) error
	ListByEvent(ctx context.Context, eventID string) ([]*domain.Notification, error)
}

// DeliveryLogRepository is the append-only audit trail of channel attempts.
type DeliveryLogRepository interface {
	Append(ctx context.Context, log *domain.DeliveryLog) error
	ListByNotification(ctx context.Context, notificationID string, channel domain.Channel) ([]*domain.DeliveryLog, error)
	ListByEvent(ctx context.Context, eventID string) ([]*domain.DeliveryLog, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PreferenceRepository holds one preference record per user.
type PreferenceRepository interface {
	// GetOrCreateDefault atomically returns the user's preferences, inserting
	// the defaults first if none exist.
	GetOrCreateDefault(ctx context.Context, userID string) (*domain.UserPreference, error)
	Upsert(ctx context.Context, p *domain.UserPreference) error
}

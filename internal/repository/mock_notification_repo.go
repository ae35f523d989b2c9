package repository

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// MockNotificationRepository keeps notifications in memory. CreateDelivered
// appends the SUCCESS log to Logs, so tests see the same pairing the
// transactional implementation guarantees.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications []*domain.Notification
	Logs          *MockDeliveryLogRepository

	// CreateErr fails every CreateDelivered; CreateErrByChannel fails only the
	// listed channels.
	CreateErr          error
	CreateErrByChannel map[domain.Channel]error
}

func NewMockNotificationRepository(logs *MockDeliveryLogRepository) *MockNotificationRepository {
	if logs == nil {
		logs = NewMockDeliveryLogRepository()
	}
	return &MockNotificationRepository{Logs: logs}
}

func (m *MockNotificationRepository) CreateDelivered(ctx context.Context, n *domain.Notification, log *domain.DeliveryLog) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if err := m.CreateErrByChannel[n.Channel]; err != nil {
		return err
	}
	m.mu.Lock()
	clone := *n
	m.notifications = append(m.notifications, &clone)
	m.mu.Unlock()
	return m.Logs.Append(ctx, log)
}

func (m *MockNotificationRepository) ListByEvent(_ context.Context, eventID string) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Notification
	for _, n := range m.notifications {
		if n.EventID == eventID {
			clone := *n
			result = append(result, &clone)
		}
	}
	return result, nil
}

// MockDeliveryLogRepository is an in-memory, append-only DeliveryLogRepository.
type MockDeliveryLogRepository struct {
	mu   sync.RWMutex
	logs []*domain.DeliveryLog

	AppendErr error
}

func NewMockDeliveryLogRepository() *MockDeliveryLogRepository {
	return &MockDeliveryLogRepository{}
}

func (m *MockDeliveryLogRepository) Append(_ context.Context, l *domain.DeliveryLog) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *l
	m.logs = append(m.logs, &clone)
	return nil
}

func (m *MockDeliveryLogRepository) ListByNotification(_ context.Context, notificationID string, channel domain.Channel) ([]*domain.DeliveryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeliveryLog
	for _, l := range m.logs {
		if l.NotificationID != nil && *l.NotificationID == notificationID && l.Channel == channel {
			clone := *l
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *MockDeliveryLogRepository) ListByEvent(_ context.Context, eventID string) ([]*domain.DeliveryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeliveryLog
	for _, l := range m.logs {
		if l.EventID == eventID {
			clone := *l
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *MockDeliveryLogRepository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var purged int64
	for _, l := range m.logs {
		if l.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return purged, nil
}

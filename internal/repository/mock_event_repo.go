package repository

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// MockEventRepository is a hand-written, in-memory implementation of
// EventRepository used in unit tests.
type MockEventRepository struct {
	mu     sync.RWMutex
	events map[string]*domain.Event

	// Optional error overrides. Set in tests to simulate failure paths.
	CreateErr              error
	GetByIDErr             error
	GetByIdempotencyKeyErr error
	ExistsSinceErr         error
	TransitionErr          error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{events: make(map[string]*domain.Event)}
}

func (m *MockEventRepository) Create(_ context.Context, e *domain.Event) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IdempotencyKey != nil {
		for _, existing := range m.events {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *e.IdempotencyKey {
				return domain.ErrConflict
			}
		}
	}
	clone := *e
	m.events[e.ID] = &clone
	return nil
}

func (m *MockEventRepository) GetByID(_ context.Context, id string) (*domain.Event, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	clone := *e
	return &clone, nil
}

func (m *MockEventRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.Event, error) {
	if m.GetByIdempotencyKeyErr != nil {
		return nil, m.GetByIdempotencyKeyErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			clone := *e
			return &clone, nil
		}
	}
	return nil, domain.ErrEventNotFound
}

func (m *MockEventRepository) ExistsSince(_ context.Context, userID, eventType string, since time.Time) (bool, error) {
	if m.ExistsSinceErr != nil {
		return false, m.ExistsSinceErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.UserID == userID && e.EventType == eventType && e.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockEventRepository) TransitionStatus(_ context.Context, id string, to domain.EventStatus) (bool, error) {
	if m.TransitionErr != nil {
		return false, m.TransitionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return false, domain.ErrEventNotFound
	}
	if !to.IsTerminal() {
		return false, domain.ErrInvalidTransition
	}
	if !e.Status.CanTransitionTo(to) {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Len returns the number of stored events.
func (m *MockEventRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

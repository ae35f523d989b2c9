package repository

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// MockPreferenceRepository is an in-memory PreferenceRepository.
type MockPreferenceRepository struct {
	mu    sync.Mutex
	prefs map[string]*domain.UserPreference

	GetErr error
}

func NewMockPreferenceRepository() *MockPreferenceRepository {
	return &MockPreferenceRepository{prefs: make(map[string]*domain.UserPreference)}
}

func (m *MockPreferenceRepository) GetOrCreateDefault(_ context.Context, userID string) (*domain.UserPreference, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		p = domain.DefaultPreference(userID, time.Now().UTC())
		m.prefs[userID] = p
	}
	return clonePreference(p), nil
}

func (m *MockPreferenceRepository) Upsert(_ context.Context, p *domain.UserPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.UserID] = clonePreference(p)
	return nil
}

func clonePreference(p *domain.UserPreference) *domain.UserPreference {
	clone := *p
	clone.EventTypes = maps.Clone(p.EventTypes)
	if clone.EventTypes == nil {
		clone.EventTypes = map[string]bool{}
	}
	return &clone
}

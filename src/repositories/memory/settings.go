package memory

import (
	"context"
	"sync"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

// SettingsStore keeps the runtime settings in process.
type SettingsStore struct {
	mu sync.RWMutex
	s  *models.RuntimeSettings
}

// NewSettingsStore creates an empty settings store
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{}
}

func (m *SettingsStore) Load(_ context.Context) (*models.RuntimeSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.s == nil {
		return nil, repositories.ErrRecordNotFound
	}
	cp := *m.s
	return &cp, nil
}

func (m *SettingsStore) Save(_ context.Context, s *models.RuntimeSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.s = &cp
	return nil
}

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

// ScriptStore is an in-process ScriptStore. One lock covers every script so
// the single-active rule holds across operations.
type ScriptStore struct {
	mu      sync.RWMutex
	scripts map[string]*models.Script
}

// NewScriptStore creates an empty store
func NewScriptStore() *ScriptStore {
	return &ScriptStore{scripts: make(map[string]*models.Script)}
}

func (m *ScriptStore) Create(_ context.Context, s *models.Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.scripts {
		if id == s.ID || existing.PublicToken == s.PublicToken {
			return repositories.ErrDuplicateKey
		}
	}
	if s.IsActive {
		m.deactivateLocked()
	}
	m.scripts[s.ID] = s.Clone()
	return nil
}

func (m *ScriptStore) Get(_ context.Context, id string) (*models.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scripts[id]
	if !ok {
		return nil, repositories.ErrRecordNotFound
	}
	return s.Clone(), nil
}

func (m *ScriptStore) ByToken(_ context.Context, token string) (*models.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.scripts {
		if s.PublicToken == token {
			return s.Clone(), nil
		}
	}
	return nil, repositories.ErrRecordNotFound
}

func (m *ScriptStore) Active(_ context.Context) (*models.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.scripts {
		if s.IsActive {
			return s.Clone(), nil
		}
	}
	return nil, repositories.ErrRecordNotFound
}

func (m *ScriptStore) List(_ context.Context) ([]*models.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newestLocked(), nil
}

func (m *ScriptStore) Update(_ context.Context, id string, fn repositories.ScriptMutateFunc) (*models.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scripts[id]
	if !ok {
		return nil, repositories.ErrRecordNotFound
	}
	cp := s.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	// Activation goes through Activate.
	cp.ID, cp.IsActive, cp.PublicToken = s.ID, s.IsActive, s.PublicToken
	m.scripts[id] = cp
	return cp.Clone(), nil
}

func (m *ScriptStore) Activate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scripts[id]
	if !ok {
		return repositories.ErrRecordNotFound
	}
	m.deactivateLocked()
	s.IsActive = true
	return nil
}

func (m *ScriptStore) DeactivateAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivateLocked()
	return nil
}

func (m *ScriptStore) Delete(_ context.Context, id string) (*models.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scripts[id]
	if !ok {
		return nil, repositories.ErrRecordNotFound
	}
	delete(m.scripts, id)
	if s.IsActive {
		if rest := m.newestLocked(); len(rest) > 0 {
			m.scripts[rest[0].ID].IsActive = true
		}
	}
	return s, nil
}

func (m *ScriptStore) deactivateLocked() {
	for _, s := range m.scripts {
		s.IsActive = false
	}
}

// newestLocked returns copies ordered by creation time, newest first.
func (m *ScriptStore) newestLocked() []*models.Script {
	out := make([]*models.Script, 0, len(m.scripts))
	for _, s := range m.scripts {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

package mock

import (
	"context"
	"time"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

// KeyStore is a mock implementation of repositories.KeyStore
type KeyStore struct {
	CreateFunc       func(ctx context.Context, rec *models.KeyRecord) error
	PutFunc          func(ctx context.Context, rec *models.KeyRecord) error
	GetFunc          func(ctx context.Context, key string) (*models.KeyRecord, error)
	MutateFunc       func(ctx context.Context, key string, fn repositories.MutateFunc) (*models.KeyRecord, error)
	DeleteFunc       func(ctx context.Context, key string) (*models.KeyRecord, error)
	ListFunc         func(ctx context.Context, q models.KeyQuery) (*models.KeyPage, error)
	SweepExpiredFunc func(ctx context.Context, now time.Time) ([]*models.KeyRecord, error)
	DeleteAllFunc    func(ctx context.Context) error
	CountsFunc       func(ctx context.Context, now time.Time) (models.KeyCounts, error)

	Calls map[string][]interface{}
}

// NewKeyStore creates a new mock key store
func NewKeyStore() *KeyStore {
	return &KeyStore{Calls: make(map[string][]interface{})}
}

func (m *KeyStore) Create(ctx context.Context, rec *models.KeyRecord) error {
	m.Calls["Create"] = append(m.Calls["Create"], rec)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	return nil
}

func (m *KeyStore) Put(ctx context.Context, rec *models.KeyRecord) error {
	m.Calls["Put"] = append(m.Calls["Put"], rec)
	if m.PutFunc != nil {
		return m.PutFunc(ctx, rec)
	}
	return nil
}

func (m *KeyStore) Get(ctx context.Context, key string) (*models.KeyRecord, error) {
	m.Calls["Get"] = append(m.Calls["Get"], key)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, repositories.ErrRecordNotFound
}

func (m *KeyStore) Mutate(ctx context.Context, key string, fn repositories.MutateFunc) (*models.KeyRecord, error) {
	m.Calls["Mutate"] = append(m.Calls["Mutate"], key)
	if m.MutateFunc != nil {
		return m.MutateFunc(ctx, key, fn)
	}
	return nil, repositories.ErrRecordNotFound
}

func (m *KeyStore) Delete(ctx context.Context, key string) (*models.KeyRecord, error) {
	m.Calls["Delete"] = append(m.Calls["Delete"], key)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil, repositories.ErrRecordNotFound
}

func (m *KeyStore) List(ctx context.Context, q models.KeyQuery) (*models.KeyPage, error) {
	m.Calls["List"] = append(m.Calls["List"], q)
	if m.ListFunc != nil {
		return m.ListFunc(ctx, q)
	}
	return &models.KeyPage{Items: []*models.KeyRecord{}}, nil
}

func (m *KeyStore) SweepExpired(ctx context.Context, now time.Time) ([]*models.KeyRecord, error) {
	m.Calls["SweepExpired"] = append(m.Calls["SweepExpired"], now)
	if m.SweepExpiredFunc != nil {
		return m.SweepExpiredFunc(ctx, now)
	}
	return nil, nil
}

func (m *KeyStore) DeleteAll(ctx context.Context) error {
	m.Calls["DeleteAll"] = append(m.Calls["DeleteAll"], nil)
	if m.DeleteAllFunc != nil {
		return m.DeleteAllFunc(ctx)
	}
	return nil
}

func (m *KeyStore) Counts(ctx context.Context, now time.Time) (models.KeyCounts, error) {
	m.Calls["Counts"] = append(m.Calls["Counts"], now)
	if m.CountsFunc != nil {
		return m.CountsFunc(ctx, now)
	}
	return models.KeyCounts{}, nil
}

// Ensure KeyStore implements the interface
var _ repositories.KeyStore = (*KeyStore)(nil)

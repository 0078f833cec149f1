package mock

import (
	"context"

	"github.com/keygate/keygate-server/src/repositories"
)

// TokenIndex is a mock implementation of repositories.TokenIndex
type TokenIndex struct {
	BindFunc    func(ctx context.Context, token, key string) error
	ResolveFunc func(ctx context.Context, token string) (string, error)
	UnbindFunc  func(ctx context.Context, token string) error
	ClearFunc   func(ctx context.Context) error

	Calls map[string][]interface{}
}

// NewTokenIndex creates a new mock token index
func NewTokenIndex() *TokenIndex {
	return &TokenIndex{Calls: make(map[string][]interface{})}
}

func (m *TokenIndex) Bind(ctx context.Context, token, key string) error {
	m.Calls["Bind"] = append(m.Calls["Bind"], []string{token, key})
	if m.BindFunc != nil {
		return m.BindFunc(ctx, token, key)
	}
	return nil
}

func (m *TokenIndex) Resolve(ctx context.Context, token string) (string, error) {
	m.Calls["Resolve"] = append(m.Calls["Resolve"], token)
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, token)
	}
	return "", repositories.ErrRecordNotFound
}

func (m *TokenIndex) Unbind(ctx context.Context, token string) error {
	m.Calls["Unbind"] = append(m.Calls["Unbind"], token)
	if m.UnbindFunc != nil {
		return m.UnbindFunc(ctx, token)
	}
	return nil
}

func (m *TokenIndex) Clear(ctx context.Context) error {
	m.Calls["Clear"] = append(m.Calls["Clear"], nil)
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	return nil
}

// Ensure TokenIndex implements the interface
var _ repositories.TokenIndex = (*TokenIndex)(nil)

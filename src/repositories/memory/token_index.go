package memory

import (
	"context"
	"sync"

	"github.com/keygate/keygate-server/src/repositories"
)

// TokenIndex is an in-process TokenIndex.
type TokenIndex struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewTokenIndex creates an empty index
func NewTokenIndex() *TokenIndex {
	return &TokenIndex{tokens: make(map[string]string)}
}

func (t *TokenIndex) Bind(_ context.Context, token, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.tokens[token]; ok {
		if existing == key {
			return nil
		}
		return repositories.ErrTokenAlreadyBound
	}
	t.tokens[token] = key
	return nil
}

func (t *TokenIndex) Resolve(_ context.Context, token string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.tokens[token]
	if !ok {
		return "", repositories.ErrRecordNotFound
	}
	return key, nil
}

func (t *TokenIndex) Unbind(_ context.Context, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
	return nil
}

func (t *TokenIndex) Clear(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = make(map[string]string)
	return nil
}

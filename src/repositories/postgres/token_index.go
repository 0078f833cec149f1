package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate/keygate-server/src/repositories"
)

// TokenIndex stores token bindings. Rows cascade away with their key.
type TokenIndex struct {
	pool *pgxpool.Pool
}

// NewTokenIndex creates a TokenIndex on pool
func NewTokenIndex(pool *pgxpool.Pool) *TokenIndex {
	return &TokenIndex{pool: pool}
}

func (t *TokenIndex) Bind(ctx context.Context, token, key string) error {
	tag, err := t.pool.Exec(ctx,
		`INSERT INTO token_bindings (token, key) VALUES ($1, $2) ON CONFLICT (token) DO NOTHING`,
		token, key)
	if err != nil {
		return wrap("bind token", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := t.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if existing != key {
		return repositories.ErrTokenAlreadyBound
	}
	return nil
}

func (t *TokenIndex) Resolve(ctx context.Context, token string) (string, error) {
	var key string
	if err := t.pool.QueryRow(ctx, `SELECT key FROM token_bindings WHERE token = $1`, token).Scan(&key); err != nil {
		return "", wrap("resolve token", err)
	}
	return key, nil
}

func (t *TokenIndex) Unbind(ctx context.Context, token string) error {
	_, err := t.pool.Exec(ctx, `DELETE FROM token_bindings WHERE token = $1`, token)
	return wrap("unbind token", err)
}

func (t *TokenIndex) Clear(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, `DELETE FROM token_bindings`)
	return wrap("clear tokens", err)
}

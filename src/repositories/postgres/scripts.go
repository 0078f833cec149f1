package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

const scriptColumns = `id, name, description, source, public_token, is_active, created_at, updated_at`

// ScriptStore persists hosted scripts. Writes that change which script is
// active take an exclusive table lock; a partial unique index backs the
// single-active rule.
type ScriptStore struct {
	pool *pgxpool.Pool
}

// NewScriptStore creates a ScriptStore on pool
func NewScriptStore(pool *pgxpool.Pool) *ScriptStore {
	return &ScriptStore{pool: pool}
}

func scanScript(row pgx.Row) (*models.Script, error) {
	var s models.Script
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Source, &s.PublicToken, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// inActivationTx runs fn in a transaction holding the activation lock.
func (s *ScriptStore) inActivationTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap("begin "+op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `LOCK TABLE scripts IN EXCLUSIVE MODE`); err != nil {
		return wrap("lock "+op, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return wrap("commit "+op, tx.Commit(ctx))
}

func (s *ScriptStore) Create(ctx context.Context, sc *models.Script) error {
	return s.inActivationTx(ctx, "create script", func(tx pgx.Tx) error {
		if sc.IsActive {
			if _, err := tx.Exec(ctx, `UPDATE scripts SET is_active = false WHERE is_active`); err != nil {
				return wrap("deactivate scripts", err)
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO scripts (`+scriptColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			sc.ID, sc.Name, sc.Description, sc.Source, sc.PublicToken, sc.IsActive, sc.CreatedAt, sc.UpdatedAt)
		return wrap("insert script", err)
	})
}

func (s *ScriptStore) Get(ctx context.Context, id string) (*models.Script, error) {
	sc, err := scanScript(s.pool.QueryRow(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get script", err)
	}
	return sc, nil
}

func (s *ScriptStore) ByToken(ctx context.Context, token string) (*models.Script, error) {
	sc, err := scanScript(s.pool.QueryRow(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE public_token = $1`, token))
	if err != nil {
		return nil, wrap("get script by token", err)
	}
	return sc, nil
}

func (s *ScriptStore) Active(ctx context.Context) (*models.Script, error) {
	sc, err := scanScript(s.pool.QueryRow(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE is_active`))
	if err != nil {
		return nil, wrap("get active script", err)
	}
	return sc, nil
}

func (s *ScriptStore) List(ctx context.Context) ([]*models.Script, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scriptColumns+` FROM scripts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, wrap("list scripts", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Script, error) {
		return scanScript(row)
	})
	if err != nil {
		return nil, wrap("scan scripts", err)
	}
	return out, nil
}

func (s *ScriptStore) Update(ctx context.Context, id string, fn repositories.ScriptMutateFunc) (*models.Script, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrap("begin update script", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sc, err := scanScript(tx.QueryRow(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrap("lock script", err)
	}
	if err := fn(sc); err != nil {
		return nil, err
	}

	// Identity, token and activation are not editable here.
	row := tx.QueryRow(ctx, `
		UPDATE scripts SET name = $2, description = $3, source = $4, updated_at = $5
		WHERE id = $1 RETURNING `+scriptColumns,
		id, sc.Name, sc.Description, sc.Source, sc.UpdatedAt)
	updated, err := scanScript(row)
	if err != nil {
		return nil, wrap("update script", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrap("commit update script", err)
	}
	return updated, nil
}

func (s *ScriptStore) Activate(ctx context.Context, id string) error {
	return s.inActivationTx(ctx, "activate script", func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scripts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return wrap("find script", err)
		}
		if !exists {
			return repositories.ErrRecordNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE scripts SET is_active = false WHERE is_active AND id <> $1`, id); err != nil {
			return wrap("deactivate scripts", err)
		}
		_, err := tx.Exec(ctx, `UPDATE scripts SET is_active = true WHERE id = $1`, id)
		return wrap("activate script", err)
	})
}

func (s *ScriptStore) DeactivateAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE scripts SET is_active = false WHERE is_active`)
	return wrap("deactivate scripts", err)
}

func (s *ScriptStore) Delete(ctx context.Context, id string) (*models.Script, error) {
	var removed *models.Script
	err := s.inActivationTx(ctx, "delete script", func(tx pgx.Tx) error {
		sc, err := scanScript(tx.QueryRow(ctx, `DELETE FROM scripts WHERE id = $1 RETURNING `+scriptColumns, id))
		if err != nil {
			return wrap("delete script", err)
		}
		removed = sc
		if !sc.IsActive {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE scripts SET is_active = true
			WHERE id = (SELECT id FROM scripts ORDER BY created_at DESC, id DESC LIMIT 1)`)
		return wrap("promote script", err)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

const keyColumns = `key, created_at, expires_at, is_active, usage_count, max_usage, source,
	origin_token, bound_device_id, bound_account_id, bound_account_name`

// KeyStore persists key records in PostgreSQL. Mutate serializes per key with
// SELECT ... FOR UPDATE.
type KeyStore struct {
	pool *pgxpool.Pool
}

// NewKeyStore creates a KeyStore on pool
func NewKeyStore(pool *pgxpool.Pool) *KeyStore {
	return &KeyStore{pool: pool}
}

func scanKey(row pgx.Row) (*models.KeyRecord, error) {
	var (
		rec    models.KeyRecord
		source string
	)
	err := row.Scan(&rec.Key, &rec.CreatedAt, &rec.ExpiresAt, &rec.IsActive, &rec.UsageCount,
		&rec.MaxUsage, &source, &rec.OriginToken, &rec.BoundDeviceID, &rec.BoundAccountID,
		&rec.BoundAccountName)
	if err != nil {
		return nil, err
	}
	rec.Source = models.KeySource(source)
	return &rec, nil
}

func keyArgs(rec *models.KeyRecord) []interface{} {
	return []interface{}{rec.Key, rec.CreatedAt, rec.ExpiresAt, rec.IsActive, rec.UsageCount,
		rec.MaxUsage, string(rec.Source), rec.OriginToken, rec.BoundDeviceID, rec.BoundAccountID,
		rec.BoundAccountName}
}

func (s *KeyStore) Create(ctx context.Context, rec *models.KeyRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_keys (`+keyColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		keyArgs(rec)...)
	return wrap("create key", err)
}

func (s *KeyStore) Put(ctx context.Context, rec *models.KeyRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_keys (`+keyColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (key) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			is_active = EXCLUDED.is_active,
			usage_count = EXCLUDED.usage_count,
			max_usage = EXCLUDED.max_usage,
			source = EXCLUDED.source,
			origin_token = EXCLUDED.origin_token,
			bound_device_id = EXCLUDED.bound_device_id,
			bound_account_id = EXCLUDED.bound_account_id,
			bound_account_name = EXCLUDED.bound_account_name`,
		keyArgs(rec)...)
	return wrap("put key", err)
}

func (s *KeyStore) Get(ctx context.Context, key string) (*models.KeyRecord, error) {
	rec, err := scanKey(s.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM access_keys WHERE key = $1`, key))
	if err != nil {
		return nil, wrap("get key", err)
	}
	return rec, nil
}

func (s *KeyStore) Mutate(ctx context.Context, key string, fn repositories.MutateFunc) (*models.KeyRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrap("begin mutate", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanKey(tx.QueryRow(ctx, `SELECT `+keyColumns+` FROM access_keys WHERE key = $1 FOR UPDATE`, key))
	if err != nil {
		return nil, wrap("lock key", err)
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.Key = key

	_, err = tx.Exec(ctx, `
		UPDATE access_keys SET expires_at = $2, is_active = $3, usage_count = $4, max_usage = $5,
			bound_device_id = $6, bound_account_id = $7, bound_account_name = $8
		WHERE key = $1`,
		rec.Key, rec.ExpiresAt, rec.IsActive, rec.UsageCount, rec.MaxUsage,
		rec.BoundDeviceID, rec.BoundAccountID, rec.BoundAccountName)
	if err != nil {
		return nil, wrap("update key", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrap("commit mutate", err)
	}
	return rec, nil
}

func (s *KeyStore) Delete(ctx context.Context, key string) (*models.KeyRecord, error) {
	rec, err := scanKey(s.pool.QueryRow(ctx, `DELETE FROM access_keys WHERE key = $1 RETURNING `+keyColumns, key))
	if err != nil {
		return nil, wrap("delete key", err)
	}
	return rec, nil
}

var sortClauses = map[models.KeySort]string{
	models.SortCreatedDesc: "created_at DESC, key",
	models.SortCreatedAsc:  "created_at ASC, key",
	models.SortExpiresAsc:  "expires_at ASC NULLS LAST, key",
	models.SortUsageDesc:   "usage_count DESC, key",
}

func (s *KeyStore) List(ctx context.Context, q models.KeyQuery) (*models.KeyPage, error) {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}

	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch q.Filter {
	case models.FilterActive:
		where = append(where, "is_active AND (expires_at IS NULL OR expires_at >= "+arg(now)+")")
	case models.FilterExpired:
		where = append(where, "expires_at < "+arg(now))
	case models.FilterFunnel:
		where = append(where, "source = "+arg(string(models.SourceExternalFunnel)))
	case models.FilterAdmin:
		where = append(where, "source = "+arg(string(models.SourceAdministrative)))
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		p := arg("%" + strings.ToLower(search) + "%")
		where = append(where, fmt.Sprintf(
			"(lower(key) LIKE %[1]s OR lower(coalesce(bound_account_name,'')) LIKE %[1]s OR lower(coalesce(bound_account_id,'')) LIKE %[1]s OR lower(coalesce(origin_token,'')) LIKE %[1]s)", p))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	page := &models.KeyPage{Items: []*models.KeyRecord{}}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM access_keys`+cond, args...).Scan(&page.Total); err != nil {
		return nil, wrap("count keys", err)
	}

	order, ok := sortClauses[q.Sort]
	if !ok {
		order = sortClauses[models.SortCreatedDesc]
	}
	query := `SELECT ` + keyColumns + ` FROM access_keys` + cond + ` ORDER BY ` + order
	if q.PageSize > 0 {
		p := q.Page
		if p < 1 {
			p = 1
		}
		query += " LIMIT " + arg(q.PageSize) + " OFFSET " + arg((p-1)*q.PageSize)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list keys", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return nil, wrap("scan key", err)
		}
		page.Items = append(page.Items, rec)
	}
	return page, wrap("list keys", rows.Err())
}

func (s *KeyStore) SweepExpired(ctx context.Context, now time.Time) ([]*models.KeyRecord, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM access_keys WHERE expires_at < $1 RETURNING `+keyColumns, now)
	if err != nil {
		return nil, wrap("sweep keys", err)
	}
	defer rows.Close()

	var removed []*models.KeyRecord
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return removed, wrap("scan swept key", err)
		}
		removed = append(removed, rec)
	}
	return removed, wrap("sweep keys", rows.Err())
}

func (s *KeyStore) DeleteAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM access_keys`)
	return wrap("delete all keys", err)
}

func (s *KeyStore) Counts(ctx context.Context, now time.Time) (models.KeyCounts, error) {
	var c models.KeyCounts
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE is_active AND (expires_at IS NULL OR expires_at >= $1))
		FROM access_keys`, now).Scan(&c.Total, &c.Active)
	return c, wrap("count keys", err)
}

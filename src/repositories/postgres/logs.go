package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate/keygate-server/src/models"
)

// AuditLog stores validation attempts without a cap.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates an AuditLog on pool
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

func (a *AuditLog) Append(ctx context.Context, e *models.AuditLogEntry) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO check_logs (id, at, key, ok, reason, device_id, account_id, account_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Timestamp, e.Key, e.OK, string(e.Reason), e.DeviceID, e.AccountID, e.AccountName)
	return wrap("append audit", err)
}

func (a *AuditLog) Recent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := a.pool.Query(ctx, `
		SELECT id, at, key, ok, reason, coalesce(device_id,''), coalesce(account_id,''), coalesce(account_name,'')
		FROM check_logs ORDER BY at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, wrap("recent audit", err)
	}
	defer rows.Close()

	var out []*models.AuditLogEntry
	for rows.Next() {
		var (
			e      models.AuditLogEntry
			reason string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Key, &e.OK, &reason, &e.DeviceID, &e.AccountID, &e.AccountName); err != nil {
			return nil, wrap("scan audit", err)
		}
		e.Reason = models.ReasonCode(reason)
		out = append(out, &e)
	}
	return out, wrap("recent audit", rows.Err())
}

func (a *AuditLog) Count(ctx context.Context) (int, error) {
	var n int
	err := a.pool.QueryRow(ctx, `SELECT count(*) FROM check_logs`).Scan(&n)
	return n, wrap("count audit", err)
}

func (a *AuditLog) DailyCounts(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT to_char(at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, count(*)
		FROM check_logs WHERE at >= $1 GROUP BY day ORDER BY day`, since)
	if err != nil {
		return nil, wrap("daily audit", err)
	}
	return collectDaily(rows)
}

func (a *AuditLog) Clear(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM check_logs`)
	return wrap("clear audit", err)
}

// EventLog stores counted events without a cap.
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog creates an EventLog on pool
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

func (l *EventLog) Record(ctx context.Context, ev *models.Event) error {
	_, err := l.pool.Exec(ctx, `INSERT INTO key_events (id, at, type, key) VALUES ($1, $2, $3, NULLIF($4, ''))`,
		ev.ID, ev.Timestamp, string(ev.Type), ev.Key)
	return wrap("record event", err)
}

func (l *EventLog) Count(ctx context.Context, typ models.EventType, since time.Time) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx, `SELECT count(*) FROM key_events WHERE type = $1 AND at >= $2`,
		string(typ), since).Scan(&n)
	return n, wrap("count events", err)
}

func (l *EventLog) DailyCounts(ctx context.Context, typ models.EventType, since time.Time) ([]models.DailyCount, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT to_char(at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, count(*)
		FROM key_events WHERE type = $1 AND at >= $2 GROUP BY day ORDER BY day`, string(typ), since)
	if err != nil {
		return nil, wrap("daily events", err)
	}
	return collectDaily(rows)
}

func (l *EventLog) Clear(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM key_events`)
	return wrap("clear events", err)
}

func collectDaily(rows pgx.Rows) ([]models.DailyCount, error) {
	defer rows.Close()
	var out []models.DailyCount
	for rows.Next() {
		var d models.DailyCount
		if err := rows.Scan(&d.Day, &d.Count); err != nil {
			return nil, wrap("scan daily", err)
		}
		out = append(out, d)
	}
	return out, wrap("daily counts", rows.Err())
}

// FunnelConfigStore keeps the single funnel configuration row.
type FunnelConfigStore struct {
	pool *pgxpool.Pool
}

// NewFunnelConfigStore creates a FunnelConfigStore on pool
func NewFunnelConfigStore(pool *pgxpool.Pool) *FunnelConfigStore {
	return &FunnelConfigStore{pool: pool}
}

func (f *FunnelConfigStore) Load(ctx context.Context) (*models.FunnelConfig, error) {
	var (
		raw []byte
		cfg models.FunnelConfig
	)
	err := f.pool.QueryRow(ctx, `SELECT groups, updated_at FROM funnel_config WHERE id = 1`).Scan(&raw, &cfg.UpdatedAt)
	if err != nil {
		return nil, wrap("load funnel", err)
	}
	if err := json.Unmarshal(raw, &cfg.Groups); err != nil {
		return nil, wrap("decode funnel", err)
	}
	return &cfg, nil
}

func (f *FunnelConfigStore) Save(ctx context.Context, cfg *models.FunnelConfig) error {
	raw, err := json.Marshal(cfg.Groups)
	if err != nil {
		return wrap("encode funnel", err)
	}
	_, err = f.pool.Exec(ctx, `
		INSERT INTO funnel_config (id, groups, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET groups = EXCLUDED.groups, updated_at = EXCLUDED.updated_at`,
		raw, cfg.UpdatedAt)
	return wrap("save funnel", err)
}

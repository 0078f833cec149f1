package repositories

import (
	"context"
	"time"

	"github.com/keygate/keygate-server/src/models"
)

// MutateFunc edits a private copy of a record. Returning an error aborts the
// mutation and leaves the stored record untouched.
type MutateFunc func(rec *models.KeyRecord) error

// KeyStore is the single source of truth for key records.
type KeyStore interface {
	// Create inserts rec, failing with ErrDuplicateKey if the key exists.
	Create(ctx context.Context, rec *models.KeyRecord) error
	// Put inserts or replaces rec.
	Put(ctx context.Context, rec *models.KeyRecord) error
	Get(ctx context.Context, key string) (*models.KeyRecord, error)
	// Mutate runs fn atomically with respect to every other Mutate on the
	// same key and returns the committed record.
	Mutate(ctx context.Context, key string, fn MutateFunc) (*models.KeyRecord, error)
	// Delete removes the key and returns the removed record.
	Delete(ctx context.Context, key string) (*models.KeyRecord, error)
	List(ctx context.Context, q models.KeyQuery) (*models.KeyPage, error)
	// SweepExpired removes records with expiresAt < now and returns them.
	SweepExpired(ctx context.Context, now time.Time) ([]*models.KeyRecord, error)
	DeleteAll(ctx context.Context) error
	Counts(ctx context.Context, now time.Time) (models.KeyCounts, error)
}

// TokenIndex maps external one-time tokens to keys.
type TokenIndex interface {
	// Bind is a no-op when token already maps to key and fails with
	// ErrTokenAlreadyBound when it maps elsewhere.
	Bind(ctx context.Context, token, key string) error
	Resolve(ctx context.Context, token string) (string, error)
	Unbind(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// AuditLog stores validation attempts, newest last.
type AuditLog interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error)
	Count(ctx context.Context) (int, error)
	DailyCounts(ctx context.Context, since time.Time) ([]models.DailyCount, error)
	Clear(ctx context.Context) error
}

// EventLog stores counted occurrences.
type EventLog interface {
	Record(ctx context.Context, ev *models.Event) error
	Count(ctx context.Context, typ models.EventType, since time.Time) (int, error)
	DailyCounts(ctx context.Context, typ models.EventType, since time.Time) ([]models.DailyCount, error)
	Clear(ctx context.Context) error
}

// FunnelConfigStore persists the checkpoint configuration.
type FunnelConfigStore interface {
	// Load returns ErrRecordNotFound when nothing has been saved yet.
	Load(ctx context.Context) (*models.FunnelConfig, error)
	Save(ctx context.Context, cfg *models.FunnelConfig) error
}

// SettingsStore persists the runtime settings.
type SettingsStore interface {
	// Load returns ErrRecordNotFound when nothing has been saved yet.
	Load(ctx context.Context) (*models.RuntimeSettings, error)
	Save(ctx context.Context, s *models.RuntimeSettings) error
}

// ScriptMutateFunc edits a private copy of a script.
type ScriptMutateFunc func(s *models.Script) error

// ScriptStore holds hosted scripts. Implementations keep at most one script
// active.
type ScriptStore interface {
	// Create inserts s. An active s deactivates every other script.
	Create(ctx context.Context, s *models.Script) error
	Get(ctx context.Context, id string) (*models.Script, error)
	ByToken(ctx context.Context, token string) (*models.Script, error)
	// Active returns ErrRecordNotFound when no script is active.
	Active(ctx context.Context) (*models.Script, error)
	// List returns every script, newest first.
	List(ctx context.Context) ([]*models.Script, error)
	Update(ctx context.Context, id string, fn ScriptMutateFunc) (*models.Script, error)
	// Activate makes id the only active script.
	Activate(ctx context.Context, id string) error
	DeactivateAll(ctx context.Context) error
	// Delete removes id and returns it. When the removed script was active
	// the newest remaining script becomes active.
	Delete(ctx context.Context, id string) (*models.Script, error)
}

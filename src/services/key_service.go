package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/logging"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	// MaxKeyLifetimeHours bounds expiry and extension requests.
	MaxKeyLifetimeHours = 24 * 365 * 100
	// MaxKeyLifetime is MaxKeyLifetimeHours as a duration.
	MaxKeyLifetime = MaxKeyLifetimeHours * time.Hour
)

// KeyService implements the admin commands over keys and logs. Commands on a
// missing key are no-ops reported through the found flag.
type KeyService struct {
	keys   repositories.KeyStore
	tokens repositories.TokenIndex
	audit  repositories.AuditLog
	events repositories.EventLog
	logger zerolog.Logger
	now    func() time.Time
}

// NewKeyService creates a new key service
func NewKeyService(keys repositories.KeyStore, tokens repositories.TokenIndex, audit repositories.AuditLog, events repositories.EventLog) *KeyService {
	return &KeyService{
		keys:   keys,
		tokens: tokens,
		audit:  audit,
		events: events,
		logger: logging.NewLogger("keys"),
		now:    time.Now,
	}
}

// Get returns one key, or nil when it does not exist.
func (ks *KeyService) Get(ctx context.Context, key string) (*models.KeyRecord, error) {
	rec, err := ks.keys.Get(ctx, NormalizeKey(key))
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

// List returns a snapshot page of keys.
func (ks *KeyService) List(ctx context.Context, q models.KeyQuery) (*models.KeyPage, error) {
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Now.IsZero() {
		q.Now = ks.now()
	}
	return ks.keys.List(ctx, q)
}

// Deactivate marks a key inactive.
func (ks *KeyService) Deactivate(ctx context.Context, key string) (bool, error) {
	_, err := ks.keys.Mutate(ctx, NormalizeKey(key), func(r *models.KeyRecord) error {
		r.IsActive = false
		return nil
	})
	return found(err)
}

// Delete removes a key and unbinds its origin token.
func (ks *KeyService) Delete(ctx context.Context, key string) (bool, error) {
	rec, err := ks.keys.Delete(ctx, NormalizeKey(key))
	if ok, err := found(err); !ok || err != nil {
		return ok, err
	}
	ks.unbind(ctx, rec)
	ks.logger.Info().Str("key", rec.Key).Msg("Key deleted")
	return true, nil
}

// Extend sets expiresAt to max(now, expiresAt) + d. A key that never expired
// gets now + d.
func (ks *KeyService) Extend(ctx context.Context, key string, d time.Duration) (*models.KeyRecord, error) {
	if d <= 0 || d > MaxKeyLifetime {
		return nil, ErrInvalidDuration
	}
	rec, err := ks.keys.Mutate(ctx, NormalizeKey(key), func(r *models.KeyRecord) error {
		base := ks.now()
		if r.ExpiresAt != nil && r.ExpiresAt.After(base) {
			base = *r.ExpiresAt
		}
		r.ExpiresAt = models.Ptr(base.Add(d))
		return nil
	})
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

// DeleteExpired removes every expired key and returns how many went.
func (ks *KeyService) DeleteExpired(ctx context.Context) (int, error) {
	removed, err := ks.keys.SweepExpired(ctx, ks.now())
	for _, rec := range removed {
		ks.unbind(ctx, rec)
	}
	return len(removed), err
}

// RecentLogs returns the newest audit entries.
func (ks *KeyService) RecentLogs(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	entries, err := ks.audit.Recent(ctx, limit)
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}
	return entries, err
}

// ClearLogs empties the audit log.
func (ks *KeyService) ClearLogs(ctx context.Context) error {
	return ks.audit.Clear(ctx)
}

// ClearAll wipes keys, bindings, the audit log and events.
func (ks *KeyService) ClearAll(ctx context.Context) error {
	if err := ks.tokens.Clear(ctx); err != nil {
		return err
	}
	if err := ks.keys.DeleteAll(ctx); err != nil {
		return err
	}
	if err := ks.audit.Clear(ctx); err != nil {
		return err
	}
	if err := ks.events.Clear(ctx); err != nil {
		return err
	}
	ks.logger.Warn().Msg("All state cleared")
	return nil
}

func (ks *KeyService) unbind(ctx context.Context, rec *models.KeyRecord) {
	if rec.OriginToken == nil {
		return
	}
	if err := ks.tokens.Unbind(ctx, *rec.OriginToken); err != nil {
		ks.logger.Warn().Err(err).Str("key", rec.Key).Msg("Failed to unbind origin token")
	}
}

func found(err error) (bool, error) {
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

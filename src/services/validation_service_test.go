package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
	"github.com/keygate/keygate-server/src/repositories/memory"
	"github.com/keygate/keygate-server/src/repositories/mock"
)

type validationFixture struct {
	svc    *ValidationService
	keys   *memory.KeyStore
	tokens *memory.TokenIndex
	audit  *memory.AuditLog
	events *memory.EventLog
	now    time.Time
}

func newValidationFixture(t *testing.T) *validationFixture {
	t.Helper()
	f := &validationFixture{
		keys:   memory.NewKeyStore(),
		tokens: memory.NewTokenIndex(),
		audit:  memory.NewAuditLog(300),
		events: memory.NewEventLog(2000),
		now:    time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewValidationService(f.keys, f.tokens, f.audit, f.events, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *validationFixture) put(t *testing.T, rec *models.KeyRecord) {
	t.Helper()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = f.now
	}
	if rec.Source == "" {
		rec.Source = models.SourceAdministrative
	}
	require.NoError(t, f.keys.Create(context.Background(), rec))
}

func TestValidate_NoKey(t *testing.T) {
	f := newValidationFixture(t)

	res, err := f.svc.Validate(context.Background(), ValidateRequest{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, models.ReasonNoKey, res.Reason)

	res, err = f.svc.Validate(context.Background(), ValidateRequest{Token: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNoKey, res.Reason)

	n, _ := f.audit.Count(context.Background())
	assert.Equal(t, 2, n, "every call is audited")
}

func TestValidate_NotFound(t *testing.T) {
	f := newValidationFixture(t)

	res, err := f.svc.Validate(context.Background(), ValidateRequest{Key: "missing"})
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNotFound, res.Reason)

	entries, _ := f.audit.Recent(context.Background(), 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "MISSING", *entries[0].Key)
}

func TestValidate_ResolvesToken(t *testing.T) {
	f := newValidationFixture(t)
	f.put(t, &models.KeyRecord{Key: "ABCD1234", IsActive: true})
	require.NoError(t, f.tokens.Bind(context.Background(), "tok", "ABCD1234"))

	res, err := f.svc.Validate(context.Background(), ValidateRequest{Token: "tok"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "ABCD1234", res.Key)
}

func TestValidate_MaxUsageOne(t *testing.T) {
	f := newValidationFixture(t)
	f.put(t, &models.KeyRecord{Key: "ONCE0001", IsActive: true, MaxUsage: models.Ptr(1)})
	ctx := context.Background()

	first, err := f.svc.Validate(ctx, ValidateRequest{Key: "once0001"})
	require.NoError(t, err)
	assert.True(t, first.Valid)

	second, err := f.svc.Validate(ctx, ValidateRequest{Key: "ONCE0001"})
	require.NoError(t, err)
	assert.False(t, second.Valid)
	assert.Equal(t, models.ReasonLimitReached, second.Reason)

	rec, _ := f.keys.Get(ctx, "ONCE0001")
	assert.Equal(t, 1, rec.UsageCount)

	used, _ := f.events.Count(ctx, models.EventKeyUsed, time.Time{})
	assert.Equal(t, 1, used, "used event only on OK")
}

func TestValidate_ConcurrentNeverExceedsLimit(t *testing.T) {
	f := newValidationFixture(t)
	const limit = 5
	f.put(t, &models.KeyRecord{Key: "METERED1", IsActive: true, MaxUsage: models.Ptr(limit)})

	var (
		wg sync.WaitGroup
		ok int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Validate(context.Background(), ValidateRequest{Key: "METERED1"})
			if err == nil && res.Valid {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), ok)
	rec, _ := f.keys.Get(context.Background(), "METERED1")
	assert.Equal(t, limit, rec.UsageCount)
}

func TestValidate_Deactivated(t *testing.T) {
	f := newValidationFixture(t)
	f.put(t, &models.KeyRecord{Key: "OFF00001", IsActive: true})
	ctx := context.Background()
	_, err := f.keys.Mutate(ctx, "OFF00001", func(r *models.KeyRecord) error {
		r.IsActive = false
		return nil
	})
	require.NoError(t, err)

	res, err := f.svc.Validate(ctx, ValidateRequest{Key: "OFF00001"})
	require.NoError(t, err)
	assert.Equal(t, models.ReasonInactive, res.Reason)

	rec, _ := f.keys.Get(ctx, "OFF00001")
	assert.Equal(t, 0, rec.UsageCount)
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	f := newValidationFixture(t)
	ctx := context.Background()
	f.put(t, &models.KeyRecord{Key: "PAST0001", IsActive: true, ExpiresAt: models.Ptr(f.now.Add(-time.Second))})
	f.put(t, &models.KeyRecord{Key: "FUTR0001", IsActive: true, ExpiresAt: models.Ptr(f.now.Add(time.Second))})

	res, _ := f.svc.Validate(ctx, ValidateRequest{Key: "PAST0001"})
	assert.Equal(t, models.ReasonExpired, res.Reason)

	res, _ = f.svc.Validate(ctx, ValidateRequest{Key: "FUTR0001"})
	assert.Equal(t, models.ReasonOK, res.Reason)
}

func TestValidate_StickyBinding(t *testing.T) {
	f := newValidationFixture(t)
	ctx := context.Background()
	f.put(t, &models.KeyRecord{Key: "STICKY01", IsActive: true})

	_, err := f.svc.Validate(ctx, ValidateRequest{Key: "STICKY01", DeviceID: "A", AccountID: "1", AccountName: "first"})
	require.NoError(t, err)
	res, err := f.svc.Validate(ctx, ValidateRequest{Key: "STICKY01", DeviceID: "B", AccountID: "2", AccountName: "second"})
	require.NoError(t, err)
	assert.True(t, res.Valid, "binding does not gate validity")

	rec, _ := f.keys.Get(ctx, "STICKY01")
	assert.Equal(t, "A", *rec.BoundDeviceID)
	assert.Equal(t, "1", *rec.BoundAccountID)
	assert.Equal(t, "first", *rec.BoundAccountName)
	assert.Equal(t, 2, rec.UsageCount)
}

func TestValidate_AccountNameBindsOnlyWithAccount(t *testing.T) {
	f := newValidationFixture(t)
	ctx := context.Background()
	f.put(t, &models.KeyRecord{Key: "NAMED001", IsActive: true})
	f.put(t, &models.KeyRecord{Key: "NAMED002", IsActive: true})

	_, err := f.svc.Validate(ctx, ValidateRequest{Key: "NAMED001", AccountID: "111"})
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, ValidateRequest{Key: "NAMED001", AccountID: "222", AccountName: "intruder"})
	require.NoError(t, err)

	rec, _ := f.keys.Get(ctx, "NAMED001")
	assert.Equal(t, "111", *rec.BoundAccountID)
	assert.Nil(t, rec.BoundAccountName)

	_, err = f.svc.Validate(ctx, ValidateRequest{Key: "NAMED002", AccountName: "nameless"})
	require.NoError(t, err)
	rec, _ = f.keys.Get(ctx, "NAMED002")
	assert.Nil(t, rec.BoundAccountID)
	assert.Nil(t, rec.BoundAccountName)
}

func TestValidate_AuditFailureDoesNotFailOutcome(t *testing.T) {
	keys := memory.NewKeyStore()
	audit := mock.NewAuditLog()
	audit.AppendFunc = func(context.Context, *models.AuditLogEntry) error { return errors.New("disk full") }
	require.NoError(t, keys.Create(context.Background(), &models.KeyRecord{Key: "AUDIT001", IsActive: true, CreatedAt: time.Now()}))

	svc := NewValidationService(keys, memory.NewTokenIndex(), audit, nil, nil)
	res, err := svc.Validate(context.Background(), ValidateRequest{Key: "AUDIT001"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Len(t, audit.Calls["Append"], 1)
}

func TestValidate_StoreFailurePropagates(t *testing.T) {
	keys := mock.NewKeyStore()
	keys.MutateFunc = func(context.Context, string, repositories.MutateFunc) (*models.KeyRecord, error) {
		return nil, repositories.ErrStoreUnavailable
	}
	audit := mock.NewAuditLog()

	svc := NewValidationService(keys, memory.NewTokenIndex(), audit, nil, nil)
	_, err := svc.Validate(context.Background(), ValidateRequest{Key: "ANY"})
	assert.ErrorIs(t, err, repositories.ErrStoreUnavailable)
	assert.Empty(t, audit.Calls["Append"])
}

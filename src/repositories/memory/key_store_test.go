package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

func newRecord(key string, created time.Time) *models.KeyRecord {
	return &models.KeyRecord{
		Key:       key,
		CreatedAt: created,
		IsActive:  true,
		Source:    models.SourceAdministrative,
	}
}

func TestKeyStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewKeyStore()

	require.NoError(t, s.Create(ctx, newRecord("AAAA", time.Now())))
	err := s.Create(ctx, newRecord("AAAA", time.Now()))
	assert.ErrorIs(t, err, repositories.ErrDuplicateKey)
}

func TestKeyStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewKeyStore()
	require.NoError(t, s.Create(ctx, newRecord("AAAA", time.Now())))

	rec, err := s.Get(ctx, "AAAA")
	require.NoError(t, err)
	rec.UsageCount = 99

	again, err := s.Get(ctx, "AAAA")
	require.NoError(t, err)
	assert.Equal(t, 0, again.UsageCount)
}

func TestKeyStore_GetMissing(t *testing.T) {
	_, err := NewKeyStore().Get(context.Background(), "NOPE")
	assert.ErrorIs(t, err, repositories.ErrRecordNotFound)
}

func TestKeyStore_MutateAbortLeavesRecord(t *testing.T) {
	ctx := context.Background()
	s := NewKeyStore()
	require.NoError(t, s.Create(ctx, newRecord("AAAA", time.Now())))

	boom := errors.New("boom")
	_, err := s.Mutate(ctx, "AAAA", func(rec *models.KeyRecord) error {
		rec.UsageCount = 5
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, _ := s.Get(ctx, "AAAA")
	assert.Equal(t, 0, rec.UsageCount)
}

func TestKeyStore_ConcurrentMutateNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewKeyStore()
	require.NoError(t, s.Create(ctx, newRecord("AAAA", time.Now())))

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Mutate(ctx, "AAAA", func(rec *models.KeyRecord) error {
				rec.UsageCount++
				return nil
			})
		}()
	}
	wg.Wait()

	rec, _ := s.Get(ctx, "AAAA")
	assert.Equal(t, workers, rec.UsageCount)
}

func TestKeyStore_DeleteReturnsRecord(t *testing.T) {
	ctx := context.Background()
	s := NewKeyStore()
	rec := newRecord("AAAA", time.Now())
	rec.OriginToken = models.Ptr("tok")
	require.NoError(t, s.Create(ctx, rec))

	removed, err := s.Delete(ctx, "AAAA")
	require.NoError(t, err)
	assert.Equal(t, "tok", *removed.OriginToken)

	_, err = s.Delete(ctx, "AAAA")
	assert.ErrorIs(t, err, repositories.ErrRecordNotFound)
	_, err = s.Mutate(ctx, "AAAA", func(*models.KeyRecord) error { return nil })
	assert.ErrorIs(t, err, repositories.ErrRecordNotFound)
}

func TestKeyStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	s := NewKeyStore()
	now := time.Now()

	expired := newRecord("OLD1", now)
	expired.ExpiresAt = models.Ptr(now.Add(-time.Second))
	live := newRecord("LIVE", now)
	live.ExpiresAt = models.Ptr(now.Add(time.Hour))
	never := newRecord("EVER", now)

	for _, r := range []*models.KeyRecord{expired, live, never} {
		require.NoError(t, s.Create(ctx, r))
	}

	removed, err := s.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "OLD1", removed[0].Key)

	counts, _ := s.Counts(ctx, now)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 2, counts.Active)
}

func TestKeyStore_ListFilterSearchPage(t *testing.T) {
	ctx := context.Background()
	s := NewKeyStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r := newRecord(fmt.Sprintf("KEY%d", i), base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			r.Source = models.SourceExternalFunnel
		}
		require.NoError(t, s.Create(ctx, r))
	}
	named := newRecord("ZED1", base.Add(time.Hour))
	named.BoundAccountName = models.Ptr("PlayerOne")
	require.NoError(t, s.Create(ctx, named))

	page, err := s.List(ctx, models.KeyQuery{Filter: models.FilterFunnel, Now: base})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, "KEY4", page.Items[0].Key, "default sort is newest first")

	page, err = s.List(ctx, models.KeyQuery{Search: "playerone", Now: base})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "ZED1", page.Items[0].Key)

	page, err = s.List(ctx, models.KeyQuery{Sort: models.SortCreatedAsc, Page: 2, PageSize: 2, Now: base})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "KEY2", page.Items[0].Key)

	page, err = s.List(ctx, models.KeyQuery{Page: 9, PageSize: 2, Now: base})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestKeyStore_PutReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewKeyStore()
	require.NoError(t, s.Put(ctx, newRecord("AAAA", time.Now())))

	r := newRecord("AAAA", time.Now())
	r.UsageCount = 3
	require.NoError(t, s.Put(ctx, r))

	got, _ := s.Get(ctx, "AAAA")
	assert.Equal(t, 3, got.UsageCount)
}

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

// entry guards one record. Lock order is store.mu before entry.mu; no code
// path acquires store.mu while holding an entry lock.
type entry struct {
	mu      sync.Mutex
	rec     *models.KeyRecord
	deleted bool
}

// KeyStore is an in-process KeyStore. Mutations on different keys only share
// the brief map read lock.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]*entry
}

// NewKeyStore creates an empty store
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]*entry)}
}

func (s *KeyStore) Create(_ context.Context, rec *models.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[rec.Key]; ok {
		return repositories.ErrDuplicateKey
	}
	s.keys[rec.Key] = &entry{rec: rec.Clone()}
	return nil
}

func (s *KeyStore) Put(_ context.Context, rec *models.KeyRecord) error {
	s.mu.Lock()
	old := s.keys[rec.Key]
	s.keys[rec.Key] = &entry{rec: rec.Clone()}
	s.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		old.deleted = true
		old.mu.Unlock()
	}
	return nil
}

func (s *KeyStore) lookup(key string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[key]
}

func (s *KeyStore) Get(_ context.Context, key string) (*models.KeyRecord, error) {
	for {
		e := s.lookup(key)
		if e == nil {
			return nil, repositories.ErrRecordNotFound
		}
		e.mu.Lock()
		if e.deleted {
			e.mu.Unlock()
			continue
		}
		rec := e.rec.Clone()
		e.mu.Unlock()
		return rec, nil
	}
}

func (s *KeyStore) Mutate(_ context.Context, key string, fn repositories.MutateFunc) (*models.KeyRecord, error) {
	for {
		e := s.lookup(key)
		if e == nil {
			return nil, repositories.ErrRecordNotFound
		}
		e.mu.Lock()
		if e.deleted {
			// Replaced or removed between lookup and lock; look again.
			e.mu.Unlock()
			continue
		}
		draft := e.rec.Clone()
		if err := fn(draft); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		draft.Key = e.rec.Key
		e.rec = draft
		out := draft.Clone()
		e.mu.Unlock()
		return out, nil
	}
}

func (s *KeyStore) Delete(_ context.Context, key string) (*models.KeyRecord, error) {
	s.mu.Lock()
	e, ok := s.keys[key]
	if ok {
		delete(s.keys, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil, repositories.ErrRecordNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = true
	return e.rec.Clone(), nil
}

func (s *KeyStore) snapshot() []*models.KeyRecord {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.keys))
	for _, e := range s.keys {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*models.KeyRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.rec.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

func (s *KeyStore) List(_ context.Context, q models.KeyQuery) (*models.KeyPage, error) {
	all := s.snapshot()
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}

	matched := make([]*models.KeyRecord, 0, len(all))
	search := strings.ToLower(strings.TrimSpace(q.Search))
	for _, rec := range all {
		if matchesFilter(rec, q.Filter, now) && matchesSearch(rec, search) {
			matched = append(matched, rec)
		}
	}
	sortRecords(matched, q.Sort)

	page := &models.KeyPage{Total: len(matched), Items: []*models.KeyRecord{}}
	start, end := pageBounds(q.Page, q.PageSize, len(matched))
	page.Items = append(page.Items, matched[start:end]...)
	return page, nil
}

func (s *KeyStore) SweepExpired(ctx context.Context, now time.Time) ([]*models.KeyRecord, error) {
	var candidates []string
	for _, rec := range s.snapshot() {
		if rec.IsExpired(now) {
			candidates = append(candidates, rec.Key)
		}
	}

	var removed []*models.KeyRecord
	for _, key := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s.mu.Lock()
		e, ok := s.keys[key]
		if ok {
			e.mu.Lock()
			// An extend may have landed since the snapshot.
			if !e.deleted && e.rec.IsExpired(now) {
				delete(s.keys, key)
				e.deleted = true
				removed = append(removed, e.rec.Clone())
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (s *KeyStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	old := s.keys
	s.keys = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range old {
		e.mu.Lock()
		e.deleted = true
		e.mu.Unlock()
	}
	return nil
}

func (s *KeyStore) Counts(_ context.Context, now time.Time) (models.KeyCounts, error) {
	var c models.KeyCounts
	for _, rec := range s.snapshot() {
		c.Total++
		if rec.IsActive && !rec.IsExpired(now) {
			c.Active++
		}
	}
	return c, nil
}

func matchesFilter(rec *models.KeyRecord, f models.KeyFilter, now time.Time) bool {
	switch f {
	case models.FilterActive:
		return rec.IsActive && !rec.IsExpired(now)
	case models.FilterExpired:
		return rec.IsExpired(now)
	case models.FilterFunnel:
		return rec.Source == models.SourceExternalFunnel
	case models.FilterAdmin:
		return rec.Source == models.SourceAdministrative
	default:
		return true
	}
}

func matchesSearch(rec *models.KeyRecord, q string) bool {
	if q == "" {
		return true
	}
	for _, field := range []*string{&rec.Key, rec.BoundAccountName, rec.BoundAccountID, rec.OriginToken} {
		if field != nil && strings.Contains(strings.ToLower(*field), q) {
			return true
		}
	}
	return false
}

func sortRecords(recs []*models.KeyRecord, by models.KeySort) {
	var less func(a, b *models.KeyRecord) bool
	switch by {
	case models.SortCreatedAsc:
		less = func(a, b *models.KeyRecord) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case models.SortExpiresAsc:
		// Keys without expiry sort last.
		less = func(a, b *models.KeyRecord) bool {
			if a.ExpiresAt == nil || b.ExpiresAt == nil {
				return a.ExpiresAt != nil
			}
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
	case models.SortUsageDesc:
		less = func(a, b *models.KeyRecord) bool { return a.UsageCount > b.UsageCount }
	default:
		less = func(a, b *models.KeyRecord) bool { return a.CreatedAt.After(b.CreatedAt) }
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if less(recs[i], recs[j]) {
			return true
		}
		if less(recs[j], recs[i]) {
			return false
		}
		return recs[i].Key < recs[j].Key
	})
}

func pageBounds(page, size, total int) (int, int) {
	if size <= 0 {
		return 0, total
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return start, end
}

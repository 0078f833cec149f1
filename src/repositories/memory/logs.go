package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

// AuditLog keeps the most recent validation attempts.
type AuditLog struct {
	entries *ring[*models.AuditLogEntry]
}

// NewAuditLog creates an audit log holding at most capacity entries
func NewAuditLog(capacity int) *AuditLog {
	return &AuditLog{entries: newRing[*models.AuditLogEntry](capacity)}
}

func (a *AuditLog) Append(_ context.Context, entry *models.AuditLogEntry) error {
	cp := *entry
	a.entries.push(&cp)
	return nil
}

func (a *AuditLog) Recent(_ context.Context, limit int) ([]*models.AuditLogEntry, error) {
	return a.entries.newest(limit), nil
}

func (a *AuditLog) Count(_ context.Context) (int, error) {
	return a.entries.len(), nil
}

func (a *AuditLog) DailyCounts(_ context.Context, since time.Time) ([]models.DailyCount, error) {
	var times []time.Time
	for _, e := range a.entries.newest(0) {
		if !e.Timestamp.Before(since) {
			times = append(times, e.Timestamp)
		}
	}
	return bucketByDay(times), nil
}

func (a *AuditLog) Clear(_ context.Context) error {
	a.entries.clear()
	return nil
}

// EventLog keeps the most recent counted events.
type EventLog struct {
	events *ring[*models.Event]
}

// NewEventLog creates an event log holding at most capacity events
func NewEventLog(capacity int) *EventLog {
	return &EventLog{events: newRing[*models.Event](capacity)}
}

func (l *EventLog) Record(_ context.Context, ev *models.Event) error {
	cp := *ev
	l.events.push(&cp)
	return nil
}

func (l *EventLog) Count(_ context.Context, typ models.EventType, since time.Time) (int, error) {
	n := 0
	for _, ev := range l.events.newest(0) {
		if ev.Type == typ && !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (l *EventLog) DailyCounts(_ context.Context, typ models.EventType, since time.Time) ([]models.DailyCount, error) {
	var times []time.Time
	for _, ev := range l.events.newest(0) {
		if ev.Type == typ && !ev.Timestamp.Before(since) {
			times = append(times, ev.Timestamp)
		}
	}
	return bucketByDay(times), nil
}

func (l *EventLog) Clear(_ context.Context) error {
	l.events.clear()
	return nil
}

// FunnelConfigStore holds the checkpoint configuration in memory.
type FunnelConfigStore struct {
	mu  sync.RWMutex
	cfg *models.FunnelConfig
}

// NewFunnelConfigStore creates an empty config store
func NewFunnelConfigStore() *FunnelConfigStore {
	return &FunnelConfigStore{}
}

func (f *FunnelConfigStore) Load(_ context.Context) (*models.FunnelConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.cfg == nil {
		return nil, repositories.ErrRecordNotFound
	}
	return copyFunnel(f.cfg), nil
}

func (f *FunnelConfigStore) Save(_ context.Context, cfg *models.FunnelConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = copyFunnel(cfg)
	return nil
}

func copyFunnel(cfg *models.FunnelConfig) *models.FunnelConfig {
	out := &models.FunnelConfig{UpdatedAt: cfg.UpdatedAt, Groups: make([]models.StepGroup, len(cfg.Groups))}
	for i, g := range cfg.Groups {
		g.Items = append([]models.StepItem(nil), g.Items...)
		out.Groups[i] = g
	}
	return out
}

func bucketByDay(times []time.Time) []models.DailyCount {
	counts := make(map[string]int)
	for _, t := range times {
		counts[t.UTC().Format("2006-01-02")]++
	}
	out := make([]models.DailyCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, models.DailyCount{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

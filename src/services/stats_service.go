package services

import (
	"context"
	"time"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

const maxStatsDays = 30

// StatsSummary is the public metrics document.
type StatsSummary struct {
	Storage string           `json:"storage"`
	Keys    models.KeyCounts `json:"keys"`
	Checks  struct {
		Total int `json:"total"`
	} `json:"checks"`
	Events struct {
		Created7d int `json:"created_7d"`
		Used7d    int `json:"used_7d"`
	} `json:"events"`
	Traffic struct {
		GetKey     int `json:"getKey"`
		Checkpoint int `json:"checkpoint"`
	} `json:"traffic"`
}

// DailySeries holds per-day counts with every day in range present.
type DailySeries struct {
	Days       []string `json:"days"`
	Created    []int    `json:"created"`
	Used       []int    `json:"used"`
	Checks     []int    `json:"checks"`
	GetKey     []int    `json:"getKey"`
	Checkpoint []int    `json:"checkpoint"`
}

// StatsService aggregates store counts for dashboards.
type StatsService struct {
	storage string
	keys    repositories.KeyStore
	audit   repositories.AuditLog
	events  repositories.EventLog
	now     func() time.Time
}

// NewStatsService creates a stats service. storage names the backend.
func NewStatsService(storage string, keys repositories.KeyStore, audit repositories.AuditLog, events repositories.EventLog) *StatsService {
	return &StatsService{storage: storage, keys: keys, audit: audit, events: events, now: time.Now}
}

// Summary returns totals and 7-day counts.
func (s *StatsService) Summary(ctx context.Context) (*StatsSummary, error) {
	now := s.now()
	week := now.Add(-7 * 24 * time.Hour)

	out := &StatsSummary{Storage: s.storage}
	var err error
	if out.Keys, err = s.keys.Counts(ctx, now); err != nil {
		return nil, err
	}
	if out.Checks.Total, err = s.audit.Count(ctx); err != nil {
		return nil, err
	}
	counts := []struct {
		dst   *int
		typ   models.EventType
		since time.Time
	}{
		{&out.Events.Created7d, models.EventKeyCreated, week},
		{&out.Events.Used7d, models.EventKeyUsed, week},
		{&out.Traffic.GetKey, models.EventFunnelEntry, time.Time{}},
		{&out.Traffic.Checkpoint, models.EventCheckpointAdvance, time.Time{}},
	}
	for _, c := range counts {
		if *c.dst, err = s.events.Count(ctx, c.typ, c.since); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ClampDays bounds a requested range to 1..30.
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > maxStatsDays {
		return maxStatsDays
	}
	return days
}

// Daily returns per-day series over the last days (clamped to 1..30), UTC.
func (s *StatsService) Daily(ctx context.Context, days int) (*DailySeries, error) {
	days = ClampDays(days)
	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	series := &DailySeries{Days: make([]string, days)}
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		series.Days[i] = day
		index[day] = i
	}

	fill := func(counts []models.DailyCount) []int {
		out := make([]int, days)
		for _, c := range counts {
			if i, ok := index[c.Day]; ok {
				out[i] = c.Count
			}
		}
		return out
	}

	checks, err := s.audit.DailyCounts(ctx, start)
	if err != nil {
		return nil, err
	}
	series.Checks = fill(checks)

	for _, c := range []struct {
		dst *[]int
		typ models.EventType
	}{
		{&series.Created, models.EventKeyCreated},
		{&series.Used, models.EventKeyUsed},
		{&series.GetKey, models.EventFunnelEntry},
		{&series.Checkpoint, models.EventCheckpointAdvance},
	} {
		counts, err := s.events.DailyCounts(ctx, c.typ, start)
		if err != nil {
			return nil, err
		}
		*c.dst = fill(counts)
	}
	return series, nil
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories/memory"
)

func TestStatsService_SummaryAndDaily(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	keys := memory.NewKeyStore()
	audit := memory.NewAuditLog(100)
	events := memory.NewEventLog(100)

	require.NoError(t, keys.Create(ctx, &models.KeyRecord{Key: "S1", IsActive: true, CreatedAt: now}))
	require.NoError(t, keys.Create(ctx, &models.KeyRecord{Key: "S2", IsActive: false, CreatedAt: now}))
	_ = audit.Append(ctx, &models.AuditLogEntry{ID: "a", Timestamp: now})
	_ = events.Record(ctx, &models.Event{ID: "1", Type: models.EventKeyCreated, Timestamp: now})
	_ = events.Record(ctx, &models.Event{ID: "2", Type: models.EventKeyCreated, Timestamp: now.AddDate(0, 0, -1)})
	_ = events.Record(ctx, &models.Event{ID: "3", Type: models.EventKeyCreated, Timestamp: now.AddDate(0, 0, -20)})
	_ = events.Record(ctx, &models.Event{ID: "4", Type: models.EventFunnelEntry, Timestamp: now})

	svc := NewStatsService("memory", keys, audit, events)
	svc.now = func() time.Time { return now }

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", sum.Storage)
	assert.Equal(t, models.KeyCounts{Total: 2, Active: 1}, sum.Keys)
	assert.Equal(t, 1, sum.Checks.Total)
	assert.Equal(t, 2, sum.Events.Created7d)
	assert.Equal(t, 1, sum.Traffic.GetKey)

	daily, err := svc.Daily(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-08", "2026-08-09", "2026-08-10"}, daily.Days)
	assert.Equal(t, []int{0, 1, 1}, daily.Created)
	assert.Equal(t, []int{0, 0, 1}, daily.Checks)
}

func TestClampDays(t *testing.T) {
	assert.Equal(t, 1, ClampDays(0))
	assert.Equal(t, 7, ClampDays(7))
	assert.Equal(t, 30, ClampDays(90))
}

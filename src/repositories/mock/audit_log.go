package mock

import (
	"context"
	"time"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

// AuditLog is a mock implementation of repositories.AuditLog
type AuditLog struct {
	AppendFunc      func(ctx context.Context, entry *models.AuditLogEntry) error
	RecentFunc      func(ctx context.Context, limit int) ([]*models.AuditLogEntry, error)
	CountFunc       func(ctx context.Context) (int, error)
	DailyCountsFunc func(ctx context.Context, since time.Time) ([]models.DailyCount, error)
	ClearFunc       func(ctx context.Context) error

	Calls map[string][]interface{}
}

// NewAuditLog creates a new mock audit log
func NewAuditLog() *AuditLog {
	return &AuditLog{Calls: make(map[string][]interface{})}
}

func (m *AuditLog) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	m.Calls["Append"] = append(m.Calls["Append"], entry)
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, entry)
	}
	return nil
}

func (m *AuditLog) Recent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	m.Calls["Recent"] = append(m.Calls["Recent"], limit)
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, limit)
	}
	return nil, nil
}

func (m *AuditLog) Count(ctx context.Context) (int, error) {
	m.Calls["Count"] = append(m.Calls["Count"], nil)
	if m.CountFunc != nil {
		return m.CountFunc(ctx)
	}
	return 0, nil
}

func (m *AuditLog) DailyCounts(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	m.Calls["DailyCounts"] = append(m.Calls["DailyCounts"], since)
	if m.DailyCountsFunc != nil {
		return m.DailyCountsFunc(ctx, since)
	}
	return nil, nil
}

func (m *AuditLog) Clear(ctx context.Context) error {
	m.Calls["Clear"] = append(m.Calls["Clear"], nil)
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	return nil
}

// Ensure AuditLog implements the interface
var _ repositories.AuditLog = (*AuditLog)(nil)

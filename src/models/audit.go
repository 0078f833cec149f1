package models

import "time"

// ReasonCode is the outcome of a validation call.
type ReasonCode string

const (
	ReasonOK           ReasonCode = "OK"
	ReasonNoKey        ReasonCode = "NO_KEY"
	ReasonNotFound     ReasonCode = "NOT_FOUND"
	ReasonInactive     ReasonCode = "INACTIVE"
	ReasonExpired      ReasonCode = "EXPIRED"
	ReasonLimitReached ReasonCode = "LIMIT_REACHED"
)

// AuditLogEntry records one validation attempt.
type AuditLogEntry struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"at"`
	Key         *string    `json:"key"`
	OK          bool       `json:"ok"`
	Reason      ReasonCode `json:"reason"`
	DeviceID    string     `json:"hwid,omitempty"`
	AccountID   string     `json:"userId,omitempty"`
	AccountName string     `json:"username,omitempty"`
}

// DailyCount is one bucket of a per-day series.
type DailyCount struct {
	Day   string `json:"day"` // YYYY-MM-DD, UTC
	Count int    `json:"count"`
}

package models

import "time"

// EventType names a counted occurrence.
type EventType string

const (
	EventKeyCreated        EventType = "created"
	EventKeyUsed           EventType = "used"
	EventFunnelEntry       EventType = "getKey"
	EventCheckpointAdvance EventType = "checkpoint"
)

// Event is a timestamped occurrence kept for metrics.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Key       string    `json:"key,omitempty"`
	Timestamp time.Time `json:"at"`
}

package tree

import "time"

// EventType classifies a tree change notification
type EventType string

const (
	EventApplied    EventType = "applied"     // optimistic change visible locally
	EventConfirmed  EventType = "confirmed"   // gateway accepted the change
	EventRolledBack EventType = "rolled_back" // gateway rejected it, local change compensated
	EventRefreshed  EventType = "refreshed"   // forest reloaded from the gateway
)

// Event tells observers that the tree should be re-read
type Event struct {
	Type  EventType `json:"type"`
	Op    string    `json:"op"`
	ID    string    `json:"id,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

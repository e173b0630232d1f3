package wal

import "github.com/JPcasado88/ebay-order-processor-demo/pkg/types"

// ============================================================================
// WAL Type Definitions
// Responsibility: Define the journal record of process state changes
// ============================================================================

// EventType defines WAL event types
type EventType string

const (
	EventCreate     EventType = "CREATE"     // Process entry created (queued)
	EventTransition EventType = "TRANSITION" // Status changed
	EventProgress   EventType = "PROGRESS"   // items_done or stage advanced
	EventDelete     EventType = "DELETE"     // Process entry removed (reset / reap)
)

// Event represents a WAL event record
type Event struct {
	Seq       uint64              `json:"seq"`              // Event sequence number (monotonically increasing)
	Type      EventType           `json:"type"`             // Event type
	ProcessID types.ProcessID     `json:"process_id"`       // Process the event belongs to
	Status    types.ProcessStatus `json:"status"`           // Status after the event
	ItemsDone int                 `json:"items_done"`       // Progress after the event
	Detail    string              `json:"detail,omitempty"` // Stage or error summary
	Timestamp int64               `json:"timestamp"`        // Unix millisecond timestamp
	Checksum  uint32              `json:"checksum"`         // CRC32 checksum
}

// EventHandler is the function type for processing WAL events
// Used during Replay and ReadEvents
type EventHandler func(event Event) error

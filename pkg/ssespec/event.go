package ssespec

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders recovered events. It is a recovery ordering, not a runtime
// queue discipline: live distribution stays FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "LOW",
	PriorityNormal:   "NORMAL",
	PriorityHigh:     "HIGH",
	PriorityCritical: "CRITICAL",
}

// String returns the wire name of the priority
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "NORMAL"
}

// ParsePriority maps a wire name to a Priority, defaulting to NORMAL
func ParsePriority(name string) Priority {
	for p, n := range priorityNames {
		if n == name {
			return p
		}
	}
	return PriorityNormal
}

// Event is the in-memory record delivered to subscribers
type Event struct {
	// ID is assigned by the store on first persist; zero until then
	ID int64

	Type         string
	TargetUserID int64
	Priority     Priority
	Payload      interface{}

	// IsRead flips true on explicit user ack, never on delivery
	IsRead bool

	// IsRecovered is true iff this event was re-delivered from the store on reconnect
	IsRecovered bool

	// Ephemeral events share the wire shape but never touch the store
	Ephemeral bool

	CreatedAt time.Time
	ExpiredAt *time.Time
}

// IsExpired reports whether the event's expiry time has passed
func (e *Event) IsExpired() bool {
	return e.ExpiredAt != nil && !e.ExpiredAt.After(time.Now().UTC())
}

// Deliverable reports whether the event may still be handed to a subscriber
func (e *Event) Deliverable() bool {
	return !e.IsRead && !e.IsExpired()
}

// WireDict returns the map serialized into the SSE data field
func (e *Event) WireDict() map[string]interface{} {
	return map[string]interface{}{
		"id":           e.ID,
		"event_type":   e.Type,
		"priority":     e.Priority.String(),
		"created_at":   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"payload":      e.Payload,
		"is_recovered": e.IsRecovered,
	}
}

// Frame serializes the event as one SSE frame:
//
//	event: <event_type>\n
//	data: <JSON of WireDict>\n
//	\n
func (e *Event) Frame() ([]byte, error) {
	data, err := json.Marshal(e.WireDict())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %d: %w", e.ID, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data)), nil
}

// HeartbeatFrame is the SSE frame emitted on idle streams
func HeartbeatFrame() []byte {
	return []byte("event: heartbeat\ndata: {\"status\":\"heartbeat\"}\n\n")
}

// EventRow is the persisted shape of an event
type EventRow struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventType    string     `gorm:"column:event_type;index"`
	Payload      []byte     `gorm:"column:payload"`
	TargetUserID int64      `gorm:"column:target_userid;index"`
	Priority     int        `gorm:"column:priority"`
	IsRead       bool       `gorm:"column:is_read"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	ExpiredAt    *time.Time `gorm:"column:expired_at"`
}

// TableName implements the gorm naming hook
func (EventRow) TableName() string {
	return "event"
}

// ToStoreRow converts the event to a row. The second return is false when the
// event is no longer deliverable and must not be persisted.
func (e *Event) ToStoreRow() (*EventRow, bool, error) {
	if !e.Deliverable() {
		return nil, false, nil
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal payload for %s: %w", e.Type, err)
	}

	return &EventRow{
		ID:           e.ID,
		EventType:    e.Type,
		Payload:      payload,
		TargetUserID: e.TargetUserID,
		Priority:     int(e.Priority),
		IsRead:       e.IsRead,
		CreatedAt:    e.CreatedAt,
		ExpiredAt:    e.ExpiredAt,
	}, true, nil
}

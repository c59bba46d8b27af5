package ssespec

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SystemNotificationType is the tag of the built-in notification event
const SystemNotificationType = "SystemNotification"

// SystemNotificationPayload is the payload schema of SystemNotification events
type SystemNotificationPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// PayloadFactory returns a fresh pointer to a payload value of the registered
// schema, used to decode stored JSON payloads.
type PayloadFactory func() interface{}

// Registry maps event type tags to payload schemas. The tag is data, never a
// reflected identifier. Registration must complete before the first event of
// that type is created or recovered.
type Registry struct {
	mu    sync.RWMutex
	types map[string]PayloadFactory
}

// NewRegistry creates a registry with SystemNotification pre-registered
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]PayloadFactory)}
	_ = r.Register(SystemNotificationType, func() interface{} {
		return &SystemNotificationPayload{}
	})
	return r
}

// Register binds a tag to a payload factory. Idempotent: re-registering the
// same tag replaces the factory.
func (r *Registry) Register(tag string, factory PayloadFactory) error {
	if tag == "" {
		return fmt.Errorf("event type tag must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("payload factory for %q must not be nil", tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[tag] = factory
	return nil
}

// Registered reports whether the tag is known
func (r *Registry) Registered(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[tag]
	return ok
}

// Tags returns the sorted list of registered tags
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.types))
	for tag := range r.types {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DecodePayload decodes raw JSON into a payload value of the tag's schema
func (r *Registry) DecodePayload(tag string, raw []byte) (interface{}, error) {
	r.mu.RLock()
	factory, ok := r.types[tag]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, tag)
	}

	payload := factory()
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", tag, err)
	}
	return payload, nil
}

// NewEvent constructs an event of a registered type. expiredAt may be nil for
// events that never expire.
func (r *Registry) NewEvent(tag string, targetUserID int64, priority Priority, expiredAt *time.Time, payload interface{}) (*Event, error) {
	if !r.Registered(tag) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, tag)
	}

	return &Event{
		Type:         tag,
		TargetUserID: targetUserID,
		Priority:     priority,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
		ExpiredAt:    expiredAt,
	}, nil
}

// FromStoreRow materializes a row back into an event. The second return is
// false when the row is no longer deliverable and must be skipped.
func (r *Registry) FromStoreRow(row *EventRow) (*Event, bool, error) {
	payload, err := r.DecodePayload(row.EventType, row.Payload)
	if err != nil {
		return nil, false, err
	}

	ev := &Event{
		ID:           row.ID,
		Type:         row.EventType,
		TargetUserID: row.TargetUserID,
		Priority:     Priority(row.Priority),
		Payload:      payload,
		IsRead:       row.IsRead,
		CreatedAt:    row.CreatedAt,
		ExpiredAt:    row.ExpiredAt,
	}
	if !ev.Deliverable() {
		return nil, false, nil
	}
	return ev, true, nil
}

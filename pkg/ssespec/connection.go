package ssespec

import (
	"sync"
	"time"

	"github.com/bitechdev/NotifySpec/pkg/logger"
	"github.com/bitechdev/NotifySpec/pkg/metrics"
)

// ConnectionManager tracks live per-user SSE mailboxes. All state lives under
// one mutex; accessors hand out snapshots so callers iterate lock-free.
type ConnectionManager struct {
	mu         sync.Mutex
	maxPerUser int

	// user_id -> stream_id -> mailbox
	userStreams map[int64]map[string]*Mailbox
	// stream_id -> connect time
	connectTimes map[string]time.Time
	// event_type -> user_id -> live stream count for that type
	typeUsers map[string]map[int64]int
}

// NewConnectionManager creates a manager enforcing the given per-user cap
func NewConnectionManager(maxPerUser int) *ConnectionManager {
	return &ConnectionManager{
		maxPerUser:   maxPerUser,
		userStreams:  make(map[int64]map[string]*Mailbox),
		connectTimes: make(map[string]time.Time),
		typeUsers:    make(map[string]map[int64]int),
	}
}

// AddConnection admits a mailbox and returns its stream id. A user already at
// the cap loses their oldest stream first (strict oldest by connect time).
func (cm *ConnectionManager) AddConnection(mb *Mailbox) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	userID := mb.UserID()
	streams, ok := cm.userStreams[userID]
	if !ok {
		streams = make(map[string]*Mailbox)
		cm.userStreams[userID] = streams
	}

	for len(streams) >= cm.maxPerUser {
		oldest := cm.oldestStreamLocked(streams)
		if oldest == nil {
			break
		}
		logger.Info("Evicting oldest stream: user=%d, stream=%s", userID, oldest.ID())
		cm.removeLocked(userID, oldest.ID(), oldest.EventType())
	}

	streams[mb.ID()] = mb
	cm.connectTimes[mb.ID()] = mb.ConnectedAt()

	users, ok := cm.typeUsers[mb.EventType()]
	if !ok {
		users = make(map[int64]int)
		cm.typeUsers[mb.EventType()] = users
	}
	users[userID]++

	cm.updateGaugesLocked()
	return mb.ID()
}

// RemoveConnection drops one stream. Idempotent.
func (cm *ConnectionManager) RemoveConnection(userID int64, streamID, eventType string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.removeLocked(userID, streamID, eventType)
	cm.updateGaugesLocked()
}

// RemoveAllConnections purges every stream of a user. Stream ids are
// enumerated from the table itself; they are opaque UUIDs.
func (cm *ConnectionManager) RemoveAllConnections(userID int64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	streams := cm.userStreams[userID]
	for id, mb := range streams {
		cm.removeLocked(userID, id, mb.EventType())
	}
	cm.updateGaugesLocked()
}

// UserStreams returns a snapshot of the user's mailboxes
func (cm *ConnectionManager) UserStreams(userID int64) []*Mailbox {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	streams := cm.userStreams[userID]
	out := make([]*Mailbox, 0, len(streams))
	for _, mb := range streams {
		out = append(out, mb)
	}
	return out
}

// AllStreams returns a snapshot of every live mailbox
func (cm *ConnectionManager) AllStreams() []*Mailbox {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var out []*Mailbox
	for _, streams := range cm.userStreams {
		for _, mb := range streams {
			out = append(out, mb)
		}
	}
	return out
}

// EventTypeUsers returns a snapshot of the users online for an event type
func (cm *ConnectionManager) EventTypeUsers(eventType string) []int64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	users := cm.typeUsers[eventType]
	out := make([]int64, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	return out
}

// ConnectedUsers returns a snapshot of every user with at least one stream
func (cm *ConnectionManager) ConnectedUsers() []int64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	out := make([]int64, 0, len(cm.userStreams))
	for id := range cm.userStreams {
		out = append(out, id)
	}
	return out
}

// HasConnections reports whether the user holds at least one stream
func (cm *ConnectionManager) HasConnections(userID int64) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.userStreams[userID]) > 0
}

// StreamCount returns the total number of live streams
func (cm *ConnectionManager) StreamCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.connectTimes)
}

// oldestStreamLocked finds the stream with the smallest connect time.
// Caller holds the mutex.
func (cm *ConnectionManager) oldestStreamLocked(streams map[string]*Mailbox) *Mailbox {
	var oldest *Mailbox
	var oldestAt time.Time
	for id, mb := range streams {
		at := cm.connectTimes[id]
		if oldest == nil || at.Before(oldestAt) {
			oldest = mb
			oldestAt = at
		}
	}
	return oldest
}

// removeLocked drops one stream and fixes every index. Caller holds the mutex.
func (cm *ConnectionManager) removeLocked(userID int64, streamID, eventType string) {
	streams, ok := cm.userStreams[userID]
	if !ok {
		return
	}
	mb, ok := streams[streamID]
	if !ok {
		return
	}

	mb.Close()
	delete(streams, streamID)
	delete(cm.connectTimes, streamID)
	if len(streams) == 0 {
		delete(cm.userStreams, userID)
	}

	if users, ok := cm.typeUsers[eventType]; ok {
		users[userID]--
		if users[userID] <= 0 {
			delete(users, userID)
		}
		if len(users) == 0 {
			delete(cm.typeUsers, eventType)
		}
	}
}

func (cm *ConnectionManager) updateGaugesLocked() {
	mp := metrics.GetProvider()
	mp.UpdateOpenStreams(len(cm.connectTimes))
	mp.UpdateConnectedUsers(len(cm.userStreams))
}

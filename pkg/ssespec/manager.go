package ssespec

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitechdev/NotifySpec/pkg/logger"
	"github.com/bitechdev/NotifySpec/pkg/metrics"
)

// State is the lifecycle state of the EventManager
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

var stateNames = map[State]string{
	StateStarting:     "STARTING",
	StateRunning:      "RUNNING",
	StateShuttingDown: "SHUTTING_DOWN",
	StateStopped:      "STOPPED",
}

// String returns the state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Options configures the EventManager
type Options struct {
	// MaxEventQueueSize is the capacity of the central queue
	MaxEventQueueSize int

	// MaxEventsPerStream is the capacity of each mailbox
	MaxEventsPerStream int

	// MaxConnectionsPerUser caps live streams per user
	MaxConnectionsPerUser int

	// CleanupInterval is the period of the purge worker
	CleanupInterval time.Duration

	// DistributorPoll bounds how long the distributor blocks on the queue
	DistributorPoll time.Duration

	// ShutdownJoinTimeout bounds the wait for worker exit during shutdown
	ShutdownJoinTimeout time.Duration
}

// DefaultOptions returns the standard engine configuration
func DefaultOptions() Options {
	return Options{
		MaxEventQueueSize:     1000,
		MaxEventsPerStream:    100,
		MaxConnectionsPerUser: 10,
		CleanupInterval:       30 * time.Minute,
		DistributorPoll:       time.Second,
		ShutdownJoinTimeout:   10 * time.Second,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.MaxEventQueueSize <= 0 {
		o.MaxEventQueueSize = def.MaxEventQueueSize
	}
	if o.MaxEventsPerStream <= 0 {
		o.MaxEventsPerStream = def.MaxEventsPerStream
	}
	if o.MaxConnectionsPerUser <= 0 {
		o.MaxConnectionsPerUser = def.MaxConnectionsPerUser
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = def.CleanupInterval
	}
	if o.DistributorPoll <= 0 {
		o.DistributorPoll = def.DistributorPoll
	}
	if o.ShutdownJoinTimeout <= 0 {
		o.ShutdownJoinTimeout = def.ShutdownJoinTimeout
	}
}

// Stats is a point-in-time snapshot of engine counters
type Stats struct {
	State             string `json:"state"`
	EventsCreated     uint64 `json:"events_created"`
	EventsDistributed uint64 `json:"events_distributed"`
	EventsDropped     uint64 `json:"events_dropped"`
	EventsRecovered   uint64 `json:"events_recovered"`
	QueueDepth        int    `json:"queue_depth"`
	OpenStreams       int    `json:"open_streams"`
	ConnectedUsers    int    `json:"connected_users"`
}

// EventManager owns the central bounded event queue and the two background
// workers (distributor, cleanup). It orchestrates persistence, delivery and
// recovery. Shutdown is driven by the host; no signal handlers are installed.
type EventManager struct {
	opts     Options
	registry *Registry
	store    *EventStore
	conns    *ConnectionManager

	queue    chan *Event
	state    atomic.Int32
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	created     atomic.Uint64
	distributed atomic.Uint64
	dropped     atomic.Uint64
	recovered   atomic.Uint64
}

// NewEventManager creates a manager in the STARTING state. Call Start to run
// the startup purge and launch the workers.
func NewEventManager(store *EventStore, registry *Registry, opts Options) *EventManager {
	opts.applyDefaults()

	m := &EventManager{
		opts:     opts,
		registry: registry,
		store:    store,
		conns:    NewConnectionManager(opts.MaxConnectionsPerUser),
		queue:    make(chan *Event, opts.MaxEventQueueSize),
		stopChan: make(chan struct{}),
	}
	m.state.Store(int32(StateStarting))
	return m
}

// Registry returns the event type registry
func (m *EventManager) Registry() *Registry { return m.registry }

// Store returns the event store
func (m *EventManager) Store() *EventStore { return m.store }

// Connections returns the connection manager
func (m *EventManager) Connections() *ConnectionManager { return m.conns }

// State returns the current lifecycle state
func (m *EventManager) State() State {
	return State(m.state.Load())
}

// Running reports whether the manager accepts work
func (m *EventManager) Running() bool {
	return m.State() == StateRunning
}

// Start runs the startup purge, launches the workers and moves to RUNNING.
// Calling Start on a non-STARTING manager is a no-op.
func (m *EventManager) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		return nil
	}

	if deleted, err := m.store.PurgeStale(ctx); err != nil {
		logger.Warn("Startup purge failed: %v", err)
	} else if deleted > 0 {
		logger.Info("Startup purge removed %d stale events", deleted)
	}

	m.wg.Add(2)
	go m.distributor()
	go m.cleanupWorker()

	logger.Info("Event manager running: queue=%d, stream=%d, per_user=%d",
		m.opts.MaxEventQueueSize, m.opts.MaxEventsPerStream, m.opts.MaxConnectionsPerUser)
	return nil
}

// CreateEvent persists a new event and, when the target user is online,
// enqueues it for distribution. A full queue drops the in-memory copy and
// returns (nil, ErrEventQueueFull); the row survives and is recovered on the
// user's next reconnect. expireAfter of zero means the event never expires.
func (m *EventManager) CreateEvent(ctx context.Context, eventType string, targetUserID int64, priority Priority, expireAfter time.Duration, payload interface{}) (*Event, error) {
	if !m.Running() {
		return nil, ErrManagerNotRunning
	}

	var expiredAt *time.Time
	if expireAfter > 0 {
		t := time.Now().UTC().Add(expireAfter)
		expiredAt = &t
	}

	ev, err := m.registry.NewEvent(eventType, targetUserID, priority, expiredAt, payload)
	if err != nil {
		return nil, err
	}

	if err := m.store.Insert(ctx, ev); err != nil {
		return nil, err
	}
	m.created.Add(1)
	metrics.GetProvider().RecordEventCreated(eventType)

	// Offline users skip the queue; the row waits for reconnect
	if !m.conns.HasConnections(targetUserID) {
		return ev, nil
	}

	if !m.enqueue(ev) {
		logger.Error("Event queue full, dropping event: id=%d, type=%s, user=%d (row retained for recovery)",
			ev.ID, ev.Type, ev.TargetUserID)
		m.dropped.Add(1)
		metrics.GetProvider().RecordEventDropped(eventType, "queue_full")
		return nil, ErrEventQueueFull
	}

	return ev, nil
}

// SendRawEvent enqueues an ephemeral event with the same wire shape but no
// store row. Returns false when the user is offline or the queue is full.
func (m *EventManager) SendRawEvent(eventType string, targetUserID int64, priority Priority, payload interface{}) (bool, error) {
	if !m.Running() {
		return false, ErrManagerNotRunning
	}

	if !m.conns.HasConnections(targetUserID) {
		return false, nil
	}

	ev := &Event{
		Type:         eventType,
		TargetUserID: targetUserID,
		Priority:     priority,
		Payload:      payload,
		Ephemeral:    true,
		CreatedAt:    time.Now().UTC(),
	}

	if !m.enqueue(ev) {
		logger.Warn("Event queue full, dropping raw event: type=%s, user=%d", eventType, targetUserID)
		m.dropped.Add(1)
		metrics.GetProvider().RecordEventDropped(eventType, "queue_full")
		return false, nil
	}
	return true, nil
}

// enqueue puts an event on the central queue without blocking
func (m *EventManager) enqueue(ev *Event) bool {
	select {
	case m.queue <- ev:
		metrics.GetProvider().UpdateQueueDepth(len(m.queue))
		return true
	default:
		return false
	}
}

// RegisterUserStream opens a mailbox for one SSE connection and triggers
// recovery of unread events for (user, event type).
func (m *EventManager) RegisterUserStream(ctx context.Context, userID int64, eventType string) (*Mailbox, error) {
	if !m.Running() {
		return nil, ErrManagerNotRunning
	}
	if !m.registry.Registered(eventType) {
		return nil, ErrUnknownEventType
	}

	mb := newMailbox(userID, eventType, m.opts.MaxEventsPerStream)
	streamID := m.conns.AddConnection(mb)
	logger.Info("Stream registered: user=%d, type=%s, stream=%s", userID, eventType, streamID)

	m.recoverUserEvents(ctx, userID, eventType)
	return mb, nil
}

// UnregisterUserStream drops one stream. Events still buffered in the
// mailbox are discarded; the store rows stay authoritative.
func (m *EventManager) UnregisterUserStream(userID int64, streamID, eventType string) {
	m.conns.RemoveConnection(userID, streamID, eventType)
	logger.Info("Stream unregistered: user=%d, stream=%s", userID, streamID)
}

// recoverUserEvents re-materializes unread rows into every open mailbox of
// the user, ordered priority desc / created asc. Store failures are logged;
// the stream still opens.
func (m *EventManager) recoverUserEvents(ctx context.Context, userID int64, eventType string) {
	events, err := m.store.RecoverUnread(ctx, userID, eventType)
	if err != nil {
		logger.Error("Recovery failed: user=%d, type=%s, error=%v", userID, eventType, err)
		return
	}
	if len(events) == 0 {
		return
	}

	for _, ev := range events {
		m.deliver(ev)
		m.recovered.Add(1)
		metrics.GetProvider().RecordEventRecovered(ev.Type)
	}
	logger.Info("Recovered %d unread events: user=%d, type=%s", len(events), userID, eventType)
}

// distributor drains the central queue into mailboxes. It never terminates on
// a single failure.
func (m *EventManager) distributor() {
	defer m.wg.Done()
	defer logger.CatchPanic("EventManager.distributor")

	for {
		select {
		case <-m.stopChan:
			return
		case ev := <-m.queue:
			metrics.GetProvider().UpdateQueueDepth(len(m.queue))
			m.dispatch(ev)
		case <-time.After(m.opts.DistributorPoll):
			// Idle poll so the stop flag is observed promptly
		}
	}
}

// dispatch applies the delivery checks and fans one event out
func (m *EventManager) dispatch(ev *Event) {
	// Late check: the event may have been read or expired while queued
	if ev.IsRead || ev.IsExpired() {
		m.dropped.Add(1)
		metrics.GetProvider().RecordEventDropped(ev.Type, "stale_at_dequeue")
		return
	}
	m.deliver(ev)
}

// deliver writes one event to every live mailbox of its target user using
// the drop-oldest overflow rule
func (m *EventManager) deliver(ev *Event) {
	streams := m.conns.UserStreams(ev.TargetUserID)
	delivered := 0
	for _, mb := range streams {
		if err := mb.Put(ev); err != nil {
			logger.Warn("Mailbox put failed: user=%d, stream=%s, error=%v", ev.TargetUserID, mb.ID(), err)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		m.distributed.Add(1)
		metrics.GetProvider().RecordEventDistributed(ev.Type)
	}
}

// cleanupWorker purges read-or-expired rows every CleanupInterval
func (m *EventManager) cleanupWorker() {
	defer m.wg.Done()
	defer logger.CatchPanic("EventManager.cleanupWorker")

	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if deleted, err := m.store.PurgeStale(ctx); err != nil {
				logger.Error("Cleanup purge failed: %v", err)
			} else if deleted > 0 {
				logger.Info("Cleanup purge removed %d stale events", deleted)
			}
			cancel()
		}
	}
}

// Shutdown stops the engine. Idempotent and safe to call concurrently.
// Remaining queued events that were never persisted are stored if still
// deliverable; ephemeral events are dropped.
func (m *EventManager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.state.Store(int32(StateShuttingDown))
		logger.Info("Event manager shutting down")

		m.drainQueue(ctx)

		for _, userID := range m.conns.ConnectedUsers() {
			m.conns.RemoveAllConnections(userID)
		}

		close(m.stopChan)
		m.joinWorkers()

		if _, err := m.store.PurgeStale(ctx); err != nil {
			logger.Warn("Final purge failed: %v", err)
		}

		m.state.Store(int32(StateStopped))
		logger.Info("Event manager stopped: created=%d, distributed=%d, dropped=%d, recovered=%d",
			m.created.Load(), m.distributed.Load(), m.dropped.Load(), m.recovered.Load())
	})

	// sync.Once blocks concurrent callers until the first run returns, so the
	// manager is STOPPED from every caller's point of view here
	return nil
}

// drainQueue empties the central queue, persisting any deliverable event that
// never reached the store
func (m *EventManager) drainQueue(ctx context.Context) {
	for {
		select {
		case ev := <-m.queue:
			if ev.Ephemeral || !ev.Deliverable() {
				m.dropped.Add(1)
				metrics.GetProvider().RecordEventDropped(ev.Type, "shutdown")
				continue
			}
			if ev.ID == 0 {
				if err := m.store.Insert(ctx, ev); err != nil {
					logger.Error("Failed to persist queued event at shutdown: type=%s, user=%d, error=%v",
						ev.Type, ev.TargetUserID, err)
				}
			}
			// Persisted rows stay unread and recover on reconnect
		default:
			metrics.GetProvider().UpdateQueueDepth(0)
			return
		}
	}
}

// joinWorkers waits for worker exit with a bounded timeout
func (m *EventManager) joinWorkers() {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.opts.ShutdownJoinTimeout):
		logger.Warn("Workers did not exit within %v", m.opts.ShutdownJoinTimeout)
	}
}

// Stats returns a snapshot of engine counters
func (m *EventManager) Stats() Stats {
	return Stats{
		State:             m.State().String(),
		EventsCreated:     m.created.Load(),
		EventsDistributed: m.distributed.Load(),
		EventsDropped:     m.dropped.Load(),
		EventsRecovered:   m.recovered.Load(),
		QueueDepth:        len(m.queue),
		OpenStreams:       m.conns.StreamCount(),
		ConnectedUsers:    len(m.conns.ConnectedUsers()),
	}
}

package ssespec

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mailbox is a bounded FIFO of events feeding one SSE HTTP response. A full
// mailbox drops its oldest event to admit a new one (lossy-newest-wins).
type Mailbox struct {
	id          string
	userID      int64
	eventType   string
	connectedAt time.Time

	ch        chan *Event
	done      chan struct{}
	closeOnce sync.Once
}

func newMailbox(userID int64, eventType string, capacity int) *Mailbox {
	return &Mailbox{
		id:          uuid.New().String(),
		userID:      userID,
		eventType:   eventType,
		connectedAt: time.Now(),
		ch:          make(chan *Event, capacity),
		done:        make(chan struct{}),
	}
}

// ID returns the opaque stream id
func (m *Mailbox) ID() string { return m.id }

// UserID returns the owning user
func (m *Mailbox) UserID() int64 { return m.userID }

// EventType returns the event type the stream was opened for
func (m *Mailbox) EventType() string { return m.eventType }

// ConnectedAt returns the admission time, used for oldest-first eviction
func (m *Mailbox) ConnectedAt() time.Time { return m.connectedAt }

// Len returns the number of buffered events
func (m *Mailbox) Len() int { return len(m.ch) }

// Cap returns the mailbox capacity
func (m *Mailbox) Cap() int { return cap(m.ch) }

// Put enqueues an event without blocking. When the mailbox is full the oldest
// buffered event is popped first. ErrMailboxFull is returned only when a
// concurrent writer steals the freed slot; ErrStreamClosed after Close.
func (m *Mailbox) Put(ev *Event) error {
	select {
	case <-m.done:
		return ErrStreamClosed
	default:
	}

	select {
	case m.ch <- ev:
		return nil
	default:
	}

	// Full: drop the oldest, then retry once
	select {
	case <-m.ch:
	default:
	}

	select {
	case m.ch <- ev:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Get waits for the next event. A nil event with nil error signals an idle
// timeout; the caller emits a heartbeat frame. Returns ErrStreamClosed once
// the mailbox has been closed and drained.
func (m *Mailbox) Get(ctx context.Context, timeout time.Duration) (*Event, error) {
	// Buffered events win over a pending close
	select {
	case ev := <-m.ch:
		return ev, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-m.ch:
		return ev, nil
	case <-m.done:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

// Close marks the mailbox dead. Idempotent. Buffered events are discarded;
// the store row stays authoritative for anything undelivered.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

// Closed reports whether Close has been called
func (m *Mailbox) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

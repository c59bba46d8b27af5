package ssespec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderSendUserNotification(t *testing.T) {
	m := startTestManager(t, Options{DistributorPoll: 10 * time.Millisecond})
	p := NewNotificationProvider(m)
	ctx := context.Background()

	ev, err := p.SendUserNotification(ctx, 1, "Title", "Body", PriorityHigh, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, SystemNotificationType, ev.Type)

	events, err := p.FetchUnread(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	payload := events[0].Payload.(*SystemNotificationPayload)
	assert.Equal(t, "Title", payload.Title)
	assert.Equal(t, "Body", payload.Message)
}

func TestProviderGlobalNotificationReachesOnlineUsers(t *testing.T) {
	m := startTestManager(t, Options{DistributorPoll: 10 * time.Millisecond})
	p := NewNotificationProvider(m)
	ctx := context.Background()

	var boxes []*Mailbox
	for _, userID := range []int64{1, 2, 3} {
		mb, err := m.RegisterUserStream(ctx, userID, SystemNotificationType)
		require.NoError(t, err)
		boxes = append(boxes, mb)
	}
	assert.ElementsMatch(t, []int64{1, 2, 3}, p.GetConnectedUsers())

	sent, err := p.SendGlobalNotification(ctx, "All", "Hands", PriorityNormal, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	for _, mb := range boxes {
		ev, err := mb.Get(ctx, 2*time.Second)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, SystemNotificationType, ev.Type)
	}
}

func TestProviderSendEventCustomType(t *testing.T) {
	m := startTestManager(t, Options{DistributorPoll: 10 * time.Millisecond})
	p := NewNotificationProvider(m)
	ctx := context.Background()

	type orderPayload struct {
		OrderID int64 `json:"order_id"`
	}
	require.NoError(t, m.Registry().Register("OrderShipped", func() interface{} {
		return &orderPayload{}
	}))

	ev, err := p.SendEvent(ctx, "OrderShipped", 4, PriorityNormal, time.Hour, &orderPayload{OrderID: 99})
	require.NoError(t, err)
	require.NotNil(t, ev)

	events, err := p.FetchUnread(ctx, 4)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "OrderShipped", events[0].Type)
	assert.Equal(t, &orderPayload{OrderID: 99}, events[0].Payload)

	// Unregistered types are refused
	_, err = p.SendEvent(ctx, "Nope", 4, PriorityNormal, 0, nil)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestProviderGlobalNotificationRequiresRunning(t *testing.T) {
	m := newTestManager(t, Options{})
	p := NewNotificationProvider(m)

	_, err := p.SendGlobalNotification(context.Background(), "t", "m", PriorityNormal, 0)
	assert.ErrorIs(t, err, ErrManagerNotRunning)
}

func TestProviderDismiss(t *testing.T) {
	m := startTestManager(t, Options{DistributorPoll: 10 * time.Millisecond})
	p := NewNotificationProvider(m)
	ctx := context.Background()

	a, err := p.SendUserNotification(ctx, 1, "a", "a", PriorityNormal, 0)
	require.NoError(t, err)
	_, err = p.SendUserNotification(ctx, 1, "b", "b", PriorityNormal, 0)
	require.NoError(t, err)
	_, err = p.SendUserNotification(ctx, 1, "c", "c", PriorityNormal, 0)
	require.NoError(t, err)

	count, err := p.DismissItems(ctx, 1, []int64{a.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	count, err = p.DismissAll(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	events, err := p.FetchUnread(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProviderStats(t *testing.T) {
	m := startTestManager(t, Options{DistributorPoll: 10 * time.Millisecond})
	p := NewNotificationProvider(m)

	_, err := p.SendUserNotification(context.Background(), 1, "t", "m", PriorityNormal, 0)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, "RUNNING", stats.State)
	assert.EqualValues(t, 1, stats.EventsCreated)
}

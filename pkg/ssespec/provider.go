package ssespec

import (
	"context"
	"time"

	"github.com/bitechdev/NotifySpec/pkg/logger"
)

// NotificationProvider is the narrow outward-facing contract consumed by the
// web layer.
type NotificationProvider struct {
	mgr *EventManager
}

// NewNotificationProvider wraps an EventManager
func NewNotificationProvider(mgr *EventManager) *NotificationProvider {
	return &NotificationProvider{mgr: mgr}
}

// SendUserNotification creates a SystemNotification event for one user
func (p *NotificationProvider) SendUserNotification(ctx context.Context, userID int64, title, message string, priority Priority, expireAfter time.Duration) (*Event, error) {
	return p.mgr.CreateEvent(ctx, SystemNotificationType, userID, priority, expireAfter, &SystemNotificationPayload{
		Title:   title,
		Message: message,
	})
}

// SendGlobalNotification expands a broadcast into one event per user
// currently online for SystemNotification. Returns the number of users
// reached; per-user failures are logged and do not stop the fan-out.
func (p *NotificationProvider) SendGlobalNotification(ctx context.Context, title, message string, priority Priority, expireAfter time.Duration) (int, error) {
	if !p.mgr.Running() {
		return 0, ErrManagerNotRunning
	}

	sent := 0
	for _, userID := range p.mgr.Connections().EventTypeUsers(SystemNotificationType) {
		if _, err := p.SendUserNotification(ctx, userID, title, message, priority, expireAfter); err != nil {
			logger.Warn("Global notification skipped user %d: %v", userID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// SendEvent creates an event of any registered type
func (p *NotificationProvider) SendEvent(ctx context.Context, eventType string, userID int64, priority Priority, expireAfter time.Duration, payload interface{}) (*Event, error) {
	return p.mgr.CreateEvent(ctx, eventType, userID, priority, expireAfter, payload)
}

// FetchUnread lists the user's unread, unexpired events
func (p *NotificationProvider) FetchUnread(ctx context.Context, userID int64) ([]*Event, error) {
	return p.mgr.Store().FetchUnread(ctx, userID)
}

// DismissItems marks the listed events read for the user and returns the
// count updated
func (p *NotificationProvider) DismissItems(ctx context.Context, userID int64, eventIDs []int64) (int64, error) {
	return p.mgr.Store().BulkMarkRead(ctx, eventIDs, userID)
}

// DismissAll marks every unread event of the user read
func (p *NotificationProvider) DismissAll(ctx context.Context, userID int64) (int64, error) {
	return p.mgr.Store().MarkAllRead(ctx, userID)
}

// GetConnectedUsers lists users with at least one live stream
func (p *NotificationProvider) GetConnectedUsers() []int64 {
	return p.mgr.Connections().ConnectedUsers()
}

// Stats returns an engine counter snapshot
func (p *NotificationProvider) Stats() Stats {
	return p.mgr.Stats()
}

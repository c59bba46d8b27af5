package ssespec

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/bitechdev/NotifySpec/pkg/logger"
	"github.com/bitechdev/NotifySpec/pkg/metrics"
)

// MarkReadResult is the outcome of a single mark-read call
type MarkReadResult int

const (
	MarkReadOK MarkReadResult = iota
	MarkReadAlreadyRead
	MarkReadNotFound
)

// EventStore persists events in one table. Every operation runs inside its
// own transaction; failures surface as *StoreError.
type EventStore struct {
	db       *gorm.DB
	registry *Registry
}

// NewEventStore creates a store bound to a gorm handle and a registry
func NewEventStore(db *gorm.DB, registry *Registry) *EventStore {
	return &EventStore{db: db, registry: registry}
}

// AutoMigrate creates or updates the event table
func (s *EventStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&EventRow{}); err != nil {
		return NewStoreError("migrate", err)
	}
	return nil
}

func (s *EventStore) record(operation string, start time.Time, err error) {
	metrics.GetProvider().RecordDBQuery(operation, "event", time.Since(start), err)
}

// Insert persists a deliverable event and assigns its id. Non-deliverable
// events are silently skipped.
func (s *EventStore) Insert(ctx context.Context, ev *Event) error {
	start := time.Now()

	row, ok, err := ev.ToStoreRow()
	if err != nil {
		return NewStoreError("insert", err)
	}
	if !ok {
		return nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
	s.record("insert", start, err)
	if err != nil {
		return NewStoreError("insert", err)
	}

	ev.ID = row.ID
	return nil
}

// MarkRead sets is_read on a single row, but only when the row belongs to the
// given user.
func (s *EventStore) MarkRead(ctx context.Context, eventID, userID int64) (MarkReadResult, error) {
	start := time.Now()
	result := MarkReadNotFound

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row EventRow
		res := tx.Where("id = ? AND target_userid = ?", eventID, userID).First(&row)
		if res.Error != nil {
			if res.Error == gorm.ErrRecordNotFound {
				result = MarkReadNotFound
				return nil
			}
			return res.Error
		}

		if row.IsRead {
			result = MarkReadAlreadyRead
			return nil
		}

		if err := tx.Model(&EventRow{}).Where("id = ?", eventID).Update("is_read", true).Error; err != nil {
			return err
		}
		result = MarkReadOK
		return nil
	})
	s.record("mark_read", start, err)
	if err != nil {
		return MarkReadNotFound, NewStoreError("mark_read", err)
	}
	return result, nil
}

// BulkMarkRead sets is_read on every listed row owned by the user and returns
// the count updated.
func (s *EventStore) BulkMarkRead(ctx context.Context, eventIDs []int64, userID int64) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}

	start := time.Now()
	var updated int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&EventRow{}).
			Where("id IN ? AND target_userid = ? AND is_read = ?", eventIDs, userID, false).
			Update("is_read", true)
		updated = res.RowsAffected
		return res.Error
	})
	s.record("bulk_mark_read", start, err)
	if err != nil {
		return 0, NewStoreError("bulk_mark_read", err)
	}
	return updated, nil
}

// MarkAllRead sets is_read on every unread row owned by the user
func (s *EventStore) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	start := time.Now()
	var updated int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&EventRow{}).
			Where("target_userid = ? AND is_read = ?", userID, false).
			Update("is_read", true)
		updated = res.RowsAffected
		return res.Error
	})
	s.record("mark_all_read", start, err)
	if err != nil {
		return 0, NewStoreError("mark_all_read", err)
	}
	return updated, nil
}

// FetchUnread returns the user's unread, unexpired events ordered by
// created_at ascending. Expired rows are filtered at materialization time;
// rows of unregistered types are logged and skipped.
func (s *EventStore) FetchUnread(ctx context.Context, userID int64) ([]*Event, error) {
	start := time.Now()
	var rows []EventRow

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("target_userid = ? AND is_read = ?", userID, false).
			Order("created_at ASC").
			Find(&rows).Error
	})
	s.record("fetch_unread", start, err)
	if err != nil {
		return nil, NewStoreError("fetch_unread", err)
	}

	return s.materialize(rows), nil
}

// RecoverUnread returns the user's unread events of one type, ordered
// priority desc / created_at asc, with is_recovered set. Expired rows found
// along the way are deleted in the same transaction.
func (s *EventStore) RecoverUnread(ctx context.Context, userID int64, eventType string) ([]*Event, error) {
	start := time.Now()
	var events []*Event

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []EventRow
		if err := tx.Where("target_userid = ? AND event_type = ? AND is_read = ?", userID, eventType, false).
			Order("priority DESC, created_at ASC").
			Find(&rows).Error; err != nil {
			return err
		}

		var expired []int64
		for i := range rows {
			row := &rows[i]
			if row.ExpiredAt != nil && !row.ExpiredAt.After(time.Now().UTC()) {
				expired = append(expired, row.ID)
				continue
			}

			ev, ok, err := s.registry.FromStoreRow(row)
			if err != nil {
				logger.Warn("Skipping unrecoverable event row: id=%d, type=%s, error=%v", row.ID, row.EventType, err)
				continue
			}
			if !ok {
				continue
			}
			ev.IsRecovered = true
			events = append(events, ev)
		}

		if len(expired) > 0 {
			if err := tx.Delete(&EventRow{}, expired).Error; err != nil {
				return err
			}
		}
		return nil
	})
	s.record("recover_unread", start, err)
	if err != nil {
		return nil, NewStoreError("recover_unread", err)
	}
	return events, nil
}

// PurgeStale deletes rows that are read or expired and returns the count
func (s *EventStore) PurgeStale(ctx context.Context) (int64, error) {
	start := time.Now()
	var deleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("is_read = ? OR expired_at <= ?", true, time.Now().UTC()).
			Delete(&EventRow{})
		deleted = res.RowsAffected
		return res.Error
	})
	s.record("purge_stale", start, err)
	if err != nil {
		return 0, NewStoreError("purge_stale", err)
	}
	return deleted, nil
}

// materialize converts rows into deliverable events, skipping expired rows
// and warning on unregistered types
func (s *EventStore) materialize(rows []EventRow) []*Event {
	events := make([]*Event, 0, len(rows))
	for i := range rows {
		ev, ok, err := s.registry.FromStoreRow(&rows[i])
		if err != nil {
			logger.Warn("Skipping event row: id=%d, type=%s, error=%v", rows[i].ID, rows[i].EventType, err)
			continue
		}
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events
}

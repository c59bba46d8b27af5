package ssespec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// In-memory sqlite gives each pooled connection its own database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

func newTestStore(t *testing.T) *EventStore {
	t.Helper()

	store := NewEventStore(newTestDB(t), NewRegistry())
	require.NoError(t, store.AutoMigrate())
	return store
}

func mustInsert(t *testing.T, s *EventStore, userID int64, priority Priority, createdAt time.Time, expiredAt *time.Time) *Event {
	t.Helper()

	ev, err := s.registry.NewEvent(SystemNotificationType, userID, priority, expiredAt, &SystemNotificationPayload{
		Title:   "t",
		Message: "m",
	})
	require.NoError(t, err)
	ev.CreatedAt = createdAt

	require.NoError(t, s.Insert(context.Background(), ev))
	require.NotZero(t, ev.ID)
	return ev
}

func TestStoreInsertAndFetchUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	second := mustInsert(t, s, 1, PriorityNormal, now, nil)
	first := mustInsert(t, s, 1, PriorityHigh, now.Add(-time.Minute), nil)
	mustInsert(t, s, 2, PriorityNormal, now, nil)

	events, err := s.FetchUnread(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// created_at ascending, owner only
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, second.ID, events[1].ID)
}

func TestStoreFetchUnreadSkipsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	mustInsertRaw(t, s, &EventRow{
		EventType: SystemNotificationType, Payload: []byte(`{"title":"x"}`),
		TargetUserID: 1, Priority: int(PriorityNormal), CreatedAt: now.Add(-time.Hour), ExpiredAt: &past,
	})
	live := mustInsert(t, s, 1, PriorityNormal, now, nil)

	events, err := s.FetchUnread(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, live.ID, events[0].ID)
}

// mustInsertRaw writes a row directly, bypassing the deliverability checks
func mustInsertRaw(t *testing.T, s *EventStore, row *EventRow) *EventRow {
	t.Helper()
	require.NoError(t, s.db.Create(row).Error)
	return row
}

func TestStoreMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := mustInsert(t, s, 1, PriorityNormal, time.Now().UTC(), nil)

	// Wrong owner cannot read it
	result, err := s.MarkRead(ctx, ev.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, MarkReadNotFound, result)

	result, err = s.MarkRead(ctx, ev.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, MarkReadOK, result)

	result, err = s.MarkRead(ctx, ev.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, MarkReadAlreadyRead, result)

	result, err = s.MarkRead(ctx, 99999, 1)
	require.NoError(t, err)
	assert.Equal(t, MarkReadNotFound, result)

	events, err := s.FetchUnread(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStoreBulkMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := mustInsert(t, s, 1, PriorityNormal, now, nil)
	b := mustInsert(t, s, 1, PriorityNormal, now, nil)
	other := mustInsert(t, s, 2, PriorityNormal, now, nil)

	// Rows of other users and unknown ids are skipped, not errors
	count, err := s.BulkMarkRead(ctx, []int64{a.ID, b.ID, other.ID, 99999}, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	// Already-read rows do not count a second time
	count, err = s.BulkMarkRead(ctx, []int64{a.ID, b.ID}, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	events, err := s.FetchUnread(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStoreMarkAllRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mustInsert(t, s, 1, PriorityNormal, now, nil)
	mustInsert(t, s, 1, PriorityHigh, now, nil)
	mustInsert(t, s, 2, PriorityNormal, now, nil)

	count, err := s.MarkAllRead(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	events, err := s.FetchUnread(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStoreRecoverUnreadOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	oldNormal := mustInsert(t, s, 1, PriorityNormal, now.Add(-3*time.Minute), nil)
	newNormal := mustInsert(t, s, 1, PriorityNormal, now.Add(-1*time.Minute), nil)
	critical := mustInsert(t, s, 1, PriorityCritical, now, nil)
	high := mustInsert(t, s, 1, PriorityHigh, now.Add(-2*time.Minute), nil)

	events, err := s.RecoverUnread(ctx, 1, SystemNotificationType)
	require.NoError(t, err)
	require.Len(t, events, 4)

	// priority desc, then created_at asc within a priority
	assert.Equal(t, critical.ID, events[0].ID)
	assert.Equal(t, high.ID, events[1].ID)
	assert.Equal(t, oldNormal.ID, events[2].ID)
	assert.Equal(t, newNormal.ID, events[3].ID)

	for _, ev := range events {
		assert.True(t, ev.IsRecovered)
	}
}

func TestStoreRecoverUnreadDeletesExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	stale := mustInsertRaw(t, s, &EventRow{
		EventType: SystemNotificationType, Payload: []byte(`{"title":"x"}`),
		TargetUserID: 1, Priority: int(PriorityNormal), CreatedAt: now.Add(-time.Hour), ExpiredAt: &past,
	})
	live := mustInsert(t, s, 1, PriorityNormal, now, nil)

	events, err := s.RecoverUnread(ctx, 1, SystemNotificationType)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, live.ID, events[0].ID)

	// The expired row was deleted in the same transaction
	var count int64
	require.NoError(t, s.db.Model(&EventRow{}).Where("id = ?", stale.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestStoreRecoverUnreadSkipsUnregisteredTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mustInsertRaw(t, s, &EventRow{
		EventType: "Ghost", Payload: []byte(`{}`),
		TargetUserID: 1, Priority: int(PriorityNormal), CreatedAt: now,
	})

	events, err := s.RecoverUnread(ctx, 1, "Ghost")
	require.NoError(t, err)
	assert.Empty(t, events)

	// The row is kept; a later registration can still recover it
	var count int64
	require.NoError(t, s.db.Model(&EventRow{}).Where("event_type = ?", "Ghost").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStorePurgeStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	read := mustInsert(t, s, 1, PriorityNormal, now, nil)
	_, err := s.MarkRead(ctx, read.ID, 1)
	require.NoError(t, err)

	past := now.Add(-time.Minute)
	mustInsertRaw(t, s, &EventRow{
		EventType: SystemNotificationType, Payload: []byte(`{"title":"x"}`),
		TargetUserID: 1, Priority: int(PriorityNormal), CreatedAt: now.Add(-time.Hour), ExpiredAt: &past,
	})
	keep := mustInsert(t, s, 1, PriorityNormal, now, nil)

	deleted, err := s.PurgeStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	events, err := s.FetchUnread(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, keep.ID, events[0].ID)
}

func TestStoreInsertFailureSurfacesStoreError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "event"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	s := NewEventStore(db, NewRegistry())
	ev, err := s.registry.NewEvent(SystemNotificationType, 1, PriorityNormal, nil, &SystemNotificationPayload{Title: "t"})
	require.NoError(t, err)

	err = s.Insert(context.Background(), ev)
	require.Error(t, err)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "insert", storeErr.Operation)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

package notifications

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logging.NewLoggerWithService("notifications-test")), mock
}

func TestCreateAssignsID(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`INSERT INTO notification_mirrors`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := store.Create(context.Background(), models.MirroredNotification{
		SubjectID:  "child-1",
		AppPackage: "com.whatsapp",
		Title:      "New message",
		Content:    "hello",
		Priority:   3,
		CapturedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDefaults(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "child_user_id", "app_package", "title", "content", "priority", "category", "is_read", "captured_at"}).
		AddRow("n-2", "child-1", "com.whatsapp", "b", "later", 3, "message", false, now).
		AddRow("n-1", "child-1", "com.whatsapp", "a", "earlier", 2, "message", true, now.Add(-time.Hour))

	mock.ExpectQuery(`SELECT id, child_user_id, .* FROM notification_mirrors WHERE child_user_id = \$1 ORDER BY captured_at DESC LIMIT \$2`).
		WithArgs("child-1", 50).
		WillReturnRows(rows)

	list, err := store.List(context.Background(), "child-1", ListQuery{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n-2", list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListWithFilters(t *testing.T) {
	store, mock := newTestStore(t)

	day := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	dayStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`AND captured_at >= \$2 AND captured_at < \$3 AND app_package = \$4 ORDER BY captured_at DESC LIMIT \$5`).
		WithArgs("child-1", dayStart, dayStart.Add(24*time.Hour), "com.instagram.android", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "child_user_id", "app_package", "title", "content", "priority", "category", "is_read", "captured_at"}))

	list, err := store.List(context.Background(), "child-1", ListQuery{
		Date:       &day,
		AppPackage: "com.instagram.android",
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnreadCount(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notification_mirrors`).
		WithArgs("child-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.UnreadCount(context.Background(), "child-1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestMarkRead(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`UPDATE notification_mirrors`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	updated, err := store.MarkRead(context.Background(), "parent-1", []string{"n-1", "n-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
}

func TestMarkReadEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	updated, err := store.MarkRead(context.Background(), "parent-1", nil)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

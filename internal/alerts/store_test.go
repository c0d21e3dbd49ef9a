package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logging.NewLogger()), mock
}

func batteryAlert(subjectID string) models.Alert {
	return models.Alert{
		SubjectID: subjectID,
		Kind:      models.AlertBattery,
		Severity:  models.SeverityMedium,
		Title:     "Low Battery Alert",
		Message:   "Child's device battery is at 18%",
		Data:      map[string]interface{}{"battery_level": 18, "alert_threshold": 20},
	}
}

func TestCreateAssignsIDAndTimestamp(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectExec("INSERT INTO alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := s.Create(context.Background(), batteryAlert("subject-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.TriggeredAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	s, mock := setupStore(t)

	since := time.Now().Add(-2 * time.Hour)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("subject-1", "battery", since).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.Exists(context.Background(), "subject-1", models.AlertBattery, since)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateDedupedSuppressed(t *testing.T) {
	s, mock := setupStore(t)

	// A recent battery alert exists: no insert happens
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	created, err := s.CreateDeduped(context.Background(), batteryAlert("subject-1"), 2*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDedupedWindowClear(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := s.CreateDeduped(context.Background(), batteryAlert("subject-1"), 2*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, models.AlertBattery, created.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDedupedZeroWindowSkipsCheck(t *testing.T) {
	s, mock := setupStore(t)

	// No EXISTS query expected for a zero window
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert := batteryAlert("subject-1")
	alert.Kind = models.AlertContent

	created, err := s.CreateDeduped(context.Background(), alert, 0)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDedupedStoreError(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnError(assert.AnError)

	_, err := s.CreateDeduped(context.Background(), batteryAlert("subject-1"), 2*time.Hour)
	assert.Error(t, err)
}

func TestKeyLockSharedPerKey(t *testing.T) {
	s, _ := setupStore(t)

	l1 := s.keyLock("subject-1", models.AlertBattery)
	l2 := s.keyLock("subject-1", models.AlertBattery)
	l3 := s.keyLock("subject-1", models.AlertGeofence)

	assert.Same(t, l1, l2)
	assert.NotSame(t, l1, l3)
}

package rules

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaveCybr/couple-guard/internal/alerts"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

func TestEvaluateBattery(t *testing.T) {
	tests := []struct {
		name     string
		level    int
		severity models.AlertSeverity
		triggers bool
	}{
		{name: "above threshold", level: 21, triggers: false},
		{name: "full battery", level: 100, triggers: false},
		{name: "at threshold", level: 20, severity: models.SeverityMedium, triggers: true},
		{name: "eleven percent", level: 11, severity: models.SeverityMedium, triggers: true},
		{name: "at critical threshold", level: 10, severity: models.SeverityHigh, triggers: true},
		{name: "empty battery", level: 0, severity: models.SeverityHigh, triggers: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := EvaluateBattery(tt.level)
			if !tt.triggers {
				assert.Nil(t, intent)
				return
			}
			require.NotNil(t, intent)
			assert.Equal(t, models.AlertBattery, intent.Kind)
			assert.Equal(t, tt.severity, intent.Severity)
			assert.Equal(t, "Low Battery Alert", intent.Title)
			assert.Contains(t, intent.Message, "battery")
			assert.Equal(t, tt.level, intent.Data["battery_level"])
			assert.Equal(t, BatteryDedupWindow, intent.DedupWindow)
		})
	}
}

func policyWithZones(zones ...models.Geofence) *models.MonitoringPolicy {
	return &models.MonitoringPolicy{
		FamilyID:  "family-1",
		SubjectID: "subject-1",
		SafeZones: zones,
	}
}

func TestEvaluateGeofence(t *testing.T) {
	home := models.Geofence{Name: "home", Latitude: -6.2088, Longitude: 106.8456, RadiusMeters: 500}
	school := models.Geofence{Name: "school", Latitude: -6.2200, Longitude: 106.8300, RadiusMeters: 300}

	t.Run("inside a zone", func(t *testing.T) {
		intent := EvaluateGeofence(home.Latitude, home.Longitude, policyWithZones(home, school))
		assert.Nil(t, intent)
	})

	t.Run("inside the second zone", func(t *testing.T) {
		intent := EvaluateGeofence(school.Latitude, school.Longitude, policyWithZones(home, school))
		assert.Nil(t, intent)
	})

	t.Run("outside every zone", func(t *testing.T) {
		// Roughly 11km east of home, further from school
		intent := EvaluateGeofence(home.Latitude, home.Longitude+0.1, policyWithZones(home, school))
		require.NotNil(t, intent)
		assert.Equal(t, models.AlertGeofence, intent.Kind)
		assert.Equal(t, models.SeverityHigh, intent.Severity)
		assert.Equal(t, "home", intent.Data["zone"], "nearest zone is identified")
	})

	t.Run("no zones configured", func(t *testing.T) {
		assert.Nil(t, EvaluateGeofence(0, 0, policyWithZones()))
		assert.Nil(t, EvaluateGeofence(0, 0, nil))
	})

	t.Run("dedup window comes from the policy", func(t *testing.T) {
		p := policyWithZones(home)
		p.GeofenceAlertWindow = 15 * time.Minute
		intent := EvaluateGeofence(0, 0, p)
		require.NotNil(t, intent)
		assert.Equal(t, 15*time.Minute, intent.DedupWindow)
	})
}

func policyWithKeywords(keywords ...string) *models.MonitoringPolicy {
	return &models.MonitoringPolicy{
		FamilyID:        "family-1",
		SubjectID:       "subject-1",
		BlockedKeywords: keywords,
	}
}

func TestEvaluateContent(t *testing.T) {
	t.Run("keyword match is case-insensitive", func(t *testing.T) {
		intent := EvaluateContent("com.app", "Check this out", "found some Drugs for sale", policyWithKeywords("drugs"))
		require.NotNil(t, intent)
		assert.Equal(t, models.AlertContent, intent.Kind)
		assert.Equal(t, models.SeverityHigh, intent.Severity)
		assert.Equal(t, "drugs", intent.Data["keyword"])
		assert.Equal(t, "found some Drugs for sale", intent.Data["content_preview"], "preview keeps raw casing")
		assert.Equal(t, "Detected blocked keyword: drugs", intent.Message)
	})

	t.Run("first match in policy order wins", func(t *testing.T) {
		intent := EvaluateContent("com.app", "", "gambling and drugs", policyWithKeywords("drugs", "gambling"))
		require.NotNil(t, intent)
		assert.Equal(t, "drugs", intent.Data["keyword"])
	})

	t.Run("keyword may match across title and content", func(t *testing.T) {
		intent := EvaluateContent("com.app", "VAPE", "shop nearby", policyWithKeywords("vape"))
		require.NotNil(t, intent)
		assert.Equal(t, "vape", intent.Data["keyword"])
	})

	t.Run("preview truncated to 100 characters of raw content", func(t *testing.T) {
		long := strings.Repeat("x", 150) + " drugs"
		intent := EvaluateContent("com.app", "", long, policyWithKeywords("drugs"))
		require.NotNil(t, intent)
		assert.Equal(t, long[:100], intent.Data["content_preview"])
	})

	t.Run("content alerts are never deduped", func(t *testing.T) {
		intent := EvaluateContent("com.app", "", "drugs", policyWithKeywords("drugs"))
		require.NotNil(t, intent)
		assert.Equal(t, time.Duration(0), intent.DedupWindow)
	})

	t.Run("no keywords configured", func(t *testing.T) {
		assert.Nil(t, EvaluateContent("com.app", "title", "content", policyWithKeywords()))
		assert.Nil(t, EvaluateContent("com.app", "title", "content", nil))
	})

	t.Run("no match", func(t *testing.T) {
		assert.Nil(t, EvaluateContent("com.app", "homework", "math due friday", policyWithKeywords("drugs")))
	})
}

func setupEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := logging.NewLogger()
	return NewEngine(alerts.New(db, logger), logger), mock
}

func TestCommitPersistsIntents(t *testing.T) {
	e, mock := setupEngine(t)

	// Battery intent: dedup check clear, then insert
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now().UTC()
	created, err := e.Commit(context.Background(), "subject-1", []*Intent{EvaluateBattery(15)}, now)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, models.AlertBattery, created[0].Kind)
	assert.Equal(t, now, created[0].TriggeredAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitSuppressedByDedup(t *testing.T) {
	e, mock := setupEngine(t)

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	created, err := e.Commit(context.Background(), "subject-1", []*Intent{EvaluateBattery(15)}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitSuppressionHookFires(t *testing.T) {
	e, mock := setupEngine(t)

	var suppressed []models.AlertKind
	e.SetSuppressionHook(func(kind models.AlertKind) {
		suppressed = append(suppressed, kind)
	})

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	created, err := e.Commit(context.Background(), "subject-1", []*Intent{EvaluateBattery(15)}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Equal(t, []models.AlertKind{models.AlertBattery}, suppressed)
}

func TestCommitStoreFailureSurfaces(t *testing.T) {
	e, mock := setupEngine(t)

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnError(assert.AnError)

	_, err := e.Commit(context.Background(), "subject-1", []*Intent{EvaluateBattery(15)}, time.Now())
	assert.Error(t, err)
}

func TestCommitSkipsNilIntents(t *testing.T) {
	e, _ := setupEngine(t)

	created, err := e.Commit(context.Background(), "subject-1", []*Intent{nil, EvaluateBattery(90)}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, created)
}

package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaveCybr/couple-guard/internal/alerts"
	"github.com/DaveCybr/couple-guard/internal/guard"
	"github.com/DaveCybr/couple-guard/internal/history"
	"github.com/DaveCybr/couple-guard/internal/ingest"
	"github.com/DaveCybr/couple-guard/internal/locations"
	"github.com/DaveCybr/couple-guard/internal/notifications"
	"github.com/DaveCybr/couple-guard/internal/policy"
	"github.com/DaveCybr/couple-guard/internal/rules"
	"github.com/DaveCybr/couple-guard/internal/websocket"
	"github.com/DaveCybr/couple-guard/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testApp struct {
	router *gin.Engine
	pg     sqlmock.Sqlmock
	ch     sqlmock.Sqlmock
}

// asUser stamps the auth context the JWT middleware would normally set
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	}
}

func newTestApp(t *testing.T, userID string) *testApp {
	pgDB, pgMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { pgDB.Close() })

	chDB, chMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { chDB.Close() })

	logger := logging.NewLoggerWithService("handlers-test")
	sampleStore := locations.New(chDB, logger)
	policyStore := policy.New(pgDB, logger)
	alertStore := alerts.New(pgDB, logger)
	mirrorStore := notifications.New(pgDB, logger)
	engine := rules.NewEngine(alertStore, logger)
	pairing := guard.New(pgDB, logger)
	hub := websocket.NewHub("test-secret", pairing.IsAuthorizedViewer, logger)

	h := NewLookoutHandlers(
		ingest.NewLocationService(sampleStore, policyStore, engine, hub, logger),
		ingest.NewNotificationService(mirrorStore, policyStore, engine, hub, logger),
		mirrorStore,
		history.New(pairing, sampleStore, logger),
		hub,
		nil,
		logger,
	)

	router := gin.New()
	router.Use(asUser(userID))
	router.POST("/location/update", h.UpdateLocation)
	router.GET("/location/track/:subjectID", h.TrackLocation)
	router.GET("/location/history/:subjectID", h.LocationHistory)
	router.GET("/location/track-all", h.TrackAll)
	router.POST("/notification/send", h.SendNotification)
	router.POST("/notification/batch-send", h.BatchSendNotifications)
	router.GET("/notification/list/:subjectID", h.ListNotifications)
	router.POST("/notification/mark-read", h.MarkNotificationsRead)

	return &testApp{router: router, pg: pgMock, ch: chMock}
}

func (a *testApp) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestUpdateLocationSuccess(t *testing.T) {
	app := newTestApp(t, "child-1")
	app.pg.ExpectQuery(`SELECT family_id, notification_filters`).
		WillReturnError(sql.ErrNoRows)
	app.ch.ExpectExec(`INSERT INTO location_samples`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := app.do(http.MethodPost, "/location/update", gin.H{
		"latitude":      -6.2,
		"longitude":     106.8,
		"accuracy":      8.0,
		"battery_level": 77,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Location updated successfully", body["message"])
}

func TestUpdateLocationValidation(t *testing.T) {
	app := newTestApp(t, "child-1")

	w := app.do(http.MethodPost, "/location/update", gin.H{
		"latitude":      91.0,
		"longitude":     106.8,
		"battery_level": 77,
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	errs := body["errors"].(map[string]interface{})
	assert.Contains(t, errs, "latitude")
}

func TestUpdateLocationStoreDownReturns503(t *testing.T) {
	app := newTestApp(t, "child-1")
	app.pg.ExpectQuery(`SELECT family_id, notification_filters`).
		WillReturnError(sql.ErrNoRows)
	app.ch.ExpectExec(`INSERT INTO location_samples`).
		WillReturnError(errors.New("clickhouse timeout"))

	w := app.do(http.MethodPost, "/location/update", gin.H{
		"latitude":      -6.2,
		"longitude":     106.8,
		"accuracy":      8.0,
		"battery_level": 77,
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
}

func TestUpdateLocationMalformedBody(t *testing.T) {
	app := newTestApp(t, "child-1")

	req := httptest.NewRequest(http.MethodPost, "/location/update", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackLocationUnauthorized(t *testing.T) {
	app := newTestApp(t, "stranger")
	app.pg.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	w := app.do(http.MethodGet, "/location/track/child-1", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Unauthorized access", body["message"])
}

func TestTrackLocationNoData(t *testing.T) {
	app := newTestApp(t, "parent-1")
	app.pg.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	app.ch.ExpectQuery(`ORDER BY captured_at DESC\s+LIMIT 1`).
		WillReturnError(sql.ErrNoRows)

	w := app.do(http.MethodGet, "/location/track/child-1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, "No location data found", body["message"])
}

func TestTrackLocationSuccess(t *testing.T) {
	app := newTestApp(t, "parent-1")
	app.pg.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	app.ch.ExpectQuery(`ORDER BY captured_at DESC\s+LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject_id", "latitude", "longitude", "accuracy", "battery_level", "captured_at"}).
			AddRow("s-1", "child-1", -6.2, 106.8, 10.0, 80, time.Now().Add(-3*time.Minute)))

	w := app.do(http.MethodGet, "/location/track/child-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["is_recent"])
}

func TestLocationHistoryBadDate(t *testing.T) {
	app := newTestApp(t, "parent-1")

	w := app.do(http.MethodGet, "/location/history/child-1?date=10-03-2025", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	errs := body["errors"].(map[string]interface{})
	assert.Contains(t, errs, "date")
}

func TestSendNotificationSuccess(t *testing.T) {
	app := newTestApp(t, "child-1")
	app.pg.ExpectQuery(`SELECT family_id, notification_filters`).
		WillReturnError(sql.ErrNoRows)
	app.pg.ExpectExec(`INSERT INTO notification_mirrors`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := app.do(http.MethodPost, "/notification/send", gin.H{
		"app_package": "com.whatsapp",
		"title":       "New message",
		"content":     "see you at 5",
		"priority":    3,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
}

func TestBatchSendReportsPerItemErrors(t *testing.T) {
	app := newTestApp(t, "child-1")
	app.pg.ExpectQuery(`SELECT family_id, notification_filters`).
		WillReturnError(sql.ErrNoRows)
	app.pg.ExpectExec(`INSERT INTO notification_mirrors`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := app.do(http.MethodPost, "/notification/batch-send", gin.H{
		"notifications": []gin.H{
			{"app_package": "com.whatsapp", "title": "a", "content": "ok", "priority": 3},
			{"title": "b", "content": "missing package", "priority": 3},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	errs := body["errors"].([]interface{})
	require.Len(t, errs, 1)
	assert.Equal(t, float64(1), errs[0].(map[string]interface{})["index"])
}

func TestListNotificationsAuthorized(t *testing.T) {
	app := newTestApp(t, "parent-1")
	app.pg.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	app.pg.ExpectQuery(`SELECT id, child_user_id, .* FROM notification_mirrors`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "child_user_id", "app_package", "title", "content", "priority", "category", "is_read", "captured_at"}).
			AddRow("n-1", "child-1", "com.whatsapp", "t", "c", 3, nil, false, time.Now()))
	app.pg.ExpectQuery(`SELECT COUNT\(\*\) FROM notification_mirrors`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	w := app.do(http.MethodGet, "/notification/list/child-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["unread_count"])
}

func TestListNotificationsForbidden(t *testing.T) {
	app := newTestApp(t, "stranger")
	app.pg.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	w := app.do(http.MethodGet, "/notification/list/child-1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMarkReadRequiresIDs(t *testing.T) {
	app := newTestApp(t, "parent-1")

	w := app.do(http.MethodPost, "/notification/mark-read", gin.H{"notification_ids": []string{}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestMarkReadSuccess(t *testing.T) {
	app := newTestApp(t, "parent-1")
	app.pg.ExpectExec(`UPDATE notification_mirrors`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	w := app.do(http.MethodPost, "/notification/mark-read", gin.H{
		"notification_ids": []string{"n-1", "n-2"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["updated"])
}

func TestTrackAllOverview(t *testing.T) {
	app := newTestApp(t, "parent-1")
	app.pg.ExpectQuery(`SELECT c\.user_id`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("child-1"))
	app.ch.ExpectQuery(`ORDER BY captured_at DESC\s+LIMIT 1`).
		WillReturnError(sql.ErrNoRows)

	w := app.do(http.MethodGet, "/location/track-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total_children"])
	children := body["children_locations"].([]interface{})
	assert.Equal(t, "no_data", children[0].(map[string]interface{})["status"])
}

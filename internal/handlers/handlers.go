package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DaveCybr/couple-guard/internal/history"
	"github.com/DaveCybr/couple-guard/internal/ingest"
	"github.com/DaveCybr/couple-guard/internal/metrics"
	"github.com/DaveCybr/couple-guard/internal/notifications"
	"github.com/DaveCybr/couple-guard/internal/websocket"
	"github.com/DaveCybr/couple-guard/pkg/api/lookout"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

const maxNotificationListLimit = 100

// LookoutHandlers contains the HTTP handlers for the service
type LookoutHandlers struct {
	locations      *ingest.LocationService
	notifications  *ingest.NotificationService
	mirrors        *notifications.Store
	history        *history.Aggregator
	hub            *websocket.Hub
	serviceMetrics *metrics.Metrics
	logger         logging.Logger
}

// NewLookoutHandlers creates a new handlers instance
func NewLookoutHandlers(
	locations *ingest.LocationService,
	notificationSvc *ingest.NotificationService,
	mirrors *notifications.Store,
	historyAgg *history.Aggregator,
	hub *websocket.Hub,
	serviceMetrics *metrics.Metrics,
	logger logging.Logger,
) *LookoutHandlers {
	return &LookoutHandlers{
		locations:      locations,
		notifications:  notificationSvc,
		mirrors:        mirrors,
		history:        historyAgg,
		hub:            hub,
		serviceMetrics: serviceMetrics,
		logger:         logger,
	}
}

// respondError maps pipeline errors onto the HTTP surface
func (h *LookoutHandlers) respondError(c *gin.Context, err error, notFoundMessage string) {
	if verr, ok := lookout.AsValidationError(err); ok {
		c.JSON(http.StatusUnprocessableEntity, lookout.ValidationErrorResponse{
			Success: false,
			Message: "Validation failed",
			Errors:  verr.Fields,
		})
		return
	}
	switch {
	case errors.Is(err, lookout.ErrForbidden):
		c.JSON(http.StatusForbidden, lookout.ErrorResponse{
			Success: false,
			Message: "Unauthorized access",
		})
	case errors.Is(err, lookout.ErrNotFound):
		c.JSON(http.StatusNotFound, lookout.ErrorResponse{
			Success: false,
			Message: notFoundMessage,
		})
	case errors.Is(err, lookout.ErrUnavailable):
		h.logger.WithError(err).Error("Downstream dependency unavailable")
		c.JSON(http.StatusServiceUnavailable, lookout.ErrorResponse{
			Success: false,
			Message: "Service temporarily unavailable",
		})
	default:
		h.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, lookout.ErrorResponse{
			Success: false,
			Message: "Internal server error",
		})
	}
}

// UpdateLocation handles POST /location/update from a subject device
func (h *LookoutHandlers) UpdateLocation(c *gin.Context) {
	start := time.Now()
	defer h.observeIngest("location", start)

	var req lookout.LocationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, lookout.ErrorResponse{
			Success: false,
			Message: "Invalid request body",
		})
		return
	}

	subjectID := c.GetString("user_id")
	result, err := h.locations.Ingest(c.Request.Context(), subjectID, req, time.Now().UTC())
	if err != nil {
		h.countIngest("location", "error", "")
		h.respondError(c, err, "Not found")
		return
	}

	h.countIngest("location", "ok", "")
	h.countAlerts(result.Alerts)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Location updated successfully",
		"location": result.Sample,
		"alerts":   len(result.Alerts),
	})
}

// TrackLocation handles GET /location/track/:subjectID for a viewer
func (h *LookoutHandlers) TrackLocation(c *gin.Context) {
	start := time.Now()
	defer h.observeQuery("track", start)

	viewerID := c.GetString("user_id")
	subjectID := c.Param("subjectID")

	resp, err := h.history.Track(c.Request.Context(), viewerID, subjectID, time.Now().UTC())
	if err != nil {
		h.countQuery("track", "error")
		h.respondError(c, err, "No location data found")
		return
	}

	h.countQuery("track", "ok")
	c.JSON(http.StatusOK, resp)
}

// LocationHistory handles GET /location/history/:subjectID
func (h *LookoutHandlers) LocationHistory(c *gin.Context) {
	start := time.Now()
	defer h.observeQuery("history", start)

	viewerID := c.GetString("user_id")
	subjectID := c.Param("subjectID")

	query := history.HistoryQuery{}
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.respondError(c, lookout.NewValidationError("date", "date must be formatted YYYY-MM-DD"), "")
			return
		}
		query.Date = &parsed
	}
	if raw := c.Query("start_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.respondError(c, lookout.NewValidationError("start_date", "start_date must be formatted YYYY-MM-DD"), "")
			return
		}
		query.StartDate = &parsed
	}
	if raw := c.Query("end_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.respondError(c, lookout.NewValidationError("end_date", "end_date must be formatted YYYY-MM-DD"), "")
			return
		}
		end := parsed.Add(24*time.Hour - time.Nanosecond)
		query.EndDate = &end
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.respondError(c, lookout.NewValidationError("limit", "limit must be a positive integer"), "")
			return
		}
		query.Limit = limit
	}

	resp, err := h.history.History(c.Request.Context(), viewerID, subjectID, query, time.Now().UTC())
	if err != nil {
		h.countQuery("history", "error")
		h.respondError(c, err, "Not found")
		return
	}

	h.countQuery("history", "ok")
	c.JSON(http.StatusOK, resp)
}

// TrackAll handles GET /location/track-all for a viewer
func (h *LookoutHandlers) TrackAll(c *gin.Context) {
	start := time.Now()
	defer h.observeQuery("track_all", start)

	viewerID := c.GetString("user_id")
	resp, err := h.history.TrackAll(c.Request.Context(), viewerID, time.Now().UTC())
	if err != nil {
		h.countQuery("track_all", "error")
		h.respondError(c, err, "Not found")
		return
	}

	h.countQuery("track_all", "ok")
	c.JSON(http.StatusOK, resp)
}

// SendNotification handles POST /notification/send from a subject device
func (h *LookoutHandlers) SendNotification(c *gin.Context) {
	start := time.Now()
	defer h.observeIngest("notification", start)

	var req lookout.NotificationSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, lookout.ErrorResponse{
			Success: false,
			Message: "Invalid request body",
		})
		return
	}

	subjectID := c.GetString("user_id")
	result, err := h.notifications.Ingest(c.Request.Context(), subjectID, req, time.Now().UTC())
	if err != nil {
		h.countIngest("notification", "error", "")
		h.respondError(c, err, "Not found")
		return
	}

	h.countIngest("notification", "ok", strconv.FormatBool(result.Filtered))
	h.countAlerts(result.Alerts)
	c.JSON(http.StatusOK, lookout.SuccessResponse{
		Success: true,
		Message: "Notification received",
	})
}

// BatchSendNotifications handles POST /notification/batch-send
func (h *LookoutHandlers) BatchSendNotifications(c *gin.Context) {
	start := time.Now()
	defer h.observeIngest("notification_batch", start)

	var req lookout.BatchSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, lookout.ErrorResponse{
			Success: false,
			Message: "Invalid request body",
		})
		return
	}

	subjectID := c.GetString("user_id")
	result, err := h.notifications.IngestBatch(c.Request.Context(), subjectID, req.Notifications, time.Now().UTC())
	if err != nil {
		h.countIngest("notification_batch", "error", "")
		h.respondError(c, err, "Not found")
		return
	}

	h.countIngest("notification_batch", "ok", "")
	c.JSON(http.StatusOK, lookout.BatchSendResponse{
		Success: true,
		Message: "Batch processed",
		Count:   result.Committed,
		Errors:  result.Errors,
	})
}

// ListNotifications handles GET /notification/list/:subjectID for a viewer
func (h *LookoutHandlers) ListNotifications(c *gin.Context) {
	start := time.Now()
	defer h.observeQuery("notification_list", start)

	viewerID := c.GetString("user_id")
	subjectID := c.Param("subjectID")

	if err := h.history.Authorize(c.Request.Context(), viewerID, subjectID); err != nil {
		h.countQuery("notification_list", "error")
		h.respondError(c, err, "Not found")
		return
	}

	query := notifications.ListQuery{}
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.respondError(c, lookout.NewValidationError("date", "date must be formatted YYYY-MM-DD"), "")
			return
		}
		query.Date = &parsed
	}
	query.AppPackage = c.Query("app_package")
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.respondError(c, lookout.NewValidationError("limit", "limit must be a positive integer"), "")
			return
		}
		if limit > maxNotificationListLimit {
			limit = maxNotificationListLimit
		}
		query.Limit = limit
	}

	list, err := h.mirrors.List(c.Request.Context(), subjectID, query)
	if err != nil {
		h.countQuery("notification_list", "error")
		h.respondError(c, err, "Not found")
		return
	}
	unread, err := h.mirrors.UnreadCount(c.Request.Context(), subjectID)
	if err != nil {
		h.countQuery("notification_list", "error")
		h.respondError(c, err, "Not found")
		return
	}

	h.countQuery("notification_list", "ok")
	c.JSON(http.StatusOK, lookout.NotificationListResponse{
		Success:       true,
		Notifications: list,
		UnreadCount:   unread,
	})
}

// MarkNotificationsRead handles POST /notification/mark-read for a viewer
func (h *LookoutHandlers) MarkNotificationsRead(c *gin.Context) {
	var req lookout.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, lookout.ErrorResponse{
			Success: false,
			Message: "Invalid request body",
		})
		return
	}
	if len(req.NotificationIDs) == 0 {
		h.respondError(c, lookout.NewValidationError("notification_ids", "notification_ids must not be empty"), "")
		return
	}

	viewerID := c.GetString("user_id")
	updated, err := h.mirrors.MarkRead(c.Request.Context(), viewerID, req.NotificationIDs)
	if err != nil {
		h.respondError(c, err, "Not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Notifications marked as read",
		"updated": updated,
	})
}

// HandleWebSocket upgrades GET /ws to the realtime stream
func (h *LookoutHandlers) HandleWebSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

func (h *LookoutHandlers) observeIngest(kind string, start time.Time) {
	if h.serviceMetrics != nil {
		h.serviceMetrics.IngestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (h *LookoutHandlers) observeQuery(query string, start time.Time) {
	if h.serviceMetrics != nil {
		h.serviceMetrics.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

func (h *LookoutHandlers) countIngest(kind, result, filtered string) {
	if h.serviceMetrics == nil {
		return
	}
	switch kind {
	case "location":
		h.serviceMetrics.LocationSamples.WithLabelValues(result).Inc()
	case "notification", "notification_batch":
		h.serviceMetrics.NotificationsMirrors.WithLabelValues(result, filtered).Inc()
	}
}

func (h *LookoutHandlers) countQuery(query, result string) {
	if h.serviceMetrics != nil {
		h.serviceMetrics.TrackingQueries.WithLabelValues(query, result).Inc()
	}
}

func (h *LookoutHandlers) countAlerts(alerts []models.Alert) {
	if h.serviceMetrics == nil {
		return
	}
	for _, alert := range alerts {
		h.serviceMetrics.AlertsTriggered.WithLabelValues(string(alert.Kind), string(alert.Severity)).Inc()
	}
}

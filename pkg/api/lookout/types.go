package lookout

import (
	"time"

	"github.com/DaveCybr/couple-guard/pkg/models"
)

// LocationUpdateRequest is the body of POST /location/update. Pointer fields
// distinguish missing values from legitimate zeroes (latitude 0 is valid).
type LocationUpdateRequest struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Accuracy     *float64 `json:"accuracy"`
	BatteryLevel *int     `json:"battery_level"`
}

// NotificationSendRequest is the body of POST /notification/send and a single
// item of the batch variant
type NotificationSendRequest struct {
	AppPackage string     `json:"app_package"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Priority   *int       `json:"priority"`
	Category   *string    `json:"category,omitempty"`
	CapturedAt *time.Time `json:"timestamp,omitempty"`
}

// BatchSendRequest is the body of POST /notification/batch-send
type BatchSendRequest struct {
	Notifications []NotificationSendRequest `json:"notifications"`
}

// MarkReadRequest is the body of POST /notification/mark-read
type MarkReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

// SuccessResponse is the generic success envelope
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the generic failure envelope
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ValidationErrorResponse carries field errors for a 422 response
type ValidationErrorResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// TrackResponse is the response of GET /location/track/{subjectID}
type TrackResponse struct {
	Success           bool                   `json:"success"`
	Location          *models.LocationSample `json:"location"`
	LastUpdateMinutes float64                `json:"last_update_minutes"`
	IsRecent          bool                   `json:"is_recent"`
}

// DateRange bounds the samples included in a history response
type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// HistoryResponse is the response of GET /location/history/{subjectID}
type HistoryResponse struct {
	Success               bool                    `json:"success"`
	Locations             []models.LocationSample `json:"locations"`
	TotalPoints           int                     `json:"total_points"`
	ApproximateDistanceKm float64                 `json:"approximate_distance_km"`
	DateRange             DateRange               `json:"date_range"`
}

// SubjectStatus is one subject's entry in the track-all response
type SubjectStatus struct {
	SubjectID         string                 `json:"subject_id"`
	Location          *models.LocationSample `json:"location"`
	LastUpdateMinutes *float64               `json:"last_update_minutes"`
	IsRecent          bool                   `json:"is_recent"`
	Status            string                 `json:"status"`
}

// TrackAllResponse is the response of GET /location/track-all
type TrackAllResponse struct {
	Success           bool            `json:"success"`
	ChildrenLocations []SubjectStatus `json:"children_locations"`
	TotalChildren     int             `json:"total_children"`
}

// BatchItemError reports a validation failure for one batch item
type BatchItemError struct {
	Index  int               `json:"index"`
	Errors map[string]string `json:"errors"`
}

// BatchSendResponse is the response of POST /notification/batch-send.
// Count reflects committed items only; failed items are listed per index.
type BatchSendResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Count   int              `json:"count"`
	Errors  []BatchItemError `json:"errors,omitempty"`
}

// NotificationListResponse is the response of GET /notification/list/{subjectID}
type NotificationListResponse struct {
	Success       bool                          `json:"success"`
	Notifications []models.MirroredNotification `json:"notifications"`
	UnreadCount   int                           `json:"unread_count"`
}

package models

import (
	"time"
)

// LocationSample is a single GPS fix pushed from a subject device.
// Immutable once committed; the stream is append-only.
type LocationSample struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Accuracy     float64   `json:"accuracy"`
	BatteryLevel int       `json:"battery_level"`
	CapturedAt   time.Time `json:"captured_at"`
}

// MirroredNotification is a copy of a notification shown on the subject
// device. Immutable except IsRead, which a viewer may flip.
type MirroredNotification struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id"`
	AppPackage string    `json:"app_package"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Priority   int       `json:"priority"`
	Category   *string   `json:"category,omitempty"`
	IsRead     bool      `json:"is_read"`
	CapturedAt time.Time `json:"captured_at"`
}

// AlertKind identifies the rule that produced an alert
type AlertKind string

const (
	AlertBattery  AlertKind = "battery"
	AlertGeofence AlertKind = "geofence"
	AlertContent  AlertKind = "content"
)

// AlertSeverity ranks an alert for viewer display
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// Alert is an append-only record of a triggered rule. Created only by the
// rule engine, never mutated.
type Alert struct {
	ID          string                 `json:"id"`
	SubjectID   string                 `json:"subject_id"`
	Kind        AlertKind              `json:"kind"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	TriggeredAt time.Time              `json:"triggered_at"`
}

// Geofence is a circular allowed zone
type Geofence struct {
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// MonitoringPolicy is the guardian-configured policy for one subject.
// Mutated only by the configuration surface; read-only to the pipeline.
type MonitoringPolicy struct {
	FamilyID            string          `json:"family_id"`
	SubjectID           string          `json:"subject_id"`
	NotificationFilters map[string]bool `json:"notification_filters"`
	BlockedKeywords     []string        `json:"blocked_keywords"`
	SafeZones           []Geofence      `json:"safe_zones"`
	GeofenceAlertWindow time.Duration   `json:"-"`
}

// AppMonitored reports whether notifications from the given app package are
// forwarded to viewers. Absence of a filter entry means monitored
// (default-allow); a nil policy monitors everything.
func (p *MonitoringPolicy) AppMonitored(appPackage string) bool {
	if p == nil || p.NotificationFilters == nil {
		return true
	}
	monitored, ok := p.NotificationFilters[appPackage]
	if !ok {
		return true
	}
	return monitored
}

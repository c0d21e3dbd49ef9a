// Package rules evaluates battery, geofence, and content rules against
// incoming telemetry. Evaluation is pure; committing the resulting intents
// goes through the alert store so every intent is deduped before persist.
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DaveCybr/couple-guard/internal/alerts"
	"github.com/DaveCybr/couple-guard/pkg/geo"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

const (
	// Battery level at or below which a low-battery alert is raised
	BatteryAlertThreshold = 20
	// Battery level at or below which the alert severity escalates to high
	BatteryCriticalThreshold = 10
	// Minimum interval between two battery alerts for one subject
	BatteryDedupWindow = 2 * time.Hour
	// Longest raw-content excerpt attached to a content alert
	ContentPreviewLength = 100
)

// Intent is a rule verdict that still has to clear dedup before it becomes
// a persisted alert.
type Intent struct {
	Kind        models.AlertKind
	Severity    models.AlertSeverity
	Title       string
	Message     string
	Data        map[string]interface{}
	DedupWindow time.Duration
}

// EvaluateBattery returns a battery intent when the level is at or below the
// alert threshold, nil otherwise.
func EvaluateBattery(batteryLevel int) *Intent {
	if batteryLevel > BatteryAlertThreshold {
		return nil
	}

	severity := models.SeverityMedium
	if batteryLevel <= BatteryCriticalThreshold {
		severity = models.SeverityHigh
	}

	return &Intent{
		Kind:     models.AlertBattery,
		Severity: severity,
		Title:    "Low Battery Alert",
		Message:  fmt.Sprintf("Child's device battery is at %d%%", batteryLevel),
		Data: map[string]interface{}{
			"battery_level":   batteryLevel,
			"alert_threshold": BatteryAlertThreshold,
		},
		DedupWindow: BatteryDedupWindow,
	}
}

// EvaluateGeofence returns a geofence intent when the point lies outside
// every safe zone in the policy. A policy without zones never violates.
// The dedup window comes from the policy (zero means alert every violation).
func EvaluateGeofence(lat, lon float64, policy *models.MonitoringPolicy) *Intent {
	if policy == nil || len(policy.SafeZones) == 0 {
		return nil
	}

	nearest := policy.SafeZones[0]
	nearestDistance := geo.HaversineDistanceMeters(lat, lon, nearest.Latitude, nearest.Longitude)

	for _, zone := range policy.SafeZones {
		d := geo.HaversineDistanceMeters(lat, lon, zone.Latitude, zone.Longitude)
		if d <= zone.RadiusMeters {
			return nil
		}
		if d < nearestDistance {
			nearest = zone
			nearestDistance = d
		}
	}

	return &Intent{
		Kind:     models.AlertGeofence,
		Severity: models.SeverityHigh,
		Title:    "Geofence Alert",
		Message:  fmt.Sprintf("Child left the safe zone '%s'", nearest.Name),
		Data: map[string]interface{}{
			"latitude":        lat,
			"longitude":       lon,
			"zone":            nearest.Name,
			"distance_meters": nearestDistance,
		},
		DedupWindow: policy.GeofenceAlertWindow,
	}
}

// EvaluateContent scans the lowercased title and content for blocked
// keywords in policy order. The first match wins; scanning stops there.
func EvaluateContent(appPackage, title, content string, policy *models.MonitoringPolicy) *Intent {
	if policy == nil || len(policy.BlockedKeywords) == 0 {
		return nil
	}

	haystack := strings.ToLower(title + " " + content)

	for _, keyword := range policy.BlockedKeywords {
		if keyword == "" {
			continue
		}
		if !strings.Contains(haystack, strings.ToLower(keyword)) {
			continue
		}

		preview := content
		if len(preview) > ContentPreviewLength {
			preview = preview[:ContentPreviewLength]
		}

		return &Intent{
			Kind:     models.AlertContent,
			Severity: models.SeverityHigh,
			Title:    "Blocked Content Detected",
			Message:  fmt.Sprintf("Detected blocked keyword: %s", keyword),
			Data: map[string]interface{}{
				"app_package":     appPackage,
				"keyword":         keyword,
				"title":           title,
				"content_preview": preview,
			},
			// Every distinct keyword hit is a new alert
			DedupWindow: 0,
		}
	}

	return nil
}

// Engine commits rule intents through the alert store
type Engine struct {
	store      *alerts.Store
	logger     logging.Logger
	suppressed func(kind models.AlertKind)
}

// NewEngine creates a rule engine backed by the given alert store
func NewEngine(store *alerts.Store, logger logging.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// SetSuppressionHook registers a callback invoked once per intent the dedup
// window suppresses
func (e *Engine) SetSuppressionHook(hook func(kind models.AlertKind)) {
	e.suppressed = hook
}

// Commit dedupes and persists each intent in order. A store failure fails
// the whole call; the caller must surface it rather than report a lost
// alert as success. Returns the alerts actually created.
func (e *Engine) Commit(ctx context.Context, subjectID string, intents []*Intent, now time.Time) ([]models.Alert, error) {
	var created []models.Alert
	for _, intent := range intents {
		if intent == nil {
			continue
		}

		alert := models.Alert{
			SubjectID:   subjectID,
			Kind:        intent.Kind,
			Severity:    intent.Severity,
			Title:       intent.Title,
			Message:     intent.Message,
			Data:        intent.Data,
			TriggeredAt: now,
		}

		result, err := e.store.CreateDeduped(ctx, alert, intent.DedupWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to commit %s alert: %w", intent.Kind, err)
		}
		if result == nil {
			e.logger.WithFields(logging.Fields{
				"subject_id": subjectID,
				"kind":       intent.Kind,
			}).Debug("Alert suppressed by dedup window")
			if e.suppressed != nil {
				e.suppressed(intent.Kind)
			}
			continue
		}
		created = append(created, *result)
	}
	return created, nil
}

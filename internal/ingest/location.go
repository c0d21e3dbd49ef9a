package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DaveCybr/couple-guard/internal/locations"
	"github.com/DaveCybr/couple-guard/internal/rules"
	"github.com/DaveCybr/couple-guard/pkg/api/lookout"
	"github.com/DaveCybr/couple-guard/pkg/kafka"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

// LocationResult is what a committed location push produced
type LocationResult struct {
	Sample models.LocationSample
	Alerts []models.Alert
}

// LocationService handles location pushes end to end: validate, evaluate
// rules, persist, publish.
type LocationService struct {
	samples   *locations.Store
	policies  PolicyProvider
	engine    *rules.Engine
	publisher EventPublisher
	logger    logging.Logger
}

func NewLocationService(samples *locations.Store, policies PolicyProvider, engine *rules.Engine, publisher EventPublisher, logger logging.Logger) *LocationService {
	return &LocationService{
		samples:   samples,
		policies:  policies,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
	}
}

func validateLocation(req lookout.LocationUpdateRequest) *lookout.ValidationError {
	fields := map[string]string{}
	if req.Latitude == nil {
		fields["latitude"] = "latitude is required"
	} else if *req.Latitude < -90 || *req.Latitude > 90 {
		fields["latitude"] = "latitude must be between -90 and 90"
	}
	if req.Longitude == nil {
		fields["longitude"] = "longitude is required"
	} else if *req.Longitude < -180 || *req.Longitude > 180 {
		fields["longitude"] = "longitude must be between -180 and 180"
	}
	if req.Accuracy == nil {
		fields["accuracy"] = "accuracy is required"
	} else if *req.Accuracy < 0 {
		fields["accuracy"] = "accuracy must not be negative"
	}
	if req.BatteryLevel == nil {
		fields["battery_level"] = "battery_level is required"
	} else if *req.BatteryLevel < 0 || *req.BatteryLevel > 100 {
		fields["battery_level"] = "battery_level must be between 0 and 100"
	}
	if len(fields) > 0 {
		return &lookout.ValidationError{Fields: fields}
	}
	return nil
}

// Ingest commits one location sample for the subject. Rule alerts are emitted
// before the streaming events so viewers never see an event for state that
// was not durably written.
func (s *LocationService) Ingest(ctx context.Context, subjectID string, req lookout.LocationUpdateRequest, now time.Time) (*LocationResult, error) {
	if verr := validateLocation(req); verr != nil {
		return nil, verr
	}

	pol, err := s.policies.Get(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading policy for %s: %v", lookout.ErrUnavailable, subjectID, err)
	}

	intents := []*rules.Intent{
		rules.EvaluateBattery(*req.BatteryLevel),
		rules.EvaluateGeofence(*req.Latitude, *req.Longitude, pol),
	}

	sample := models.LocationSample{
		SubjectID:    subjectID,
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		Accuracy:     *req.Accuracy,
		BatteryLevel: *req.BatteryLevel,
		CapturedAt:   now,
	}

	sample, err = s.samples.Insert(ctx, sample)
	if err != nil {
		return nil, fmt.Errorf("%w: storing location sample: %v", lookout.ErrUnavailable, err)
	}

	alerts, err := s.engine.Commit(ctx, subjectID, intents, now)
	if err != nil {
		return nil, fmt.Errorf("%w: committing alerts: %v", lookout.ErrUnavailable, err)
	}

	if err := publish(s.publisher, &kafka.MonitoringEvent{
		EventID:   uuid.New().String(),
		EventType: kafka.EventLocationUpdate,
		SubjectID: subjectID,
		Timestamp: now,
		Data: map[string]interface{}{
			"latitude":      sample.Latitude,
			"longitude":     sample.Longitude,
			"accuracy":      sample.Accuracy,
			"battery_level": sample.BatteryLevel,
			"captured_at":   sample.CapturedAt,
		},
	}); err != nil {
		return nil, err
	}
	for _, alert := range alerts {
		if err := publish(s.publisher, alertEvent(alert)); err != nil {
			return nil, err
		}
	}

	return &LocationResult{Sample: sample, Alerts: alerts}, nil
}

func alertEvent(alert models.Alert) *kafka.MonitoringEvent {
	return &kafka.MonitoringEvent{
		EventID:   uuid.New().String(),
		EventType: kafka.EventAlertTriggered,
		SubjectID: alert.SubjectID,
		Timestamp: alert.TriggeredAt,
		Data: map[string]interface{}{
			"alert_id": alert.ID,
			"kind":     string(alert.Kind),
			"severity": string(alert.Severity),
			"title":    alert.Title,
			"message":  alert.Message,
			"data":     alert.Data,
		},
	}
}

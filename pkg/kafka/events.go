package kafka

import (
	"time"
)

// Topic carrying every committed pipeline event. Records are keyed by
// subject ID so per-subject commit order survives partitioning.
const MonitoringTopic = "monitoring_events"

// EventSchemaVersion is stamped on every published event so consumers can
// handle payload evolution.
const EventSchemaVersion = "1.0"

// Event types emitted by the ingest pipeline
const (
	EventLocationUpdate       = "location_update"
	EventNotificationReceived = "notification_received"
	EventAlertTriggered       = "alert_triggered"
)

// MonitoringEvent is a committed pipeline event published after the durable
// store write succeeds. The store, not this bus, is the source of truth for
// history queries.
type MonitoringEvent struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	SubjectID     string                 `json:"subject_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
	SchemaVersion string                 `json:"schema_version"`
}

// Package ingest implements the device-facing write path: validating pushed
// samples, running the rule engine, committing durable state, and publishing
// events for realtime fan-out.
package ingest

import (
	"context"
	"fmt"

	"github.com/DaveCybr/couple-guard/pkg/api/lookout"
	"github.com/DaveCybr/couple-guard/pkg/kafka"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

// EventPublisher dispatches a monitoring event downstream. Satisfied by the
// Kafka producer and, in direct mode, by the websocket hub.
type EventPublisher interface {
	PublishMonitoringEvent(event *kafka.MonitoringEvent) error
}

// PolicyProvider resolves the monitoring policy for a subject. Satisfied by
// the plain policy store and its cached wrapper.
type PolicyProvider interface {
	Get(ctx context.Context, subjectID string) (*models.MonitoringPolicy, error)
}

// publish wraps a publisher failure so callers can match it as a
// dependency-unavailable condition.
func publish(publisher EventPublisher, event *kafka.MonitoringEvent) error {
	if publisher == nil {
		return nil
	}
	event.SchemaVersion = kafka.EventSchemaVersion
	if err := publisher.PublishMonitoringEvent(event); err != nil {
		return fmt.Errorf("%w: publishing %s event: %v", lookout.ErrUnavailable, event.EventType, err)
	}
	return nil
}

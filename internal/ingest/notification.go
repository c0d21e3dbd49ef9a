package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DaveCybr/couple-guard/internal/notifications"
	"github.com/DaveCybr/couple-guard/internal/rules"
	"github.com/DaveCybr/couple-guard/pkg/api/lookout"
	"github.com/DaveCybr/couple-guard/pkg/kafka"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

const (
	maxBatchSize   = 50
	maxTitleLength = 255
)

// NotificationResult is what a committed notification push produced. Filtered
// notifications are persisted but withheld from the realtime stream.
type NotificationResult struct {
	Notification models.MirroredNotification
	Alerts       []models.Alert
	Filtered     bool
}

// BatchResult summarizes a best-effort batch push
type BatchResult struct {
	Committed int
	Errors    []lookout.BatchItemError
}

// NotificationService handles mirrored notification pushes
type NotificationService struct {
	store     *notifications.Store
	policies  PolicyProvider
	engine    *rules.Engine
	publisher EventPublisher
	logger    logging.Logger
}

func NewNotificationService(store *notifications.Store, policies PolicyProvider, engine *rules.Engine, publisher EventPublisher, logger logging.Logger) *NotificationService {
	return &NotificationService{
		store:     store,
		policies:  policies,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
	}
}

func validateNotification(req lookout.NotificationSendRequest) *lookout.ValidationError {
	fields := map[string]string{}
	if req.AppPackage == "" {
		fields["app_package"] = "app_package is required"
	}
	if req.Title == "" {
		fields["title"] = "title is required"
	} else if len(req.Title) > maxTitleLength {
		fields["title"] = "title must not exceed 255 characters"
	}
	if req.Content == "" {
		fields["content"] = "content is required"
	}
	if req.Priority == nil {
		fields["priority"] = "priority is required"
	} else if *req.Priority < 1 || *req.Priority > 5 {
		fields["priority"] = "priority must be between 1 and 5"
	}
	if len(fields) > 0 {
		return &lookout.ValidationError{Fields: fields}
	}
	return nil
}

// Ingest commits one mirrored notification. The notification is always
// persisted and the content rule always runs; the app filter only decides
// whether viewers see the notification event.
func (s *NotificationService) Ingest(ctx context.Context, subjectID string, req lookout.NotificationSendRequest, now time.Time) (*NotificationResult, error) {
	if verr := validateNotification(req); verr != nil {
		return nil, verr
	}

	pol, err := s.policies.Get(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading policy for %s: %v", lookout.ErrUnavailable, subjectID, err)
	}

	capturedAt := now
	if req.CapturedAt != nil {
		capturedAt = *req.CapturedAt
	}

	notification := models.MirroredNotification{
		SubjectID:  subjectID,
		AppPackage: req.AppPackage,
		Title:      req.Title,
		Content:    req.Content,
		Priority:   *req.Priority,
		Category:   req.Category,
		CapturedAt: capturedAt,
	}

	notification, err = s.store.Create(ctx, notification)
	if err != nil {
		return nil, fmt.Errorf("%w: storing notification: %v", lookout.ErrUnavailable, err)
	}

	intents := []*rules.Intent{
		rules.EvaluateContent(req.AppPackage, req.Title, req.Content, pol),
	}
	alerts, err := s.engine.Commit(ctx, subjectID, intents, now)
	if err != nil {
		return nil, fmt.Errorf("%w: committing alerts: %v", lookout.ErrUnavailable, err)
	}

	filtered := !pol.AppMonitored(req.AppPackage)
	if !filtered {
		if err := publish(s.publisher, &kafka.MonitoringEvent{
			EventID:   uuid.New().String(),
			EventType: kafka.EventNotificationReceived,
			SubjectID: subjectID,
			Timestamp: now,
			Data: map[string]interface{}{
				"notification_id": notification.ID,
				"app_package":     notification.AppPackage,
				"title":           notification.Title,
				"content":         notification.Content,
				"priority":        notification.Priority,
				"captured_at":     notification.CapturedAt,
			},
		}); err != nil {
			return nil, err
		}
	}
	for _, alert := range alerts {
		if err := publish(s.publisher, alertEvent(alert)); err != nil {
			return nil, err
		}
	}

	return &NotificationResult{Notification: notification, Alerts: alerts, Filtered: filtered}, nil
}

// IngestBatch commits up to 50 notifications best-effort. A failing item is
// reported by index and does not block the rest.
func (s *NotificationService) IngestBatch(ctx context.Context, subjectID string, reqs []lookout.NotificationSendRequest, now time.Time) (*BatchResult, error) {
	if len(reqs) == 0 {
		return nil, lookout.NewValidationError("notifications", "notifications must not be empty")
	}
	if len(reqs) > maxBatchSize {
		return nil, lookout.NewValidationError("notifications",
			fmt.Sprintf("notifications must not exceed %d items", maxBatchSize))
	}

	result := &BatchResult{}
	for i, req := range reqs {
		if _, err := s.Ingest(ctx, subjectID, req, now); err != nil {
			if verr, ok := lookout.AsValidationError(err); ok {
				result.Errors = append(result.Errors, lookout.BatchItemError{Index: i, Errors: verr.Fields})
				continue
			}
			s.logger.WithFields(logging.Fields{
				"subject_id": subjectID,
				"index":      i,
				"error":      err,
			}).Error("Batch notification item failed")
			result.Errors = append(result.Errors, lookout.BatchItemError{
				Index:  i,
				Errors: map[string]string{"notification": "failed to commit notification"},
			})
			continue
		}
		result.Committed++
	}
	return result, nil
}

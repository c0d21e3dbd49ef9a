// Package alerts is the append-only record of triggered alerts with the
// dedup query used by the rule engine.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DaveCybr/couple-guard/pkg/database"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

// Store persists alerts to Postgres. The check-then-insert used for dedup
// is serialized per (subject, kind) so two concurrent ingests cannot both
// pass the "no recent alert" check.
type Store struct {
	db     database.PostgresConn
	logger logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an alert store
func New(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Store) keyLock(subjectID string, kind models.AlertKind) *sync.Mutex {
	key := subjectID + "|" + string(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Exists reports whether an alert of the given kind was triggered for the
// subject at or after the given instant.
func (s *Store) Exists(ctx context.Context, subjectID string, kind models.AlertKind, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE child_user_id = $1 AND type = $2 AND triggered_at >= $3
		)
	`, subjectID, string(kind), since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	return exists, nil
}

// Create appends an alert, assigning the id and trigger timestamp server-side
// when absent. No update or delete path exists; the table is an audit trail.
func (s *Store) Create(ctx context.Context, alert models.Alert) (models.Alert, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now().UTC()
	}

	dataJSON, err := json.Marshal(alert.Data)
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to marshal alert data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, child_user_id, type, priority, title, message, data, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, alert.ID, alert.SubjectID, string(alert.Kind), string(alert.Severity),
		alert.Title, alert.Message, dataJSON, alert.TriggeredAt)
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to insert alert: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"alert_id":   alert.ID,
		"subject_id": alert.SubjectID,
		"kind":       alert.Kind,
		"severity":   alert.Severity,
	}).Info("Alert created")

	return alert, nil
}

// CreateDeduped appends the alert unless another alert of the same kind for
// the same subject was triggered within the dedup window. A zero window
// skips the dedup check entirely. Returns the created alert, or nil when
// suppressed.
func (s *Store) CreateDeduped(ctx context.Context, alert models.Alert, window time.Duration) (*models.Alert, error) {
	if window <= 0 {
		created, err := s.Create(ctx, alert)
		if err != nil {
			return nil, err
		}
		return &created, nil
	}

	l := s.keyLock(alert.SubjectID, alert.Kind)
	l.Lock()
	defer l.Unlock()

	now := alert.TriggeredAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	recent, err := s.Exists(ctx, alert.SubjectID, alert.Kind, now.Add(-window))
	if err != nil {
		return nil, err
	}
	if recent {
		return nil, nil
	}

	created, err := s.Create(ctx, alert)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

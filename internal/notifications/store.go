// Package notifications persists mirrored notifications and serves the
// viewer-facing list and mark-read paths.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/DaveCybr/couple-guard/pkg/database"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

// ListQuery filters a notification listing
type ListQuery struct {
	Date       *time.Time
	AppPackage string
	Limit      int
}

// Store persists mirrored notifications in Postgres
type Store struct {
	db     database.PostgresConn
	logger logging.Logger
}

// New creates a notification store
func New(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Create appends a mirrored notification, assigning its id when absent
func (s *Store) Create(ctx context.Context, n models.MirroredNotification) (models.MirroredNotification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_mirrors (id, child_user_id, app_package, title, content, priority, category, is_read, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.SubjectID, n.AppPackage, n.Title, n.Content, n.Priority, n.Category, n.IsRead, n.CapturedAt)
	if err != nil {
		return models.MirroredNotification{}, fmt.Errorf("failed to insert notification: %w", err)
	}

	return n, nil
}

// List returns the subject's notifications, newest first
func (s *Store) List(ctx context.Context, subjectID string, q ListQuery) ([]models.MirroredNotification, error) {
	query := `
		SELECT id, child_user_id, app_package, title, content, priority, category, is_read, captured_at
		FROM notification_mirrors
		WHERE child_user_id = $1`
	args := []interface{}{subjectID}

	if q.Date != nil {
		dayStart := time.Date(q.Date.Year(), q.Date.Month(), q.Date.Day(), 0, 0, 0, 0, q.Date.Location())
		query += fmt.Sprintf(" AND captured_at >= $%d AND captured_at < $%d", len(args)+1, len(args)+2)
		args = append(args, dayStart, dayStart.Add(24*time.Hour))
	}
	if q.AppPackage != "" {
		query += fmt.Sprintf(" AND app_package = $%d", len(args)+1)
		args = append(args, q.AppPackage)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY captured_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.MirroredNotification
	for rows.Next() {
		var n models.MirroredNotification
		if err := rows.Scan(&n.ID, &n.SubjectID, &n.AppPackage, &n.Title, &n.Content,
			&n.Priority, &n.Category, &n.IsRead, &n.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// UnreadCount returns how many of the subject's notifications are unread
func (s *Store) UnreadCount(ctx context.Context, subjectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notification_mirrors
		WHERE child_user_id = $1 AND is_read = false
	`, subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flips is_read for the given notifications, restricted to subjects
// the viewer is paired with. Returns the number of rows updated.
func (s *Store) MarkRead(ctx context.Context, viewerID string, notificationIDs []string) (int, error) {
	if len(notificationIDs) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE notification_mirrors n
		SET is_read = true
		FROM family_members p
		JOIN family_members c ON c.family_id = p.family_id
		WHERE n.id = ANY($1)
		  AND p.user_id = $2 AND p.role = 'parent'
		  AND c.role = 'child' AND c.user_id = n.child_user_id
	`, pq.Array(notificationIDs), viewerID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update count: %w", err)
	}
	return int(updated), nil
}

// Package policy loads guardian-configured monitoring policies. The
// pipeline only reads them; mutation belongs to the configuration surface.
package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DaveCybr/couple-guard/pkg/database"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

// Store reads monitoring policies from Postgres
type Store struct {
	db     database.PostgresConn
	logger logging.Logger
}

// New creates a policy store
func New(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Get returns the policy configured for the subject, or nil when no policy
// row exists (everything monitored, no keywords, no zones).
func (s *Store) Get(ctx context.Context, subjectID string) (*models.MonitoringPolicy, error) {
	var (
		familyID      string
		filtersJSON   []byte
		keywordsJSON  []byte
		safeZonesJSON []byte
		windowSeconds int
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT family_id, notification_filters, blocked_keywords, safe_zones, geofence_alert_window_s
		FROM app_settings
		WHERE child_user_id = $1
	`, subjectID).Scan(&familyID, &filtersJSON, &keywordsJSON, &safeZonesJSON, &windowSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load monitoring policy: %w", err)
	}

	p := &models.MonitoringPolicy{
		FamilyID:            familyID,
		SubjectID:           subjectID,
		GeofenceAlertWindow: time.Duration(windowSeconds) * time.Second,
	}

	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &p.NotificationFilters); err != nil {
			return nil, fmt.Errorf("malformed notification_filters for subject %s: %w", subjectID, err)
		}
	}
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &p.BlockedKeywords); err != nil {
			return nil, fmt.Errorf("malformed blocked_keywords for subject %s: %w", subjectID, err)
		}
	}
	if len(safeZonesJSON) > 0 {
		if err := json.Unmarshal(safeZonesJSON, &p.SafeZones); err != nil {
			return nil, fmt.Errorf("malformed safe_zones for subject %s: %w", subjectID, err)
		}
	}

	return p, nil
}

// Package locations persists the append-only location sample stream in
// ClickHouse and serves the range queries behind tracking and history.
package locations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DaveCybr/couple-guard/pkg/database"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

// Store reads and appends location samples
type Store struct {
	ch     database.ClickHouseConn
	logger logging.Logger
}

// New creates a location store
func New(ch database.ClickHouseConn, logger logging.Logger) *Store {
	return &Store{ch: ch, logger: logger}
}

// Insert appends a sample, assigning its id when absent. Samples are kept
// in arrival order; readers sort explicitly.
func (s *Store) Insert(ctx context.Context, sample models.LocationSample) (models.LocationSample, error) {
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}

	_, err := s.ch.ExecContext(ctx, `
		INSERT INTO location_samples (id, subject_id, latitude, longitude, accuracy, battery_level, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sample.ID, sample.SubjectID, sample.Latitude, sample.Longitude,
		sample.Accuracy, sample.BatteryLevel, sample.CapturedAt)
	if err != nil {
		return models.LocationSample{}, fmt.Errorf("failed to insert location sample: %w", err)
	}

	return sample, nil
}

// Latest returns the newest sample for the subject, or nil when the subject
// has never reported a location.
func (s *Store) Latest(ctx context.Context, subjectID string) (*models.LocationSample, error) {
	var sample models.LocationSample
	err := s.ch.QueryRowContext(ctx, `
		SELECT id, subject_id, latitude, longitude, accuracy, battery_level, captured_at
		FROM location_samples
		WHERE subject_id = ?
		ORDER BY captured_at DESC
		LIMIT 1
	`, subjectID).Scan(&sample.ID, &sample.SubjectID, &sample.Latitude, &sample.Longitude,
		&sample.Accuracy, &sample.BatteryLevel, &sample.CapturedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest location: %w", err)
	}
	return &sample, nil
}

// Range returns samples captured within [from, to], newest first, capped at
// limit rows.
func (s *Store) Range(ctx context.Context, subjectID string, from, to time.Time, limit int) ([]models.LocationSample, error) {
	rows, err := s.ch.QueryContext(ctx, `
		SELECT id, subject_id, latitude, longitude, accuracy, battery_level, captured_at
		FROM location_samples
		WHERE subject_id = ? AND captured_at >= ? AND captured_at <= ?
		ORDER BY captured_at DESC
		LIMIT ?
	`, subjectID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query location history: %w", err)
	}
	defer rows.Close()

	var samples []models.LocationSample
	for rows.Next() {
		var sample models.LocationSample
		if err := rows.Scan(&sample.ID, &sample.SubjectID, &sample.Latitude, &sample.Longitude,
			&sample.Accuracy, &sample.BatteryLevel, &sample.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate location history: %w", err)
	}
	return samples, nil
}

// Package history serves the viewer-facing read path: latest position,
// movement history with distance aggregation, and the all-subjects overview.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/DaveCybr/couple-guard/internal/guard"
	"github.com/DaveCybr/couple-guard/internal/locations"
	"github.com/DaveCybr/couple-guard/pkg/api/lookout"
	"github.com/DaveCybr/couple-guard/pkg/geo"
	"github.com/DaveCybr/couple-guard/pkg/logging"
)

const (
	// RecentThreshold is the sample age under which a position counts as live
	RecentThreshold = 10 * time.Minute

	defaultHistoryWindow = 7 * 24 * time.Hour
	defaultHistoryLimit  = 100
	maxHistoryLimit      = 500
)

// Presence tiers by last-sample age
const (
	StatusOnline   = "online"
	StatusRecent   = "recent"
	StatusOffline  = "offline"
	StatusInactive = "inactive"
	StatusNoData   = "no_data"
)

// HistoryQuery selects the samples included in a history response. Date and
// the Start/End pair are mutually exclusive; Date wins when both are set.
type HistoryQuery struct {
	Date      *time.Time
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// Aggregator answers viewer tracking queries, gated by pairing authorization
type Aggregator struct {
	guard   *guard.Guard
	samples *locations.Store
	logger  logging.Logger
}

func New(g *guard.Guard, samples *locations.Store, logger logging.Logger) *Aggregator {
	return &Aggregator{guard: g, samples: samples, logger: logger}
}

// Authorize returns ErrForbidden unless the viewer is paired with the subject
func (a *Aggregator) Authorize(ctx context.Context, viewerID, subjectID string) error {
	ok, err := a.guard.IsAuthorizedViewer(ctx, viewerID, subjectID)
	if err != nil {
		return fmt.Errorf("%w: checking authorization: %v", lookout.ErrUnavailable, err)
	}
	if !ok {
		return lookout.ErrForbidden
	}
	return nil
}

// ClassifyPresence maps a last-sample age to a presence tier
func ClassifyPresence(age time.Duration) string {
	minutes := age.Minutes()
	switch {
	case minutes <= 5:
		return StatusOnline
	case minutes <= 30:
		return StatusRecent
	case minutes <= 120:
		return StatusOffline
	default:
		return StatusInactive
	}
}

// Track returns the subject's latest position for an authorized viewer
func (a *Aggregator) Track(ctx context.Context, viewerID, subjectID string, now time.Time) (*lookout.TrackResponse, error) {
	if err := a.Authorize(ctx, viewerID, subjectID); err != nil {
		return nil, err
	}

	latest, err := a.samples.Latest(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading latest sample: %v", lookout.ErrUnavailable, err)
	}
	if latest == nil {
		return nil, lookout.ErrNotFound
	}

	age := now.Sub(latest.CapturedAt)
	return &lookout.TrackResponse{
		Success:           true,
		Location:          latest,
		LastUpdateMinutes: age.Minutes(),
		IsRecent:          age <= RecentThreshold,
	}, nil
}

// History returns the subject's movement history, newest first, with the
// total distance walked across the window.
func (a *Aggregator) History(ctx context.Context, viewerID, subjectID string, q HistoryQuery, now time.Time) (*lookout.HistoryResponse, error) {
	if err := a.Authorize(ctx, viewerID, subjectID); err != nil {
		return nil, err
	}

	from := now.Add(-defaultHistoryWindow)
	to := now
	switch {
	case q.Date != nil:
		from = time.Date(q.Date.Year(), q.Date.Month(), q.Date.Day(), 0, 0, 0, 0, q.Date.Location())
		to = from.Add(24 * time.Hour)
	case q.StartDate != nil && q.EndDate != nil:
		from = *q.StartDate
		to = *q.EndDate
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	samples, err := a.samples.Range(ctx, subjectID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: loading history: %v", lookout.ErrUnavailable, err)
	}

	resp := &lookout.HistoryResponse{
		Success:     true,
		Locations:   samples,
		TotalPoints: len(samples),
	}
	if len(samples) == 0 {
		return resp, nil
	}

	// Distance walks the points oldest to newest; the response stays
	// newest-first.
	chronological := make([]int, len(samples))
	for i := range chronological {
		chronological[i] = i
	}
	sort.Slice(chronological, func(i, j int) bool {
		return samples[chronological[i]].CapturedAt.Before(samples[chronological[j]].CapturedAt)
	})

	var meters float64
	for i := 1; i < len(chronological); i++ {
		prev := samples[chronological[i-1]]
		cur := samples[chronological[i]]
		meters += geo.HaversineDistanceMeters(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	}
	resp.ApproximateDistanceKm = meters / 1000

	oldest := samples[chronological[0]].CapturedAt
	newest := samples[chronological[len(chronological)-1]].CapturedAt
	resp.DateRange = lookout.DateRange{Start: &oldest, End: &newest}
	return resp, nil
}

// TrackAll returns the latest status of every subject paired with the
// viewer. A subject whose lookup fails is reported as no_data rather than
// failing the whole overview.
func (a *Aggregator) TrackAll(ctx context.Context, viewerID string, now time.Time) (*lookout.TrackAllResponse, error) {
	subjects, err := a.guard.Subjects(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing subjects: %v", lookout.ErrUnavailable, err)
	}

	statuses := make([]lookout.SubjectStatus, 0, len(subjects))
	for _, subjectID := range subjects {
		status := lookout.SubjectStatus{SubjectID: subjectID, Status: StatusNoData}

		latest, err := a.samples.Latest(ctx, subjectID)
		if err != nil {
			a.logger.WithFields(logging.Fields{
				"subject_id": subjectID,
				"error":      err,
			}).Error("Failed to load latest sample for overview")
		} else if latest != nil {
			age := now.Sub(latest.CapturedAt)
			minutes := age.Minutes()
			status.Location = latest
			status.LastUpdateMinutes = &minutes
			status.IsRecent = age <= RecentThreshold
			status.Status = ClassifyPresence(age)
		}

		statuses = append(statuses, status)
	}

	return &lookout.TrackAllResponse{
		Success:           true,
		ChildrenLocations: statuses,
		TotalChildren:     len(statuses),
	}, nil
}

// Package guard answers "may viewer V see subject S's data?" from the
// family membership relation. Evaluated on every read path before any
// subject data is returned.
package guard

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DaveCybr/couple-guard/pkg/auth"
	"github.com/DaveCybr/couple-guard/pkg/database"
	"github.com/DaveCybr/couple-guard/pkg/logging"
)

// Guard checks pairing relations against the family membership store
type Guard struct {
	db     database.PostgresConn
	logger logging.Logger
}

// New creates a Guard backed by the given Postgres connection
func New(db database.PostgresConn, logger logging.Logger) *Guard {
	return &Guard{db: db, logger: logger}
}

// IsAuthorizedViewer reports whether the viewer holds the parent role and
// the subject the child role within the same family group. Side-effect free.
func (g *Guard) IsAuthorizedViewer(ctx context.Context, viewerID, subjectID string) (bool, error) {
	var exists bool
	err := g.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM family_members p
			JOIN family_members c ON c.family_id = p.family_id
			WHERE p.user_id = $1 AND p.role = $2
			  AND c.user_id = $3 AND c.role = $4
		)
	`, viewerID, auth.RoleParent, subjectID, auth.RoleChild).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pairing relation: %w", err)
	}
	return exists, nil
}

// Subjects returns the user IDs of every child paired to the viewer. An
// empty slice means the viewer is not a parent in any family.
func (g *Guard) Subjects(ctx context.Context, viewerID string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT c.user_id
		FROM family_members p
		JOIN family_members c ON c.family_id = p.family_id
		WHERE p.user_id = $1 AND p.role = $2 AND c.role = $3
		ORDER BY c.created_at
	`, viewerID, auth.RoleParent, auth.RoleChild)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subjects: %w", err)
	}
	return subjects, nil
}

// FamilyID returns the family the user belongs to, or sql.ErrNoRows if the
// user is not part of any family
func (g *Guard) FamilyID(ctx context.Context, userID string) (string, error) {
	var familyID string
	err := g.db.QueryRowContext(ctx, `
		SELECT family_id FROM family_members WHERE user_id = $1
	`, userID).Scan(&familyID)
	if err == sql.ErrNoRows {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up family: %w", err)
	}
	return familyID, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	dbsql "github.com/DaveCybr/couple-guard/pkg/database/sql"
)

// ApplyEmbeddedSchema executes one embedded schema file against the given
// connection. Schema files are idempotent (CREATE IF NOT EXISTS), so
// reapplying on startup is safe.
func ApplyEmbeddedSchema(ctx context.Context, db *sql.DB, path string) error {
	content, err := dbsql.Content.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read embedded schema %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to apply schema %s: %w", path, err)
	}
	return nil
}

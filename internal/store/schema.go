// File: internal/store/schema.go
package store

import (
	"context"
	"fmt"
)

// schemaDDL creates the submission table. Constraint names are deterministic
// so future migration diffs stay readable. The graph column is JSONB: new
// metric types and relationship kinds arrive as new JSON fields, never as a
// rewrite of historical rows.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS submissions (
	id                  UUID PRIMARY KEY,
	project_id          TEXT NOT NULL,
	seq                 BIGSERIAL,
	submitted_at        TIMESTAMPTZ NOT NULL,
	source_commit       TEXT NOT NULL DEFAULT '',
	raw_document_digest TEXT NOT NULL,
	graph               JSONB NOT NULL,
	CONSTRAINT uq_submissions_project_id_digest UNIQUE (project_id, raw_document_digest)
);

CREATE INDEX IF NOT EXISTS ix_submissions_project_id_submitted_at
	ON submissions (project_id, submitted_at, seq);
`

// Migrate applies the schema. Idempotent; safe to run at every startup.
func Migrate(ctx context.Context, pool DBPool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

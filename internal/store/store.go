// File: internal/store/store.go
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
)

// GraphStore persists canonical dependency graphs keyed by submitting project
// and submission time.
//
// Implementations must make Upsert atomic with respect to concurrent
// identical submissions: the (project_id, raw_document_digest) uniqueness is
// enforced at the storage layer, never by a check-then-insert in application
// code.
type GraphStore interface {
	// Upsert stores a submission. When a submission with the same project
	// and digest already exists, it returns the existing submission's id
	// with Created=false and writes nothing.
	Upsert(ctx context.Context, sub schemas.Submission) (schemas.UpsertResult, error)

	// Latest returns the most recent submission's graph for a project, or
	// (nil, nil) when the project has no submissions yet. Callers must
	// treat the nil graph as a distinct non-error state.
	Latest(ctx context.Context, projectID string) (*schemas.DependencyGraph, error)

	// History returns the project's submissions inside the given range,
	// ordered by submission time ascending with ties broken by the
	// monotonic write sequence.
	History(ctx context.Context, projectID string, r HistoryRange) ([]schemas.Submission, error)

	// CurrentGraphs returns every project's latest graph, keyed by
	// project. Used by cross-project metric computation.
	CurrentGraphs(ctx context.Context) (map[string]*schemas.DependencyGraph, error)
}

// HistoryRange bounds a history query. Zero values leave the corresponding
// side unbounded.
type HistoryRange struct {
	From time.Time
	To   time.Time
}

// DigestRawDocument computes the idempotency key for a submission: the
// SHA-256 of the normalized input bytes, hex encoded. Byte-identical
// re-submissions for the same project resolve to the same stored graph.
func DigestRawDocument(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// File: internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
)

// uniqueViolation is the Postgres error code raised by the
// (project_id, raw_document_digest) constraint.
const uniqueViolation = "23505"

// DBPool abstracts the pgxpool.Pool surface the store uses, allowing pgxmock
// in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the production GraphStore backed by PostgreSQL. Graphs are
// stored as JSONB documents so that adding metric types or relationship kinds
// never requires rewriting historical submissions.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ GraphStore = (*PostgresStore)(nil)

// NewPostgresStore creates a store instance and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, schemas.NewStorageError(schemas.StorageUnavailable, "failed to ping database", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("store")}, nil
}

const sqlInsertSubmission = `
	INSERT INTO submissions (id, project_id, submitted_at, source_commit, raw_document_digest, graph)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (project_id, raw_document_digest) DO NOTHING
	RETURNING id;
`

const sqlSelectExisting = `
	SELECT id FROM submissions
	WHERE project_id = $1 AND raw_document_digest = $2;
`

// Upsert stores the submission idempotently. The uniqueness constraint does
// the heavy lifting: two concurrent identical submissions cannot both insert,
// and the loser reads the winner's id instead of failing.
func (s *PostgresStore) Upsert(ctx context.Context, sub schemas.Submission) (schemas.UpsertResult, error) {
	if sub.RawDocumentDigest == "" {
		return schemas.UpsertResult{}, fmt.Errorf("submission has no raw document digest")
	}

	graphJSON, err := json.Marshal(sub.Graph)
	if err != nil {
		return schemas.UpsertResult{}, fmt.Errorf("failed to marshal graph: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx, sqlInsertSubmission,
		sub.ID, sub.ProjectID, sub.SubmittedAt.UTC(), sub.SourceCommit, sub.RawDocumentDigest, graphJSON,
	).Scan(&id)

	switch {
	case err == nil:
		s.log.Info("Submission stored",
			zap.String("submission_id", id),
			zap.String("project_id", sub.ProjectID))
		return schemas.UpsertResult{Created: true, SubmissionID: id}, nil

	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		// DO NOTHING suppressed the insert (or a concurrent writer won the
		// race): resolve to the already-stored submission.
		var existing string
		if err := s.pool.QueryRow(ctx, sqlSelectExisting, sub.ProjectID, sub.RawDocumentDigest).Scan(&existing); err != nil {
			return schemas.UpsertResult{}, translatePgError(err, "failed to resolve existing submission")
		}
		s.log.Debug("Duplicate submission resolved to existing id",
			zap.String("submission_id", existing),
			zap.String("project_id", sub.ProjectID))
		return schemas.UpsertResult{Created: false, SubmissionID: existing}, nil

	default:
		return schemas.UpsertResult{}, translatePgError(err, "failed to insert submission")
	}
}

const sqlSelectLatest = `
	SELECT graph FROM submissions
	WHERE project_id = $1
	ORDER BY submitted_at DESC, seq DESC
	LIMIT 1;
`

// Latest returns the current graph for a project, or (nil, nil) when the
// project has never submitted.
func (s *PostgresStore) Latest(ctx context.Context, projectID string) (*schemas.DependencyGraph, error) {
	var graphJSON []byte
	err := s.pool.QueryRow(ctx, sqlSelectLatest, projectID).Scan(&graphJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translatePgError(err, "failed to query latest graph")
	}

	var graph schemas.DependencyGraph
	if err := json.Unmarshal(graphJSON, &graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored graph: %w", err)
	}
	return &graph, nil
}

const sqlSelectHistory = `
	SELECT id, project_id, seq, submitted_at, source_commit, raw_document_digest, graph
	FROM submissions
	WHERE project_id = $1
	  AND ($2::timestamptz IS NULL OR submitted_at >= $2)
	  AND ($3::timestamptz IS NULL OR submitted_at <= $3)
	ORDER BY submitted_at ASC, seq ASC;
`

// History returns the project's submissions in ascending submission order.
func (s *PostgresStore) History(ctx context.Context, projectID string, r HistoryRange) ([]schemas.Submission, error) {
	var from, to any
	if !r.From.IsZero() {
		from = r.From.UTC()
	}
	if !r.To.IsZero() {
		to = r.To.UTC()
	}

	rows, err := s.pool.Query(ctx, sqlSelectHistory, projectID, from, to)
	if err != nil {
		return nil, translatePgError(err, "failed to query history")
	}
	defer rows.Close()

	var subs []schemas.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgError(err, "error during history row iteration")
	}
	return subs, nil
}

const sqlSelectCurrent = `
	SELECT DISTINCT ON (project_id) project_id, graph
	FROM submissions
	ORDER BY project_id, submitted_at DESC, seq DESC;
`

// CurrentGraphs returns each project's latest graph.
func (s *PostgresStore) CurrentGraphs(ctx context.Context) (map[string]*schemas.DependencyGraph, error) {
	rows, err := s.pool.Query(ctx, sqlSelectCurrent)
	if err != nil {
		return nil, translatePgError(err, "failed to query current graphs")
	}
	defer rows.Close()

	graphs := make(map[string]*schemas.DependencyGraph)
	for rows.Next() {
		var projectID string
		var graphJSON []byte
		if err := rows.Scan(&projectID, &graphJSON); err != nil {
			return nil, fmt.Errorf("failed to scan current graph row: %w", err)
		}
		var graph schemas.DependencyGraph
		if err := json.Unmarshal(graphJSON, &graph); err != nil {
			return nil, fmt.Errorf("failed to unmarshal graph for project %s: %w", projectID, err)
		}
		graphs[projectID] = &graph
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgError(err, "error during current graph iteration")
	}
	return graphs, nil
}

func scanSubmission(rows pgx.Rows) (schemas.Submission, error) {
	var sub schemas.Submission
	var graphJSON []byte
	if err := rows.Scan(&sub.ID, &sub.ProjectID, &sub.Seq, &sub.SubmittedAt, &sub.SourceCommit, &sub.RawDocumentDigest, &graphJSON); err != nil {
		return schemas.Submission{}, fmt.Errorf("failed to scan submission row: %w", err)
	}
	if err := json.Unmarshal(graphJSON, &sub.Graph); err != nil {
		return schemas.Submission{}, fmt.Errorf("failed to unmarshal graph for submission %s: %w", sub.ID, err)
	}
	return sub, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// translatePgError folds driver failures into the storage error taxonomy:
// uniqueness conflicts keep their identity (callers treat them as idempotent
// success) and everything else surfaces as retryable unavailability.
func translatePgError(err error, detail string) error {
	if isUniqueViolation(err) {
		return schemas.NewStorageError(schemas.StorageConstraintViolation, detail, err)
	}
	return schemas.NewStorageError(schemas.StorageUnavailable, detail, err)
}

// File: internal/ingest/orchestrator.go
// Description: Composes token verification, SPDX normalization, and the graph
// store into the accept-validate-normalize-store pipeline. The orchestrator is
// injected with its collaborators via interfaces, making it decoupled and
// testable.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/spdx"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/store"
)

// TokenVerifier authenticates an inbound bearer token. Implemented by
// auth.Verifier in production.
type TokenVerifier interface {
	Verify(ctx context.Context, bearerToken, expectedAudience string) (schemas.VerifiedClaims, error)
}

// Result is the outcome of an accepted ingestion.
type Result struct {
	SubmissionID string
	Created      bool
	Claims       schemas.VerifiedClaims
	PackageCount int
}

// Orchestrator runs the ingestion pipeline. Metric recomputation is
// deliberately decoupled: Ingest returns as soon as the store write commits.
type Orchestrator struct {
	verifier TokenVerifier
	graphs   store.GraphStore
	audience string
	now      func() time.Time
	log      *zap.Logger
}

// New creates an orchestrator. The clock may be nil, in which case time.Now
// is used.
func New(verifier TokenVerifier, graphs store.GraphStore, audience string, clock func() time.Time, logger *zap.Logger) (*Orchestrator, error) {
	if verifier == nil || graphs == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if audience == "" {
		return nil, fmt.Errorf("cannot initialize orchestrator without an expected audience")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		verifier: verifier,
		graphs:   graphs,
		audience: audience,
		now:      clock,
		log:      logger.Named("ingest"),
	}, nil
}

// Ingest authenticates a submission, normalizes the document, and stores the
// resulting graph. Authentication and parse failures short-circuit before any
// write; no partial graphs are ever stored. The submitting project identity
// always derives from the verified token, never from the caller.
func (o *Orchestrator) Ingest(ctx context.Context, bearerToken string, rawDocument []byte, envelope schemas.EnvelopeKind) (Result, error) {
	claims, err := o.verifier.Verify(ctx, bearerToken, o.audience)
	if err != nil {
		return Result{}, err
	}

	graph, err := spdx.Normalize(rawDocument, envelope)
	if err != nil {
		o.log.Info("Submission rejected during normalization",
			zap.String("project_id", claims.Repository),
			zap.Error(err))
		return Result{}, err
	}

	sub := schemas.Submission{
		ID:                uuid.NewString(),
		ProjectID:         claims.Repository,
		SubmittedAt:       o.now().UTC(),
		SourceCommit:      claims.SourceSHA,
		RawDocumentDigest: store.DigestRawDocument(rawDocument),
		Graph:             *graph,
	}

	res, err := o.graphs.Upsert(ctx, sub)
	if err != nil && errors.Is(err, &schemas.StorageError{Kind: schemas.StorageConstraintViolation}) {
		// A concurrent identical submission won the insert race. The
		// constraint is the idempotency mechanism, so resolve to the
		// stored row rather than failing.
		res, err = o.graphs.Upsert(ctx, sub)
	}
	if err != nil {
		return Result{}, err
	}

	o.log.Info("SBOM submission accepted",
		zap.String("project_id", claims.Repository),
		zap.String("actor", claims.Actor),
		zap.String("submission_id", res.SubmissionID),
		zap.Bool("created", res.Created),
		zap.Int("packages", len(graph.Nodes)))

	return Result{
		SubmissionID: res.SubmissionID,
		Created:      res.Created,
		Claims:       claims,
		PackageCount: len(graph.Nodes),
	}, nil
}

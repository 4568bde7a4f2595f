package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/store"
)

const testAudience = "https://atlas.scf-public-goods.example"

// validDoc is the smallest document that survives normalization: a described
// root with one dependency.
const validDoc = `{
  "spdxVersion": "SPDX-2.3",
  "SPDXID": "SPDXRef-DOCUMENT",
  "documentDescribes": ["SPDXRef-app"],
  "packages": [
    {"SPDXID": "SPDXRef-app", "name": "widget-factory", "versionInfo": "2.4.0",
     "externalRefs": [{"referenceType": "purl", "referenceLocator": "pkg:npm/widget-factory@2.4.0"}]},
    {"SPDXID": "SPDXRef-lodash", "name": "lodash", "versionInfo": "4.17.21",
     "externalRefs": [{"referenceType": "purl", "referenceLocator": "pkg:npm/lodash@4.17.21"}]}
  ],
  "relationships": [
    {"spdxElementId": "SPDXRef-app", "relationshipType": "DEPENDS_ON", "relatedSpdxElement": "SPDXRef-lodash"}
  ]
}`

// stubVerifier returns fixed claims or a fixed error, recording whether it was
// called.
type stubVerifier struct {
	claims schemas.VerifiedClaims
	err    error
	calls  int
}

func (s *stubVerifier) Verify(ctx context.Context, bearerToken, expectedAudience string) (schemas.VerifiedClaims, error) {
	s.calls++
	if s.err != nil {
		return schemas.VerifiedClaims{}, s.err
	}
	return s.claims, nil
}

func okVerifier() *stubVerifier {
	return &stubVerifier{claims: schemas.VerifiedClaims{
		Repository: "octo-org/widget-factory",
		Actor:      "release-bot",
		SourceSHA:  "59d4ff5b4efd8547b0fa91b934dbbb97dbf32b50",
		Issuer:     "https://token.actions.githubusercontent.com",
		Audience:   testAudience,
	}}
}

func newOrchestrator(t *testing.T, verifier TokenVerifier, graphs store.GraphStore) *Orchestrator {
	t.Helper()
	o, err := New(verifier, graphs, testAudience, nil, zap.NewNop())
	require.NoError(t, err)
	return o
}

func TestNew(t *testing.T) {
	mem := store.NewInMemoryStore(nil)

	_, err := New(nil, mem, testAudience, nil, nil)
	assert.Error(t, err)

	_, err = New(okVerifier(), nil, testAudience, nil, nil)
	assert.Error(t, err)

	_, err = New(okVerifier(), mem, "", nil, nil)
	assert.Error(t, err)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts a valid submission", func(t *testing.T) {
		mem := store.NewInMemoryStore(nil)
		o := newOrchestrator(t, okVerifier(), mem)

		res, err := o.Ingest(ctx, "token", []byte(validDoc), schemas.EnvelopeSpdxPlain)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.NotEmpty(t, res.SubmissionID)
		assert.Equal(t, 2, res.PackageCount)
		assert.Equal(t, "octo-org/widget-factory", res.Claims.Repository)

		graph, err := mem.Latest(ctx, "octo-org/widget-factory")
		require.NoError(t, err)
		require.NotNil(t, graph)
		assert.Equal(t, "pkg:npm/widget-factory@2.4.0", graph.Root)
		assert.Len(t, graph.Nodes, 2)

		subs, err := mem.History(ctx, "octo-org/widget-factory", store.HistoryRange{})
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "59d4ff5b4efd8547b0fa91b934dbbb97dbf32b50", subs[0].SourceCommit,
			"source commit must come from the verified token")
		assert.Equal(t, store.DigestRawDocument([]byte(validDoc)), subs[0].RawDocumentDigest)
	})

	t.Run("duplicate submission is idempotent", func(t *testing.T) {
		mem := store.NewInMemoryStore(nil)
		o := newOrchestrator(t, okVerifier(), mem)

		first, err := o.Ingest(ctx, "token", []byte(validDoc), schemas.EnvelopeSpdxPlain)
		require.NoError(t, err)
		second, err := o.Ingest(ctx, "token", []byte(validDoc), schemas.EnvelopeSpdxPlain)
		require.NoError(t, err)

		assert.True(t, first.Created)
		assert.False(t, second.Created)
		assert.Equal(t, first.SubmissionID, second.SubmissionID)

		subs, err := mem.History(ctx, "octo-org/widget-factory", store.HistoryRange{})
		require.NoError(t, err)
		assert.Len(t, subs, 1, "byte-identical resubmission must not grow history")
	})

	t.Run("auth failure short-circuits before any write", func(t *testing.T) {
		mem := store.NewInMemoryStore(nil)
		verifier := &stubVerifier{err: schemas.NewAuthError(schemas.AuthAudienceMismatch, "wrong audience", nil)}
		o := newOrchestrator(t, verifier, mem)

		_, err := o.Ingest(ctx, "token", []byte(validDoc), schemas.EnvelopeSpdxPlain)
		require.Error(t, err)
		assert.True(t, errors.Is(err, &schemas.AuthError{Kind: schemas.AuthAudienceMismatch}))

		graphs, err := mem.CurrentGraphs(ctx)
		require.NoError(t, err)
		assert.Empty(t, graphs, "rejected submissions must leave no trace")
	})

	t.Run("parse failure short-circuits before any write", func(t *testing.T) {
		mem := store.NewInMemoryStore(nil)
		o := newOrchestrator(t, okVerifier(), mem)

		_, err := o.Ingest(ctx, "token", []byte(`{"spdxVersion": "SPDX-2.2"}`), schemas.EnvelopeSpdxPlain)
		require.Error(t, err)
		assert.True(t, errors.Is(err, &schemas.ParseError{Kind: schemas.ParseUnsupportedVersion}))

		graphs, err := mem.CurrentGraphs(ctx)
		require.NoError(t, err)
		assert.Empty(t, graphs)
	})

	t.Run("github envelope is unwrapped", func(t *testing.T) {
		mem := store.NewInMemoryStore(nil)
		o := newOrchestrator(t, okVerifier(), mem)

		wrapped := []byte(`{"sbom": ` + validDoc + `}`)
		res, err := o.Ingest(ctx, "token", wrapped, schemas.EnvelopeGitHub)
		require.NoError(t, err)
		assert.Equal(t, 2, res.PackageCount)
	})

	t.Run("storage failure is propagated", func(t *testing.T) {
		failing := &failingStore{err: schemas.NewStorageError(schemas.StorageUnavailable, "db down", nil)}
		o := newOrchestrator(t, okVerifier(), failing)

		_, err := o.Ingest(ctx, "token", []byte(validDoc), schemas.EnvelopeSpdxPlain)
		require.Error(t, err)
		assert.True(t, errors.Is(err, &schemas.StorageError{Kind: schemas.StorageUnavailable}))
	})

	t.Run("lost insert race retries once and resolves", func(t *testing.T) {
		mem := store.NewInMemoryStore(nil)
		racing := &racingStore{inner: mem}
		o := newOrchestrator(t, okVerifier(), racing)

		res, err := o.Ingest(ctx, "token", []byte(validDoc), schemas.EnvelopeSpdxPlain)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, 2, racing.upserts, "constraint violation must trigger exactly one retry")
	})
}

// failingStore fails every write.
type failingStore struct {
	store.GraphStore
	err error
}

func (f *failingStore) Upsert(ctx context.Context, sub schemas.Submission) (schemas.UpsertResult, error) {
	return schemas.UpsertResult{}, f.err
}

// racingStore fails the first upsert with a constraint violation, simulating a
// concurrent writer, then delegates.
type racingStore struct {
	inner   store.GraphStore
	upserts int
}

func (r *racingStore) Upsert(ctx context.Context, sub schemas.Submission) (schemas.UpsertResult, error) {
	r.upserts++
	if r.upserts == 1 {
		return schemas.UpsertResult{}, schemas.NewStorageError(schemas.StorageConstraintViolation, "simulated race", nil)
	}
	return r.inner.Upsert(ctx, sub)
}

func (r *racingStore) Latest(ctx context.Context, projectID string) (*schemas.DependencyGraph, error) {
	return r.inner.Latest(ctx, projectID)
}

func (r *racingStore) History(ctx context.Context, projectID string, hr store.HistoryRange) ([]schemas.Submission, error) {
	return r.inner.History(ctx, projectID, hr)
}

func (r *racingStore) CurrentGraphs(ctx context.Context) (map[string]*schemas.DependencyGraph, error) {
	return r.inner.CurrentGraphs(ctx)
}

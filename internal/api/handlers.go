// File: internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/ingest"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/metrics"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/store"
)

// envelopeHeader lets the submitting action declare how the payload is
// wrapped. Absent, the GitHub envelope is assumed since the action forwards
// the Dependency Graph API response unchanged; the unwrap is transparent for
// bare documents anyway.
const envelopeHeader = "X-PG-Atlas-Envelope"

// Handlers holds the HTTP boundary for the ingestion and metrics surface.
// Request/response schema validation beyond what the pipeline needs lives
// upstream; this layer only translates between HTTP and the pipeline's types.
type Handlers struct {
	orchestrator *ingest.Orchestrator
	graphs       store.GraphStore
	maxBodyBytes int64
	log          *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(orchestrator *ingest.Orchestrator, graphs store.GraphStore, maxBodyBytes int64, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		orchestrator: orchestrator,
		graphs:       graphs,
		maxBodyBytes: maxBodyBytes,
		log:          logger.Named("api"),
	}
}

// Routes registers all endpoints on a fresh mux.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /ingest/sbom", h.handleIngestSbom)
	mux.HandleFunc("GET /projects/{owner}/{repo}/metrics", h.handleProjectMetrics)
	mux.HandleFunc("GET /projects/{owner}/{repo}/history", h.handleProjectHistory)
	mux.HandleFunc("GET /metrics/prevalence", h.handlePrevalence)
	return mux
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleIngestSbom(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, schemas.APIError{
			Code:   "MISSING_AUTHORIZATION",
			Detail: "Missing or malformed Authorization header. Expected: Bearer <oidc-token>",
		})
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, schemas.APIError{
			Code:   "UNREADABLE_BODY",
			Detail: "failed to read request body",
		})
		return
	}

	envelope := schemas.EnvelopeGitHub
	if strings.EqualFold(r.Header.Get(envelopeHeader), string(schemas.EnvelopeSpdxPlain)) {
		envelope = schemas.EnvelopeSpdxPlain
	}

	result, err := h.orchestrator.Ingest(r.Context(), token, body, envelope)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, schemas.SbomAccepted{
		Message:      "queued",
		Repository:   result.Claims.Repository,
		PackageCount: result.PackageCount,
		SubmissionID: result.SubmissionID,
		Created:      result.Created,
	})
}

// writeIngestError maps pipeline failures onto stable HTTP codes: auth
// failures are 403, invalid documents 422, backend unavailability 503. Any
// error outside the taxonomy is a programming error and surfaces as a logged
// 500 rather than being folded into a known kind.
func (h *Handlers) writeIngestError(w http.ResponseWriter, err error) {
	var authErr *schemas.AuthError
	var parseErr *schemas.ParseError
	var storeErr *schemas.StorageError

	switch {
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusForbidden, schemas.APIError{Code: string(authErr.Kind), Detail: authErr.Detail})
	case errors.As(err, &parseErr):
		writeJSON(w, http.StatusUnprocessableEntity, schemas.APIError{Code: string(parseErr.Kind), Detail: parseErr.Detail})
	case errors.As(err, &storeErr):
		writeJSON(w, http.StatusServiceUnavailable, schemas.APIError{Code: string(storeErr.Kind), Detail: "storage backend unavailable, retry later"})
	default:
		h.log.Error("Unclassified ingestion failure", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, schemas.APIError{Code: "INTERNAL", Detail: "internal error"})
	}
}

func (h *Handlers) handleProjectMetrics(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("owner") + "/" + r.PathValue("repo")

	graph, err := h.graphs.Latest(r.Context(), projectID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if graph == nil {
		// No submissions yet is a distinct state, not an error.
		writeJSON(w, http.StatusNotFound, schemas.APIError{
			Code:   "NO_SUBMISSIONS",
			Detail: "project has no stored submissions yet",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"metrics":    metrics.ComputeProjectMetrics(graph),
	})
}

// submissionSummary is the history row shape; full graphs are large and
// fetched per-submission, not in listings.
type submissionSummary struct {
	ID                string    `json:"id"`
	Seq               int64     `json:"seq"`
	SubmittedAt       time.Time `json:"submitted_at"`
	SourceCommit      string    `json:"source_commit,omitempty"`
	RawDocumentDigest string    `json:"raw_document_digest"`
	PackageCount      int       `json:"package_count"`
}

func (h *Handlers) handleProjectHistory(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("owner") + "/" + r.PathValue("repo")

	var rng store.HistoryRange
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, schemas.APIError{Code: "INVALID_RANGE", Detail: "from must be RFC3339"})
			return
		}
		rng.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, schemas.APIError{Code: "INVALID_RANGE", Detail: "to must be RFC3339"})
			return
		}
		rng.To = t
	}

	subs, err := h.graphs.History(r.Context(), projectID, rng)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	summaries := make([]submissionSummary, 0, len(subs))
	for _, sub := range subs {
		summaries = append(summaries, submissionSummary{
			ID:                sub.ID,
			Seq:               sub.Seq,
			SubmittedAt:       sub.SubmittedAt,
			SourceCommit:      sub.SourceCommit,
			RawDocumentDigest: sub.RawDocumentDigest,
			PackageCount:      len(sub.Graph.Nodes),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":  projectID,
		"submissions": summaries,
	})
}

func (h *Handlers) handlePrevalence(w http.ResponseWriter, r *http.Request) {
	current, err := h.graphs.CurrentGraphs(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	graphs := make([]metrics.ProjectGraph, 0, len(current))
	for projectID, graph := range current {
		graphs = append(graphs, metrics.ProjectGraph{ProjectID: projectID, Graph: graph})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"packages": metrics.ComputePackagePrevalence(graphs),
	})
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	var storeErr *schemas.StorageError
	if errors.As(err, &storeErr) {
		writeJSON(w, http.StatusServiceUnavailable, schemas.APIError{Code: string(storeErr.Kind), Detail: "storage backend unavailable, retry later"})
		return
	}
	h.log.Error("Unclassified store failure", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, schemas.APIError{Code: "INTERNAL", Detail: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

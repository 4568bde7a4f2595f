// File: internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
)

// InMemoryStore is a fast, ephemeral GraphStore for tests and single-process
// development. It enforces the same (project, digest) uniqueness semantics as
// the Postgres implementation, with the mutex standing in for the database
// constraint.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]schemas.Submission
	digests map[string]string // "project\x00digest" -> submission id
	history map[string][]string
	nextSeq int64
	log     *zap.Logger
}

var _ GraphStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new, empty in-memory store.
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryStore{
		byID:    make(map[string]schemas.Submission),
		digests: make(map[string]string),
		history: make(map[string][]string),
		log:     logger.Named("InMemoryStore"),
	}
}

func digestKey(projectID, digest string) string {
	return projectID + "\x00" + digest
}

// Upsert stores the submission, resolving duplicates to the existing id.
func (s *InMemoryStore) Upsert(ctx context.Context, sub schemas.Submission) (schemas.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := digestKey(sub.ProjectID, sub.RawDocumentDigest)
	if existing, ok := s.digests[key]; ok {
		return schemas.UpsertResult{Created: false, SubmissionID: existing}, nil
	}

	s.nextSeq++
	sub.Seq = s.nextSeq
	s.byID[sub.ID] = sub
	s.digests[key] = sub.ID
	s.history[sub.ProjectID] = append(s.history[sub.ProjectID], sub.ID)

	s.log.Debug("Submission stored",
		zap.String("submission_id", sub.ID),
		zap.String("project_id", sub.ProjectID))
	return schemas.UpsertResult{Created: true, SubmissionID: sub.ID}, nil
}

// Latest returns the most recent submission's graph, or (nil, nil) for an
// unknown project.
func (s *InMemoryStore) Latest(ctx context.Context, projectID string) (*schemas.DependencyGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.sortedHistoryLocked(projectID)
	if len(subs) == 0 {
		return nil, nil
	}
	graph := subs[len(subs)-1].Graph
	return &graph, nil
}

// History returns submissions in ascending submission order within the range.
func (s *InMemoryStore) History(ctx context.Context, projectID string, r HistoryRange) ([]schemas.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schemas.Submission
	for _, sub := range s.sortedHistoryLocked(projectID) {
		if !r.From.IsZero() && sub.SubmittedAt.Before(r.From) {
			continue
		}
		if !r.To.IsZero() && sub.SubmittedAt.After(r.To) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// CurrentGraphs returns every project's latest graph.
func (s *InMemoryStore) CurrentGraphs(ctx context.Context) (map[string]*schemas.DependencyGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	graphs := make(map[string]*schemas.DependencyGraph, len(s.history))
	for projectID := range s.history {
		subs := s.sortedHistoryLocked(projectID)
		if len(subs) == 0 {
			continue
		}
		graph := subs[len(subs)-1].Graph
		graphs[projectID] = &graph
	}
	return graphs, nil
}

// sortedHistoryLocked returns a project's submissions ordered by submission
// time, ties broken by write sequence. Caller must hold at least the read
// lock.
func (s *InMemoryStore) sortedHistoryLocked(projectID string) []schemas.Submission {
	ids := s.history[projectID]
	subs := make([]schemas.Submission, 0, len(ids))
	for _, id := range ids {
		if sub, ok := s.byID[id]; ok {
			subs = append(subs, sub)
		}
	}
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].SubmittedAt.Equal(subs[j].SubmittedAt) {
			return subs[i].Seq < subs[j].Seq
		}
		return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
	})
	return subs
}

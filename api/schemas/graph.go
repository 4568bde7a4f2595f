package schemas

import (
	"fmt"
	"sort"
	"time"
)

// -- Canonical Dependency Graph Data Model --

// RelationshipKind is the narrowed set of edge semantics the metric engine
// understands. The full SPDX relationship vocabulary is treated as an open set
// at the parsing boundary; anything outside this allow-list is dropped there.
type RelationshipKind string

const (
	RelationshipDependsOn    RelationshipKind = "DEPENDS_ON"     // e.g., app depends on a library at runtime.
	RelationshipDevDependsOn RelationshipKind = "DEV_DEPENDS_ON" // e.g., app depends on a linter or test framework.
	RelationshipContains     RelationshipKind = "CONTAINS"       // e.g., a bundle contains a vendored package.
)

// PackageIdentity is the immutable identity of a package. Two identities are
// equal iff their purl strings match; when no purl could be derived, equality
// falls back to the (ecosystem, name, version) tuple.
type PackageIdentity struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Ecosystem string `json:"ecosystem"`
	Purl      string `json:"purl,omitempty"`
}

// Key returns the canonical identity string used for node deduplication and
// edge endpoints. Purl wins when present since it already encodes the
// ecosystem/name/version triple in normalized form.
func (p PackageIdentity) Key() string {
	if p.Purl != "" {
		return p.Purl
	}
	return fmt.Sprintf("%s/%s@%s", p.Ecosystem, p.Name, p.Version)
}

// Equal reports whether two identities refer to the same package under the
// canonical equality rule.
func (p PackageIdentity) Equal(other PackageIdentity) bool {
	return p.Key() == other.Key()
}

// GraphNode wraps a PackageIdentity with the optional metadata carried over
// from the SPDX package entry. Metadata never participates in identity.
type GraphNode struct {
	Identity         PackageIdentity `json:"identity"`
	License          string          `json:"license,omitempty"`
	Supplier         string          `json:"supplier,omitempty"`
	DownloadLocation string          `json:"download_location,omitempty"`
}

// GraphEdge is a directed relationship between two nodes, referenced by their
// identity keys.
type GraphEdge struct {
	From string           `json:"from"`
	To   string           `json:"to"`
	Kind RelationshipKind `json:"kind"`
}

// DependencyGraph is the canonical, deduplicated form of one SBOM document.
// Invariants: every edge endpoint exists in Nodes, and the graph is acyclic
// once self-loops and duplicate identities have been collapsed.
type DependencyGraph struct {
	Root  string               `json:"root"`
	Nodes map[string]GraphNode `json:"nodes"`
	Edges []GraphEdge          `json:"edges"`
}

// NewDependencyGraph creates an empty graph with no root assigned yet.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{Nodes: make(map[string]GraphNode)}
}

// AddNode inserts a node, deduplicating by identity. When the identity is
// already present the new node's metadata overwrites the old (last-write-wins
// within a single document), leaving blank fields untouched.
func (g *DependencyGraph) AddNode(node GraphNode) string {
	key := node.Identity.Key()
	existing, ok := g.Nodes[key]
	if !ok {
		g.Nodes[key] = node
		return key
	}
	if node.License != "" {
		existing.License = node.License
	}
	if node.Supplier != "" {
		existing.Supplier = node.Supplier
	}
	if node.DownloadLocation != "" {
		existing.DownloadLocation = node.DownloadLocation
	}
	g.Nodes[key] = existing
	return key
}

// AddEdge inserts a directed edge between two identity keys. Self-loops
// (artifacts of identity collapsing) and exact duplicates are dropped.
func (g *DependencyGraph) AddEdge(from, to string, kind RelationshipKind) {
	if from == to {
		return
	}
	for _, e := range g.Edges {
		if e.From == from && e.To == to && e.Kind == kind {
			return
		}
	}
	g.Edges = append(g.Edges, GraphEdge{From: from, To: to, Kind: kind})
}

// Outgoing returns the edges originating at the given identity key.
func (g *DependencyGraph) Outgoing(key string) []GraphEdge {
	var out []GraphEdge
	for _, e := range g.Edges {
		if e.From == key {
			out = append(out, e)
		}
	}
	return out
}

// SortedNodeKeys returns all identity keys in lexical order. Metric
// computation iterates in this order so output is reproducible regardless of
// map iteration order.
func (g *DependencyGraph) SortedNodeKeys() []string {
	keys := make([]string, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the structural invariants: endpoints must resolve to known
// nodes and the root, when set, must be a known node.
func (g *DependencyGraph) Validate() error {
	if g.Root != "" {
		if _, ok := g.Nodes[g.Root]; !ok {
			return fmt.Errorf("root %q is not a node in the graph", g.Root)
		}
	}
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			return fmt.Errorf("edge source %q is not a node in the graph", e.From)
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return fmt.Errorf("edge target %q is not a node in the graph", e.To)
		}
	}
	return nil
}

// -- Submission Model --

// Submission is one accepted ingestion for a project. Immutable after
// creation; the graph is owned exclusively by its submission.
type Submission struct {
	ID                string          `json:"id"`
	ProjectID         string          `json:"project_id"`
	Seq               int64           `json:"seq"` // monotonic per-project write order, assigned by the store
	SubmittedAt       time.Time       `json:"submitted_at"`
	SourceCommit      string          `json:"source_commit,omitempty"`
	RawDocumentDigest string          `json:"raw_document_digest"`
	Graph             DependencyGraph `json:"graph"`
}

// UpsertResult reports the outcome of a store upsert. Created is false when an
// identical (project, digest) pair was already stored, in which case
// SubmissionID refers to the existing row.
type UpsertResult struct {
	Created      bool   `json:"created"`
	SubmissionID string `json:"submission_id"`
}

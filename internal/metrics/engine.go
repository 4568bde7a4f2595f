// File: internal/metrics/engine.go
// Description: Derived statistics over stored dependency graphs. Every
// computation here is a pure, read-only function of its input graphs and is
// byte-for-byte reproducible given the same inputs.
package metrics

import (
	"sort"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
)

// MetricName identifies one derived statistic.
type MetricName string

const (
	// MetricDirectDependencies is the number of distinct packages the root
	// depends on directly (out-degree of the root node).
	MetricDirectDependencies MetricName = "direct_dependencies"
	// MetricTransitiveDependencies is the number of distinct packages
	// reachable from the root, each counted once regardless of how many
	// paths reach it.
	MetricTransitiveDependencies MetricName = "transitive_dependencies"
	// MetricMaxDepth is the longest shortest-path from the root to any
	// reachable node, computed by breadth-first traversal so redundant
	// longer paths never inflate it.
	MetricMaxDepth MetricName = "max_dependency_depth"
)

// ProjectGraph pairs a project with its current dependency graph for
// cross-project computation.
type ProjectGraph struct {
	ProjectID string
	Graph     *schemas.DependencyGraph
}

// PrevalenceEntry reports how many distinct projects' current graphs contain
// a given package identity.
type PrevalenceEntry struct {
	Identity schemas.PackageIdentity `json:"identity"`
	Projects int                     `json:"projects"`
}

// ComputeProjectMetrics derives the per-project aggregates from one graph.
// A graph with only a root and no edges yields zero for all three metrics.
func ComputeProjectMetrics(graph *schemas.DependencyGraph) map[MetricName]int {
	result := map[MetricName]int{
		MetricDirectDependencies:     0,
		MetricTransitiveDependencies: 0,
		MetricMaxDepth:               0,
	}
	if graph == nil || graph.Root == "" {
		return result
	}

	direct := make(map[string]struct{})
	for _, e := range graph.Outgoing(graph.Root) {
		direct[e.To] = struct{}{}
	}
	result[MetricDirectDependencies] = len(direct)

	// BFS from the root; depth[key] is the shortest distance, so the
	// maximum over reachable nodes is well-defined even with redundant
	// longer paths in the data.
	depth := map[string]int{graph.Root: 0}
	queue := []string{graph.Root}
	maxDepth := 0
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		for _, e := range graph.Outgoing(key) {
			if _, seen := depth[e.To]; seen {
				continue
			}
			depth[e.To] = depth[key] + 1
			if depth[e.To] > maxDepth {
				maxDepth = depth[e.To]
			}
			queue = append(queue, e.To)
		}
	}

	result[MetricTransitiveDependencies] = len(depth) - 1 // root is not its own dependency
	result[MetricMaxDepth] = maxDepth
	return result
}

// ComputePackagePrevalence counts, for every package identity, the distinct
// projects whose current graph contains it. Input graphs are processed in
// projectID order and the result is sorted by identity key so serialization
// is deterministic across runs.
func ComputePackagePrevalence(graphs []ProjectGraph) []PrevalenceEntry {
	ordered := make([]ProjectGraph, len(graphs))
	copy(ordered, graphs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProjectID < ordered[j].ProjectID })

	counts := make(map[string]int)
	identities := make(map[string]schemas.PackageIdentity)
	for _, pg := range ordered {
		if pg.Graph == nil {
			continue
		}
		seen := make(map[string]struct{}, len(pg.Graph.Nodes))
		for key, node := range pg.Graph.Nodes {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			counts[key]++
			identities[key] = node.Identity
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]PrevalenceEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, PrevalenceEntry{Identity: identities[k], Projects: counts[k]})
	}
	return entries
}

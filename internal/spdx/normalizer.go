// File: internal/spdx/normalizer.go
// Description: Parses SPDX 2.3 documents into the canonical dependency graph.
// Normalization is a pure function: no I/O, no shared state, and identical
// input bytes always produce an identical graph.
package spdx

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// githubEnvelope is the wrapper the GitHub Dependency Graph API puts around
// the SPDX document. The submitting action forwards the API response
// unchanged, so ingestion must strip it.
type githubEnvelope struct {
	SBOM jsoniter.RawMessage `json:"sbom"`
}

// Normalize parses a raw SBOM submission into a canonical DependencyGraph.
//
// The SPDX relationship vocabulary is treated as an open set: only the
// dependency-relevant subset is mapped to graph edges, everything else is
// dropped without error. Package entries that normalize to the same identity
// collapse into one node (last writer wins for metadata) with edges from both
// re-pointed at the merged node. Residual cycles that survive identity
// collapsing are rejected as malformed rather than silently truncated.
func Normalize(raw []byte, envelope schemas.EnvelopeKind) (*schemas.DependencyGraph, error) {
	if len(raw) == 0 {
		return nil, schemas.NewParseError(schemas.ParseMalformedDocument, "empty document payload", nil)
	}

	if envelope == schemas.EnvelopeGitHub {
		raw = unwrapGitHubEnvelope(raw)
	}

	var doc schemas.SpdxDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schemas.NewParseError(schemas.ParseMalformedDocument, "document is not valid SPDX JSON", err)
	}

	if doc.SpdxVersion == "" {
		return nil, schemas.NewParseError(schemas.ParseMalformedDocument, "document declares no spdxVersion", nil)
	}
	if doc.SpdxVersion != schemas.SupportedSpdxVersion {
		return nil, schemas.NewParseError(schemas.ParseUnsupportedVersion,
			fmt.Sprintf("document declares %s; only %s is supported", doc.SpdxVersion, schemas.SupportedSpdxVersion), nil)
	}
	if len(doc.Packages) == 0 {
		return nil, schemas.NewParseError(schemas.ParseMalformedDocument, "document contains no packages", nil)
	}

	graph := schemas.NewDependencyGraph()

	// First pass: nodes, deduplicated by identity. spdxToKey lets the
	// relationship pass re-point edges from collapsed duplicates onto the
	// single merged node.
	spdxToKey := make(map[string]string, len(doc.Packages))
	for _, pkg := range doc.Packages {
		node := packageToNode(pkg)
		key := graph.AddNode(node)
		spdxToKey[pkg.SPDXID] = key
	}

	rootKey, err := resolveRoot(&doc, spdxToKey)
	if err != nil {
		return nil, err
	}
	graph.Root = rootKey

	// Second pass: relationships. Endpoints that do not resolve to a known
	// package (external document refs, NOASSERTION) drop the edge, and
	// unrecognized relationship types are skipped entirely.
	for _, rel := range doc.Relationships {
		from, to, kind, ok := mapRelationship(rel, spdxToKey)
		if !ok {
			continue
		}
		graph.AddEdge(from, to, kind)
	}

	if err := graph.Validate(); err != nil {
		return nil, schemas.NewParseError(schemas.ParseMalformedDocument, "graph invariant violated", err)
	}
	if err := checkAcyclic(graph); err != nil {
		return nil, err
	}
	return graph, nil
}

// unwrapGitHubEnvelope extracts the embedded SPDX payload from a
// {"sbom": {...}} wrapper. Payloads that are not enveloped (or not decodable
// at all) are returned unchanged so the SPDX decoder produces the
// appropriate error message.
func unwrapGitHubEnvelope(raw []byte) []byte {
	var outer githubEnvelope
	if err := json.Unmarshal(raw, &outer); err != nil {
		return raw
	}
	if len(outer.SBOM) == 0 {
		return raw
	}
	return outer.SBOM
}

// packageToNode converts an SPDX package entry to a graph node, deriving the
// purl from its external references when one is declared.
func packageToNode(pkg schemas.SpdxPackage) schemas.GraphNode {
	purl := ""
	for _, ref := range pkg.ExternalRefs {
		if strings.EqualFold(ref.ReferenceType, "purl") && ref.ReferenceLocator != "" {
			purl = ref.ReferenceLocator
			break
		}
	}

	license := pkg.LicenseConcluded
	if license == "" || license == "NOASSERTION" {
		license = pkg.LicenseDeclared
	}
	if license == "NOASSERTION" {
		license = ""
	}
	download := pkg.DownloadLocation
	if download == "NOASSERTION" {
		download = ""
	}

	return schemas.GraphNode{
		Identity: schemas.PackageIdentity{
			Name:      pkg.Name,
			Version:   pkg.VersionInfo,
			Ecosystem: ecosystemFromPurl(purl),
			Purl:      purl,
		},
		License:          license,
		Supplier:         pkg.Supplier,
		DownloadLocation: download,
	}
}

// ecosystemFromPurl extracts the package type from a purl, e.g.
// "pkg:npm/lodash@4.17.21" -> "npm". Identities without a purl keep an empty
// ecosystem and fall back to tuple equality.
func ecosystemFromPurl(purl string) string {
	rest, ok := strings.CutPrefix(purl, "pkg:")
	if !ok {
		return ""
	}
	if idx := strings.IndexByte(rest, '/'); idx > 0 {
		return rest[:idx]
	}
	return ""
}

// resolveRoot determines the document's described package, preferring the
// documentDescribes list and falling back to a DESCRIBES relationship from
// the document element.
func resolveRoot(doc *schemas.SpdxDocument, spdxToKey map[string]string) (string, error) {
	for _, id := range doc.DocumentDescribes {
		if key, ok := spdxToKey[id]; ok {
			return key, nil
		}
	}
	for _, rel := range doc.Relationships {
		if rel.RelationshipType == "DESCRIBES" && rel.SpdxElementID == doc.SPDXID {
			if key, ok := spdxToKey[rel.RelatedSpdxElement]; ok {
				return key, nil
			}
		}
	}
	return "", schemas.NewParseError(schemas.ParseMissingRoot, "no package is marked as the document's described root", nil)
}

// mapRelationship translates one SPDX relationship into a forward dependency
// edge. The *_OF forms point backwards in SPDX ("A is a dependency of B"), so
// their endpoints are swapped here.
func mapRelationship(rel schemas.SpdxRelationship, spdxToKey map[string]string) (from, to string, kind schemas.RelationshipKind, ok bool) {
	elem, elemOK := spdxToKey[rel.SpdxElementID]
	related, relatedOK := spdxToKey[rel.RelatedSpdxElement]
	if !elemOK || !relatedOK {
		return "", "", "", false
	}

	switch rel.RelationshipType {
	case "DEPENDS_ON":
		return elem, related, schemas.RelationshipDependsOn, true
	case "DEPENDENCY_OF":
		return related, elem, schemas.RelationshipDependsOn, true
	case "DEV_DEPENDENCY_OF":
		return related, elem, schemas.RelationshipDevDependsOn, true
	case "CONTAINS":
		return elem, related, schemas.RelationshipContains, true
	case "CONTAINED_BY":
		return related, elem, schemas.RelationshipContains, true
	default:
		return "", "", "", false
	}
}

// checkAcyclic runs Kahn's algorithm over the collapsed graph. Identity
// collapsing and self-loop removal already break the cycles SPDX documents
// commonly contain; anything that survives is rejected rather than silently
// truncated during metric traversal.
func checkAcyclic(graph *schemas.DependencyGraph) error {
	indegree := make(map[string]int, len(graph.Nodes))
	for key := range graph.Nodes {
		indegree[key] = 0
	}
	for _, e := range graph.Edges {
		indegree[e.To]++
	}

	var queue []string
	for _, key := range graph.SortedNodeKeys() {
		if indegree[key] == 0 {
			queue = append(queue, key)
		}
	}

	visited := 0
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range graph.Outgoing(key) {
			indegree[e.To]--
			if indegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	if visited != len(graph.Nodes) {
		return schemas.NewParseError(schemas.ParseMalformedDocument,
			"dependency relationships form a cycle after identity collapsing", nil)
	}
	return nil
}

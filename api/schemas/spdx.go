package schemas

// -- SPDX 2.3 JSON Wire Model --
//
// Only the fields the normalizer reads are modeled. SPDX documents carry far
// more (annotations, files, snippets); unknown fields are ignored by the JSON
// decoder, which keeps ingestion forward-compatible with richer documents.

// SupportedSpdxVersion is the only SPDX spec version accepted for ingestion.
const SupportedSpdxVersion = "SPDX-2.3"

// EnvelopeKind indicates how the raw submission bytes are wrapped.
type EnvelopeKind string

const (
	// EnvelopeSpdxPlain is a bare SPDX 2.3 JSON document.
	EnvelopeSpdxPlain EnvelopeKind = "SPDX_PLAIN"
	// EnvelopeGitHub is the GitHub Dependency Graph API response, which
	// wraps the SPDX document in a top-level {"sbom": {...}} object.
	EnvelopeGitHub EnvelopeKind = "GITHUB_ENVELOPE"
)

// SpdxDocument is the subset of an SPDX 2.3 JSON document relevant to
// dependency graph extraction.
type SpdxDocument struct {
	SpdxVersion       string             `json:"spdxVersion"`
	SPDXID            string             `json:"SPDXID"`
	Name              string             `json:"name"`
	DocumentNamespace string             `json:"documentNamespace"`
	DocumentDescribes []string           `json:"documentDescribes"`
	Packages          []SpdxPackage      `json:"packages"`
	Relationships     []SpdxRelationship `json:"relationships"`
}

// SpdxPackage is a single package entry in an SPDX document.
type SpdxPackage struct {
	SPDXID           string            `json:"SPDXID"`
	Name             string            `json:"name"`
	VersionInfo      string            `json:"versionInfo"`
	Supplier         string            `json:"supplier"`
	DownloadLocation string            `json:"downloadLocation"`
	LicenseConcluded string            `json:"licenseConcluded"`
	LicenseDeclared  string            `json:"licenseDeclared"`
	ExternalRefs     []SpdxExternalRef `json:"externalRefs"`
}

// SpdxExternalRef links a package to an external identifier. The normalizer
// derives purls from refs with ReferenceType "purl".
type SpdxExternalRef struct {
	ReferenceCategory string `json:"referenceCategory"`
	ReferenceType     string `json:"referenceType"`
	ReferenceLocator  string `json:"referenceLocator"`
}

// SpdxRelationship is a typed, directed statement between two SPDX elements.
// RelationshipType is an open vocabulary; the normalizer allow-lists the
// dependency-relevant subset and drops the rest.
type SpdxRelationship struct {
	SpdxElementID      string `json:"spdxElementId"`
	RelationshipType   string `json:"relationshipType"`
	RelatedSpdxElement string `json:"relatedSpdxElement"`
}

package schemas

// -- Ingestion API Wire Schemas --

// SbomAccepted is the response body returned on a successful SBOM submission
// (HTTP 202 semantics). Created is false when the identical document had
// already been stored for the project.
type SbomAccepted struct {
	Message      string `json:"message"`
	Repository   string `json:"repository"`
	PackageCount int    `json:"package_count"`
	SubmissionID string `json:"submission_id"`
	Created      bool   `json:"created"`
}

// APIError is the structured failure body returned to callers. Code is a
// stable machine-readable identifier (one of the AuthErrorKind,
// ParseErrorKind, or StorageErrorKind values); Detail is human-readable.
type APIError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// VerifiedClaims is the identity extracted from a successfully verified OIDC
// token. Repository is the authoritative project identifier; it always comes
// from the token, never from anything the client supplies alongside it.
type VerifiedClaims struct {
	Repository string `json:"repository"` // "owner/repo" of the submitting project
	Actor      string `json:"actor"`      // user that triggered the workflow run
	SourceSHA  string `json:"source_sha,omitempty"`
	Issuer     string `json:"issuer"`
	Audience   string `json:"audience"`
}

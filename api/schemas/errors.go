package schemas

import (
	"errors"
	"fmt"
)

// The ingestion pipeline resolves every failure to one of the kinds below.
// Anything that does not map to a named kind is a programming error and is
// propagated unwrapped rather than masked.

// AuthErrorKind identifies why token verification failed.
type AuthErrorKind string

const (
	AuthInvalidSignature AuthErrorKind = "INVALID_SIGNATURE"
	AuthAudienceMismatch AuthErrorKind = "AUDIENCE_MISMATCH"
	AuthExpired          AuthErrorKind = "EXPIRED"
	AuthKeyFetchFailed   AuthErrorKind = "KEY_FETCH_FAILED"
)

// AuthError is returned when an OIDC bearer token is rejected. The Detail
// string is safe to surface to callers; for audience mismatches it includes
// both the expected and received audience values since that is the primary
// operator-debugging signal in production.
type AuthError struct {
	Kind   AuthErrorKind
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Kind, e.Detail)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is lets errors.Is match on a bare kind sentinel, e.g.
// errors.Is(err, &AuthError{Kind: AuthExpired}).
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == "" || other.Kind == e.Kind
}

// NewAuthError builds an AuthError wrapping an optional cause.
func NewAuthError(kind AuthErrorKind, detail string, cause error) *AuthError {
	return &AuthError{Kind: kind, Detail: detail, Err: cause}
}

// ParseErrorKind identifies why SBOM normalization failed.
type ParseErrorKind string

const (
	ParseMalformedDocument  ParseErrorKind = "MALFORMED_DOCUMENT"
	ParseUnsupportedVersion ParseErrorKind = "UNSUPPORTED_VERSION"
	ParseMissingRoot        ParseErrorKind = "MISSING_ROOT"
)

// ParseError is returned when a submitted document cannot be normalized into
// a canonical dependency graph. Parse failures are never retried; the
// submission itself must be corrected by the caller.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("spdx: %s: %s", e.Kind, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	var other *ParseError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == "" || other.Kind == e.Kind
}

// NewParseError builds a ParseError wrapping an optional cause.
func NewParseError(kind ParseErrorKind, detail string, cause error) *ParseError {
	return &ParseError{Kind: kind, Detail: detail, Err: cause}
}

// StorageErrorKind identifies a graph store failure mode.
type StorageErrorKind string

const (
	// StorageConstraintViolation signals a uniqueness conflict on
	// (project_id, raw_document_digest). The orchestrator translates this
	// into the idempotent already-exists outcome, never a caller-visible
	// failure.
	StorageConstraintViolation StorageErrorKind = "CONSTRAINT_VIOLATION"
	// StorageUnavailable signals the persistence backend is unreachable.
	// Surfaced to callers as retryable.
	StorageUnavailable StorageErrorKind = "UNAVAILABLE"
)

// StorageError is returned by graph store implementations.
type StorageError struct {
	Kind   StorageErrorKind
	Detail string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %s", e.Kind, e.Detail)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	var other *StorageError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == "" || other.Kind == e.Kind
}

// NewStorageError builds a StorageError wrapping an optional cause.
func NewStorageError(kind StorageErrorKind, detail string, cause error) *StorageError {
	return &StorageError{Kind: kind, Detail: detail, Err: cause}
}

package schemas

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthErrorKindMatching(t *testing.T) {
	cause := errors.New("boom")
	err := NewAuthError(AuthExpired, "token expired at 2026-01-01T00:00:00Z", cause)

	assert.True(t, errors.Is(err, &AuthError{Kind: AuthExpired}))
	assert.True(t, errors.Is(err, &AuthError{}), "bare AuthError sentinel matches any kind")
	assert.False(t, errors.Is(err, &AuthError{Kind: AuthAudienceMismatch}))
	assert.ErrorIs(t, err, cause)

	var authErr *AuthError
	require.ErrorAs(t, fmt.Errorf("ingest: %w", err), &authErr)
	assert.Equal(t, AuthExpired, authErr.Kind)
}

func TestParseErrorKindMatching(t *testing.T) {
	err := NewParseError(ParseUnsupportedVersion, `spdxVersion "SPDX-2.2" is not supported`, nil)

	assert.True(t, errors.Is(err, &ParseError{Kind: ParseUnsupportedVersion}))
	assert.False(t, errors.Is(err, &ParseError{Kind: ParseMalformedDocument}))
	assert.False(t, errors.Is(err, &AuthError{}), "taxonomies never cross-match")
	assert.Contains(t, err.Error(), "UNSUPPORTED_VERSION")
}

func TestStorageErrorKindMatching(t *testing.T) {
	err := NewStorageError(StorageConstraintViolation, "duplicate digest for project", nil)

	assert.True(t, errors.Is(err, &StorageError{Kind: StorageConstraintViolation}))
	assert.False(t, errors.Is(err, &StorageError{Kind: StorageUnavailable}))

	wrapped := fmt.Errorf("upsert: %w", err)
	assert.True(t, errors.Is(wrapped, &StorageError{}), "matching survives wrapping")
}

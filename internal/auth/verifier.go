// File: internal/auth/verifier.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/api/schemas"
)

// validSigningMethods lists the JWA algorithms accepted from the identity
// provider. GitHub's OIDC tokens are RS256; ES256 is accepted for providers
// that publish EC keys.
var validSigningMethods = []string{"RS256", "ES256"}

// oidcClaims is the claim set carried by CI-issued OIDC tokens. Repository
// and Actor identify the submitting workflow; SHA is the commit the workflow
// ran against.
type oidcClaims struct {
	jwt.RegisteredClaims
	Repository string `json:"repository"`
	Actor      string `json:"actor"`
	SHA        string `json:"sha"`
}

// Verifier validates inbound OIDC bearer tokens against the key set cache.
// It is stateless apart from the injected cache and clock.
type Verifier struct {
	keys   *KeySetCache
	issuer string
	now    func() time.Time
	log    *zap.Logger
}

// NewVerifier creates a token verifier trusting the given issuer. The clock
// may be nil, in which case time.Now is used.
func NewVerifier(keys *KeySetCache, issuer string, clock func() time.Time, logger *zap.Logger) *Verifier {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		keys:   keys,
		issuer: issuer,
		now:    clock,
		log:    logger.Named("verifier"),
	}
}

// Verify checks the token's signature against the cached key set and
// validates the issuer, audience, and expiry claims. The only side effect is
// a possible key set refresh on cache miss.
func (v *Verifier) Verify(ctx context.Context, bearerToken, expectedAudience string) (schemas.VerifiedClaims, error) {
	var claims oidcClaims
	var keyErr error

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		key, err := v.keys.GetKey(ctx, kid)
		if err != nil {
			// Remember the cache error so fetch failures are not
			// misreported as bad signatures below.
			keyErr = err
			return nil, err
		}
		return key, nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(validSigningMethods),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(expectedAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)

	token, err := parser.ParseWithClaims(bearerToken, &claims, keyfunc)
	if err != nil {
		return schemas.VerifiedClaims{}, v.mapParseError(err, keyErr, &claims, expectedAudience)
	}
	if !token.Valid {
		return schemas.VerifiedClaims{}, schemas.NewAuthError(schemas.AuthInvalidSignature, "token failed validation", nil)
	}

	// jwt treats a token as live up to and including its exact expiry
	// instant; this service does not.
	if claims.ExpiresAt != nil && !v.now().Before(claims.ExpiresAt.Time) {
		return schemas.VerifiedClaims{}, schemas.NewAuthError(schemas.AuthExpired,
			fmt.Sprintf("token expired at %s", claims.ExpiresAt.Time.UTC().Format(time.RFC3339)), nil)
	}

	if claims.Repository == "" || claims.Actor == "" {
		return schemas.VerifiedClaims{}, schemas.NewAuthError(schemas.AuthInvalidSignature,
			"token is missing required identity claims (repository, actor)", nil)
	}

	v.log.Debug("OIDC token verified",
		zap.String("repository", claims.Repository),
		zap.String("actor", claims.Actor))

	return schemas.VerifiedClaims{
		Repository: claims.Repository,
		Actor:      claims.Actor,
		SourceSHA:  claims.SHA,
		Issuer:     claims.Issuer,
		Audience:   expectedAudience,
	}, nil
}

// mapParseError folds jwt's error chain into the auth error taxonomy. Every
// failure resolves to a named kind; nothing is collapsed into a generic
// unauthorized.
func (v *Verifier) mapParseError(err error, keyErr error, claims *oidcClaims, expectedAudience string) error {
	switch {
	case keyErr != nil && !errors.Is(keyErr, ErrKeyNotFound):
		return schemas.NewAuthError(schemas.AuthKeyFetchFailed,
			"unable to retrieve signing keys from identity provider", keyErr)

	case errors.Is(err, jwt.ErrTokenExpired):
		detail := "token has expired"
		if claims.ExpiresAt != nil {
			detail = fmt.Sprintf("token expired at %s", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
		}
		return schemas.NewAuthError(schemas.AuthExpired, detail, err)

	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		// The expected/received pair is deliberately included: audience
		// misconfiguration is the most common integration failure and both
		// values are non-secret.
		received := strings.Join(claims.Audience, ", ")
		if received == "" {
			received = "(none)"
		}
		return schemas.NewAuthError(schemas.AuthAudienceMismatch,
			fmt.Sprintf("token audience %q does not match expected audience %q", received, expectedAudience), err)

	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return schemas.NewAuthError(schemas.AuthInvalidSignature,
			fmt.Sprintf("token issuer is not the trusted provider %q", v.issuer), err)

	default:
		// Malformed tokens, signature failures, unknown kids: from the
		// trust boundary's perspective these are all unverifiable tokens.
		return schemas.NewAuthError(schemas.AuthInvalidSignature,
			"token signature could not be verified", err)
	}
}

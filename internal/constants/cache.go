package constants

import "time"

// Credential cache TTLs.
const (
	// GeminiCredentialTTL bounds API-key cache entries. The key itself does
	// not expire upstream; the TTL just forces periodic re-resolution.
	GeminiCredentialTTL = 1 * time.Hour

	// VertexAssumedTokenTTL is assumed for directly supplied access tokens
	// whose real expiry is unknown.
	VertexAssumedTokenTTL = 5 * time.Minute

	// TokenExpirySafetyMargin is subtracted from exchanged-token lifetimes
	// so a token is refreshed before the upstream rejects it.
	TokenExpirySafetyMargin = 60 * time.Second

	// JWTAssertionLifetime is the exp-iat window of the signed assertion.
	JWTAssertionLifetime = 1 * time.Hour
)

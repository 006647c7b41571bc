package constants

// Upstream endpoints and URL building blocks.
const (
	// GeminiBaseURL is the generative-language API root used by API-key auth.
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// VertexBaseURLTemplate expands with the resolved location.
	VertexBaseURLTemplate = "https://%s-aiplatform.googleapis.com/v1"

	// DefaultTokenURL is the OAuth2 token endpoint used when the
	// service-account JSON does not carry its own token_uri.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	// OAuthScope is the scope requested in the service-account assertion.
	OAuthScope = "https://www.googleapis.com/auth/cloud-platform"

	// JWTBearerGrantType is the grant_type for assertion exchange.
	JWTBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Operation endpoints appended as models/{model}:{endpoint}.
const (
	EndpointGenerateContent       = "generateContent"
	EndpointStreamGenerateContent = "streamGenerateContent"
	EndpointCountTokens           = "countTokens"
)

// Built-in defaults.
const (
	DefaultModel    = "gemini-2.0-flash-lite"
	DefaultLocation = "us-central1"
)

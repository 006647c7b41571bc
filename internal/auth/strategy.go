// Package auth resolves, caches, and refreshes credentials for the two
// upstream authentication strategies, and derives the request headers, base
// URL, and URL path for any (strategy, model, endpoint) triple. Both
// strategies can be exercised concurrently from one process; nothing here
// is shared between them except the coordinator itself.
package auth

import (
	"fmt"
	"net/http"

	"geminiclient-go/genai"
	"geminiclient-go/internal/constants"
)

// GeminiCredentials is the API-key regime.
type GeminiCredentials struct {
	APIKey string
}

// VertexCredentials is the OAuth regime: either a ready access token or a
// service account to exchange, plus routing fields.
type VertexCredentials struct {
	AccessToken        string
	ServiceAccountPath string
	ServiceAccountJSON string
	ProjectID          string
	Location           string
	TokenURL           string
}

// Overrides are per-request credential overrides. They replace the
// corresponding field for one call only and never touch the cache.
type Overrides struct {
	APIKey      string
	AccessToken string
	ProjectID   string
	Location    string
}

// Grant is the outcome of coordination: everything the transport needs to
// route and authenticate one request.
type Grant struct {
	Strategy  genai.Strategy
	Headers   http.Header
	BaseURL   string
	ProjectID string
	Location  string
}

// BuildPath derives the operation path for the grant's strategy.
func (g Grant) BuildPath(model, endpoint string) string {
	switch g.Strategy {
	case genai.StrategyVertexAI:
		return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s:%s",
			g.ProjectID, g.Location, model, endpoint)
	default:
		return fmt.Sprintf("models/%s:%s", model, endpoint)
	}
}

// ModelsPath derives the model-listing path for the grant's strategy.
func (g Grant) ModelsPath() string {
	if g.Strategy == genai.StrategyVertexAI {
		return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models", g.ProjectID, g.Location)
	}
	return "models"
}

func geminiHeaders(apiKey string) http.Header {
	h := make(http.Header, 2)
	h.Set("x-goog-api-key", apiKey)
	h.Set("Content-Type", "application/json")
	return h
}

func vertexHeaders(accessToken string) http.Header {
	h := make(http.Header, 2)
	h.Set("Authorization", "Bearer "+accessToken)
	h.Set("Content-Type", "application/json")
	return h
}

func vertexBaseURL(override, location string) string {
	if override != "" {
		return override
	}
	if location == "" {
		location = constants.DefaultLocation
	}
	return fmt.Sprintf(constants.VertexBaseURLTemplate, location)
}

func geminiBaseURL(override string) string {
	if override != "" {
		return override
	}
	return constants.GeminiBaseURL
}

// MaskKey redacts credential material for logs: a short prefix, never the
// full value.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:6] + "..."
}

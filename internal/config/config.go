// Package config resolves the library's effective configuration by merging,
// in decreasing precedence: per-call options (applied by the facade),
// programmatic application config, environment variables, and built-in
// defaults.
package config

import (
	"time"

	"geminiclient-go/genai"
)

// GeminiConfig holds API-key credentials and endpoint override.
type GeminiConfig struct {
	APIKey string
	// BaseURL overrides the production generative-language endpoint
	// (tests, proxies). Empty means the default.
	BaseURL string
}

// VertexConfig holds OAuth credentials and routing fields.
type VertexConfig struct {
	AccessToken        string
	ServiceAccountPath string
	ServiceAccountJSON string
	ProjectID          string
	Location           string
	// TokenURL overrides the token_uri from the service-account JSON.
	TokenURL string
	// BaseURL overrides the location-derived aiplatform endpoint.
	BaseURL string
	// WatchServiceAccount invalidates cached tokens when the key file
	// changes on disk.
	WatchServiceAccount bool
}

// LoggingConfig controls the library logger.
type LoggingConfig struct {
	Level string
	Debug bool
	// File enables rotating file output when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config is the process-wide application configuration.
type Config struct {
	DefaultAuth genai.Strategy

	Gemini GeminiConfig
	Vertex VertexConfig

	Model             string
	Generation        genai.GenerationConfig
	SafetySettings    []genai.SafetySetting
	SystemInstruction string
	Tools             []genai.Tool

	Timeout           time.Duration
	StreamIdleTimeout time.Duration
	MaxRetries        int

	MaxSessions       int
	SubscriberMailbox int

	// RatePerSecond gates outbound requests client-side; 0 disables.
	RatePerSecond float64
	RateBurst     int

	Logging LoggingConfig
}

// HasGeminiCredentials reports whether the Gemini strategy is usable.
func (c *Config) HasGeminiCredentials() bool {
	return c.Gemini.APIKey != ""
}

// HasVertexCredentials reports whether the VertexAI strategy is usable.
func (c *Config) HasVertexCredentials() bool {
	hasToken := c.Vertex.AccessToken != ""
	hasServiceAccount := c.Vertex.ServiceAccountPath != "" || c.Vertex.ServiceAccountJSON != ""
	return (hasToken || hasServiceAccount) && c.Vertex.ProjectID != ""
}

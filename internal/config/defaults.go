package config

import "geminiclient-go/internal/constants"

// NewDefaults returns the built-in configuration layer.
func NewDefaults() *Config {
	return &Config{
		Model: constants.DefaultModel,
		Vertex: VertexConfig{
			Location: constants.DefaultLocation,
		},
		Timeout:           constants.DefaultUnaryTimeout,
		StreamIdleTimeout: constants.DefaultStreamIdleTimeout,
		MaxRetries:        constants.DefaultMaxRetries,
		MaxSessions:       constants.DefaultMaxSessions,
		SubscriberMailbox: constants.DefaultSubscriberMailbox,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

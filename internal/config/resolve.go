package config

import (
	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/constants"
)

// Resolve builds the effective configuration from the layered sources:
// built-in defaults, then environment, then an optional config file.
// Programmatic options are applied by the caller on the returned value;
// Finalize must run after the last layer.
func Resolve(configFile string) (*Config, error) {
	cfg := NewDefaults()
	ApplyEnv(cfg)
	if configFile != "" {
		if err := ApplyFile(cfg, configFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Finalize fills derived fields and validates invariants after all layers
// have been applied: the location default, the default-auth election, and
// bounds on engine limits.
func Finalize(cfg *Config) error {
	if cfg.Vertex.Location == "" {
		cfg.Vertex.Location = constants.DefaultLocation
	}
	if cfg.Model == "" {
		cfg.Model = constants.DefaultModel
	}

	electDefaultAuth(cfg)

	if cfg.Timeout <= 0 {
		return apierr.Newf(apierr.KindConfig, "timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.StreamIdleTimeout <= 0 {
		return apierr.Newf(apierr.KindConfig, "stream_idle_timeout must be positive, got %s", cfg.StreamIdleTimeout)
	}
	if cfg.MaxRetries < 0 {
		return apierr.Newf(apierr.KindConfig, "max_retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.MaxSessions < 1 {
		return apierr.Newf(apierr.KindConfig, "max_sessions must be at least 1, got %d", cfg.MaxSessions)
	}
	if cfg.SubscriberMailbox < 1 {
		return apierr.Newf(apierr.KindConfig, "subscriber_mailbox must be at least 1, got %d", cfg.SubscriberMailbox)
	}
	return nil
}

// electDefaultAuth picks the default strategy: the one with complete
// credentials; when both are complete, an explicit default_auth wins,
// otherwise Gemini.
func electDefaultAuth(cfg *Config) {
	hasGemini := cfg.HasGeminiCredentials()
	hasVertex := cfg.HasVertexCredentials()

	switch {
	case hasGemini && hasVertex:
		if cfg.DefaultAuth != genai.StrategyVertexAI {
			cfg.DefaultAuth = genai.StrategyGemini
		}
	case hasVertex:
		cfg.DefaultAuth = genai.StrategyVertexAI
	default:
		cfg.DefaultAuth = genai.StrategyGemini
	}
}

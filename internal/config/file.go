package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
)

// FileConfig is the YAML application-config schema. Decoding is strict:
// unknown keys are rejected so typos surface as ConfigError instead of
// silently resolving to defaults.
type FileConfig struct {
	DefaultAuth string `yaml:"default_auth"`

	Gemini struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"gemini"`

	Vertex struct {
		AccessToken         string `yaml:"access_token"`
		ServiceAccount      string `yaml:"service_account"`
		ProjectID           string `yaml:"project_id"`
		Location            string `yaml:"location"`
		TokenURL            string `yaml:"token_url"`
		BaseURL             string `yaml:"base_url"`
		WatchServiceAccount bool   `yaml:"watch_service_account"`
	} `yaml:"vertex"`

	Model             string                 `yaml:"model"`
	Temperature       *float64               `yaml:"temperature"`
	TopP              *float64               `yaml:"top_p"`
	TopK              *int                   `yaml:"top_k"`
	MaxOutputTokens   *int                   `yaml:"max_output_tokens"`
	StopSequences     []string               `yaml:"stop_sequences"`
	CandidateCount    *int                   `yaml:"candidate_count"`
	ResponseMIMEType  string                 `yaml:"response_mime_type"`
	ResponseSchema    map[string]interface{} `yaml:"response_schema"`
	SystemInstruction string                 `yaml:"system_instruction"`

	Timeout           string `yaml:"timeout"`
	StreamIdleTimeout string `yaml:"stream_idle_timeout"`
	MaxRetries        *int   `yaml:"max_retries"`
	MaxSessions       *int   `yaml:"max_sessions"`
	SubscriberMailbox *int   `yaml:"subscriber_mailbox"`

	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`

	Logging struct {
		Level      string `yaml:"level"`
		Debug      bool   `yaml:"debug"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// ApplyFile layers a YAML config file onto cfg.
func ApplyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apierr.Wrap(apierr.KindConfig, fmt.Sprintf("read config file %s", path), err)
	}

	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return apierr.Wrap(apierr.KindConfig, fmt.Sprintf("parse config file %s", path), err)
	}

	if fc.DefaultAuth != "" {
		strategy, err := genai.ParseStrategy(fc.DefaultAuth)
		if err != nil {
			return apierr.Wrap(apierr.KindConfig, "default_auth", err)
		}
		cfg.DefaultAuth = strategy
	}

	applyNonEmpty(&cfg.Gemini.APIKey, fc.Gemini.APIKey)
	applyNonEmpty(&cfg.Gemini.BaseURL, fc.Gemini.BaseURL)

	applyNonEmpty(&cfg.Vertex.AccessToken, fc.Vertex.AccessToken)
	applyNonEmpty(&cfg.Vertex.ServiceAccountPath, fc.Vertex.ServiceAccount)
	applyNonEmpty(&cfg.Vertex.ProjectID, fc.Vertex.ProjectID)
	applyNonEmpty(&cfg.Vertex.Location, fc.Vertex.Location)
	applyNonEmpty(&cfg.Vertex.TokenURL, fc.Vertex.TokenURL)
	applyNonEmpty(&cfg.Vertex.BaseURL, fc.Vertex.BaseURL)
	if fc.Vertex.WatchServiceAccount {
		cfg.Vertex.WatchServiceAccount = true
	}

	applyNonEmpty(&cfg.Model, fc.Model)
	if fc.Temperature != nil {
		cfg.Generation.Temperature = fc.Temperature
	}
	if fc.TopP != nil {
		cfg.Generation.TopP = fc.TopP
	}
	if fc.TopK != nil {
		cfg.Generation.TopK = fc.TopK
	}
	if fc.MaxOutputTokens != nil {
		cfg.Generation.MaxOutputTokens = fc.MaxOutputTokens
	}
	if len(fc.StopSequences) > 0 {
		cfg.Generation.StopSequences = fc.StopSequences
	}
	if fc.CandidateCount != nil {
		cfg.Generation.CandidateCount = fc.CandidateCount
	}
	applyNonEmpty(&cfg.Generation.ResponseMIMEType, fc.ResponseMIMEType)
	if fc.ResponseSchema != nil {
		cfg.Generation.ResponseSchema = fc.ResponseSchema
	}
	applyNonEmpty(&cfg.SystemInstruction, fc.SystemInstruction)

	if err := applyDuration(&cfg.Timeout, fc.Timeout, "timeout"); err != nil {
		return err
	}
	if err := applyDuration(&cfg.StreamIdleTimeout, fc.StreamIdleTimeout, "stream_idle_timeout"); err != nil {
		return err
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.MaxSessions != nil {
		cfg.MaxSessions = *fc.MaxSessions
	}
	if fc.SubscriberMailbox != nil {
		cfg.SubscriberMailbox = *fc.SubscriberMailbox
	}

	if fc.RatePerSecond > 0 {
		cfg.RatePerSecond = fc.RatePerSecond
	}
	if fc.RateBurst > 0 {
		cfg.RateBurst = fc.RateBurst
	}

	applyNonEmpty(&cfg.Logging.Level, fc.Logging.Level)
	if fc.Logging.Debug {
		cfg.Logging.Debug = true
	}
	applyNonEmpty(&cfg.Logging.File, fc.Logging.File)
	if fc.Logging.MaxSizeMB > 0 {
		cfg.Logging.MaxSizeMB = fc.Logging.MaxSizeMB
	}
	if fc.Logging.MaxBackups > 0 {
		cfg.Logging.MaxBackups = fc.Logging.MaxBackups
	}
	if fc.Logging.MaxAgeDays > 0 {
		cfg.Logging.MaxAgeDays = fc.Logging.MaxAgeDays
	}

	log.WithField("path", path).Debug("configuration file applied")
	return nil
}

func applyNonEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return apierr.Wrap(apierr.KindConfig, fmt.Sprintf("invalid %s %q", field, v), err)
	}
	*dst = d
	return nil
}

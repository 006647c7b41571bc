package config

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Environment variable names; exact spellings are part of the contract.
const (
	EnvGeminiAPIKey         = "GEMINI_API_KEY"
	EnvVertexAccessToken    = "VERTEX_ACCESS_TOKEN"
	EnvVertexServiceAccount = "VERTEX_SERVICE_ACCOUNT"
	EnvVertexJSONFile       = "VERTEX_JSON_FILE"
	EnvVertexProjectID      = "VERTEX_PROJECT_ID"
	EnvVertexLocation       = "VERTEX_LOCATION"
	EnvGoogleCloudProject   = "GOOGLE_CLOUD_PROJECT"
	EnvGoogleCloudLocation  = "GOOGLE_CLOUD_LOCATION"
)

// LoadEnvFile merges a .env file into the process environment without
// overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return err
	}
	log.WithField("path", path).Debug("environment file loaded")
	return nil
}

// ApplyEnv layers the environment variable contract onto cfg. Values
// already present (from a higher-precedence source applied later) are set
// here and overridden afterwards; callers apply layers bottom-up.
func ApplyEnv(cfg *Config) {
	applyGeminiEnvVars(cfg)
	applyVertexEnvVars(cfg)
}

func applyGeminiEnvVars(cfg *Config) {
	if v := getenv(EnvGeminiAPIKey, ""); v != "" {
		cfg.Gemini.APIKey = v
	}
}

func applyVertexEnvVars(cfg *Config) {
	if v := getenv(EnvVertexAccessToken, ""); v != "" {
		cfg.Vertex.AccessToken = v
	}
	// VERTEX_SERVICE_ACCOUNT wins over its VERTEX_JSON_FILE alias.
	if v := getenv(EnvVertexJSONFile, ""); v != "" {
		cfg.Vertex.ServiceAccountPath = v
	}
	if v := getenv(EnvVertexServiceAccount, ""); v != "" {
		cfg.Vertex.ServiceAccountPath = v
	}
	// VERTEX_* takes precedence over the GOOGLE_CLOUD_* fallbacks.
	if v := getenv(EnvGoogleCloudProject, ""); v != "" {
		cfg.Vertex.ProjectID = v
	}
	if v := getenv(EnvVertexProjectID, ""); v != "" {
		cfg.Vertex.ProjectID = v
	}
	if v := getenv(EnvGoogleCloudLocation, ""); v != "" {
		cfg.Vertex.Location = v
	}
	if v := getenv(EnvVertexLocation, ""); v != "" {
		cfg.Vertex.Location = v
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
)

func clearContractEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvGeminiAPIKey, EnvVertexAccessToken, EnvVertexServiceAccount,
		EnvVertexJSONFile, EnvVertexProjectID, EnvVertexLocation,
		EnvGoogleCloudProject, EnvGoogleCloudLocation,
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearContractEnv(t)
	cfg, err := Resolve("")
	require.NoError(t, err)
	require.NoError(t, Finalize(cfg))

	require.Equal(t, "gemini-2.0-flash-lite", cfg.Model)
	require.Equal(t, "us-central1", cfg.Vertex.Location)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 45*time.Second, cfg.StreamIdleTimeout)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 1000, cfg.MaxSessions)
	require.Equal(t, genai.StrategyGemini, cfg.DefaultAuth)
}

func TestEnvContract(t *testing.T) {
	clearContractEnv(t)
	t.Setenv(EnvGeminiAPIKey, "AIza-env")
	t.Setenv(EnvVertexServiceAccount, "/keys/sa.json")
	t.Setenv(EnvGoogleCloudProject, "fallback-project")
	t.Setenv(EnvVertexProjectID, "explicit-project")
	t.Setenv(EnvGoogleCloudLocation, "europe-west1")

	cfg, err := Resolve("")
	require.NoError(t, err)
	require.NoError(t, Finalize(cfg))

	require.Equal(t, "AIza-env", cfg.Gemini.APIKey)
	require.Equal(t, "/keys/sa.json", cfg.Vertex.ServiceAccountPath)
	require.Equal(t, "explicit-project", cfg.Vertex.ProjectID, "VERTEX_PROJECT_ID wins over GOOGLE_CLOUD_PROJECT")
	require.Equal(t, "europe-west1", cfg.Vertex.Location)
}

func TestEnvJSONFileAlias(t *testing.T) {
	clearContractEnv(t)
	t.Setenv(EnvVertexJSONFile, "/keys/alias.json")
	t.Setenv(EnvVertexProjectID, "p")

	cfg, err := Resolve("")
	require.NoError(t, err)
	require.Equal(t, "/keys/alias.json", cfg.Vertex.ServiceAccountPath)

	t.Setenv(EnvVertexServiceAccount, "/keys/primary.json")
	cfg, err = Resolve("")
	require.NoError(t, err)
	require.Equal(t, "/keys/primary.json", cfg.Vertex.ServiceAccountPath, "VERTEX_SERVICE_ACCOUNT wins over alias")
}

func TestFileOverridesEnv(t *testing.T) {
	clearContractEnv(t)
	t.Setenv(EnvGeminiAPIKey, "AIza-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gemini:
  api_key: AIza-file
model: gemini-2.0-pro
timeout: 10s
temperature: 0.5
`), 0o600))

	cfg, err := Resolve(path)
	require.NoError(t, err)
	require.NoError(t, Finalize(cfg))

	require.Equal(t, "AIza-file", cfg.Gemini.APIKey)
	require.Equal(t, "gemini-2.0-pro", cfg.Model)
	require.Equal(t, 10*time.Second, cfg.Timeout)
	require.NotNil(t, cfg.Generation.Temperature)
	require.Equal(t, 0.5, *cfg.Generation.Temperature)
}

func TestFileUnknownKeyRejected(t *testing.T) {
	clearContractEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modle: typo\n"), 0o600))

	_, err := Resolve(path)
	require.Error(t, err)
	require.True(t, apierr.IsKind(err, apierr.KindConfig))
}

func TestFileBadAuthRejected(t *testing.T) {
	clearContractEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_auth: openai\n"), 0o600))

	_, err := Resolve(path)
	require.Error(t, err)
	require.True(t, apierr.IsKind(err, apierr.KindConfig))
}

func TestDefaultAuthElection(t *testing.T) {
	clearContractEnv(t)

	cfg := NewDefaults()
	cfg.Gemini.APIKey = "AIza-x"
	require.NoError(t, Finalize(cfg))
	require.Equal(t, genai.StrategyGemini, cfg.DefaultAuth)

	cfg = NewDefaults()
	cfg.Vertex.AccessToken = "ya29.token"
	cfg.Vertex.ProjectID = "p"
	require.NoError(t, Finalize(cfg))
	require.Equal(t, genai.StrategyVertexAI, cfg.DefaultAuth)

	// Both complete: explicit default_auth decides.
	cfg = NewDefaults()
	cfg.Gemini.APIKey = "AIza-x"
	cfg.Vertex.AccessToken = "ya29.token"
	cfg.Vertex.ProjectID = "p"
	cfg.DefaultAuth = genai.StrategyVertexAI
	require.NoError(t, Finalize(cfg))
	require.Equal(t, genai.StrategyVertexAI, cfg.DefaultAuth)

	// Both complete, nothing marked: Gemini.
	cfg = NewDefaults()
	cfg.Gemini.APIKey = "AIza-x"
	cfg.Vertex.AccessToken = "ya29.token"
	cfg.Vertex.ProjectID = "p"
	require.NoError(t, Finalize(cfg))
	require.Equal(t, genai.StrategyGemini, cfg.DefaultAuth)
}

func TestFinalizeBounds(t *testing.T) {
	clearContractEnv(t)
	cfg := NewDefaults()
	cfg.MaxSessions = 0
	err := Finalize(cfg)
	require.Error(t, err)
	require.True(t, apierr.IsKind(err, apierr.KindConfig))

	cfg = NewDefaults()
	cfg.Timeout = -time.Second
	err = Finalize(cfg)
	require.Error(t, err)
	require.True(t, apierr.IsKind(err, apierr.KindConfig))
}

func TestLoadEnvFileMissingIsNoError(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
}

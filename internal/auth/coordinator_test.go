package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/config"
)

// tokenEndpoint counts exchanges so tests can assert how many network
// authentications actually happened. Each exchange mints a distinct
// token, so identical grants prove a shared exchange rather than a
// coincidental equal response.
func tokenEndpoint(t *testing.T, expiresIn int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"Bearer","expires_in":%d}`, n, expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func vertexConfig(t *testing.T, tokenURL string) *config.Config {
	t.Helper()
	_, keyPEM := testRSAKey(t)
	cfg := config.NewDefaults()
	cfg.Vertex.ServiceAccountJSON = testServiceAccountJSON(t, keyPEM, tokenURL)
	cfg.Vertex.ProjectID = "proj-123"
	return cfg
}

func TestCoordinateGeminiGrant(t *testing.T) {
	cfg := config.NewDefaults()
	cfg.Gemini.APIKey = "AIzaTestKey"
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	grant, err := coord.Coordinate(context.Background(), genai.StrategyGemini, nil)
	require.NoError(t, err)
	assert.Equal(t, genai.StrategyGemini, grant.Strategy)
	assert.Equal(t, "AIzaTestKey", grant.Headers.Get("x-goog-api-key"))
	assert.Equal(t, "application/json", grant.Headers.Get("Content-Type"))
	assert.Empty(t, grant.Headers.Get("Authorization"))
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", grant.BaseURL)
	assert.Equal(t, "models/gemini-2.0-flash:generateContent",
		grant.BuildPath("gemini-2.0-flash", "generateContent"))
}

func TestCoordinateGeminiMissingKey(t *testing.T) {
	coord, err := New(config.NewDefaults())
	require.NoError(t, err)
	defer coord.Close()

	_, coordErr := coord.Coordinate(context.Background(), genai.StrategyGemini, nil)
	require.Error(t, coordErr)
	assert.True(t, apierr.IsKind(coordErr, apierr.KindConfig))
}

func TestCoordinateVertexGrant(t *testing.T) {
	srv, calls := tokenEndpoint(t, 3600)
	cfg := vertexConfig(t, srv.URL)
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	grant, err := coord.Coordinate(context.Background(), genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	assert.Equal(t, genai.StrategyVertexAI, grant.Strategy)
	assert.Contains(t, grant.Headers.Get("Authorization"), "Bearer ")
	assert.Empty(t, grant.Headers.Get("x-goog-api-key"))
	assert.Equal(t, "https://us-central1-aiplatform.googleapis.com/v1", grant.BaseURL)
	assert.Equal(t,
		"projects/proj-123/locations/us-central1/publishers/google/models/gemini-2.0-flash:streamGenerateContent",
		grant.BuildPath("gemini-2.0-flash", "streamGenerateContent"))
	assert.Equal(t, int64(1), calls.Load())
}

func TestCoordinateVertexSingleExchangeUnderConcurrency(t *testing.T) {
	srv, calls := tokenEndpoint(t, 3600)
	cfg := vertexConfig(t, srv.URL)
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	const workers = 5
	grants := make([]Grant, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grants[i], errs[i] = coord.Coordinate(context.Background(), genai.StrategyVertexAI, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, grants[0].Headers.Get("Authorization"), grants[i].Headers.Get("Authorization"))
	}
	assert.Equal(t, int64(1), calls.Load(), "concurrent misses must coalesce into one exchange")
}

func TestCoordinateVertexCacheExpiryMargin(t *testing.T) {
	srv, calls := tokenEndpoint(t, 3600)
	cfg := vertexConfig(t, srv.URL)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	setNow := func(t2 time.Time) {
		mu.Lock()
		now = t2
		mu.Unlock()
	}

	coord, err := New(cfg, WithNowFunc(clock))
	require.NoError(t, err)
	defer coord.Close()

	ctx := context.Background()
	_, err = coord.Coordinate(ctx, genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	// Inside the 60-second safety margin the token is still served from
	// cache.
	setNow(base.Add(3539 * time.Second))
	_, err = coord.Coordinate(ctx, genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())

	// At expires_in minus the margin the entry is stale.
	setNow(base.Add(3540 * time.Second))
	_, err = coord.Coordinate(ctx, genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCoordinateOverridesDoNotTouchCache(t *testing.T) {
	srv, calls := tokenEndpoint(t, 3600)
	cfg := vertexConfig(t, srv.URL)
	cfg.Gemini.APIKey = "config-key"
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	ctx := context.Background()

	// A per-call access token bypasses the exchange entirely.
	grant, err := coord.Coordinate(ctx, genai.StrategyVertexAI, &Overrides{AccessToken: "caller-token"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer caller-token", grant.Headers.Get("Authorization"))
	assert.Equal(t, int64(0), calls.Load())

	// A per-call API key masks the configured one for this call only.
	grant, err = coord.Coordinate(ctx, genai.StrategyGemini, &Overrides{APIKey: "caller-key"})
	require.NoError(t, err)
	assert.Equal(t, "caller-key", grant.Headers.Get("x-goog-api-key"))

	grant, err = coord.Coordinate(ctx, genai.StrategyGemini, nil)
	require.NoError(t, err)
	assert.Equal(t, "config-key", grant.Headers.Get("x-goog-api-key"))

	// Per-call project and location reroute the vertex path without
	// disturbing stored credentials.
	grant, err = coord.Coordinate(ctx, genai.StrategyVertexAI, &Overrides{
		AccessToken: "caller-token", ProjectID: "other-proj", Location: "europe-west4",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://europe-west4-aiplatform.googleapis.com/v1", grant.BaseURL)
	assert.Equal(t,
		"projects/other-proj/locations/europe-west4/publishers/google/models/m:countTokens",
		grant.BuildPath("m", "countTokens"))
}

func TestCoordinateVertexMissingProject(t *testing.T) {
	srv, _ := tokenEndpoint(t, 3600)
	cfg := vertexConfig(t, srv.URL)
	cfg.Vertex.ProjectID = ""
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	_, coordErr := coord.Coordinate(context.Background(), genai.StrategyVertexAI, nil)
	require.Error(t, coordErr)
	assert.True(t, apierr.IsKind(coordErr, apierr.KindConfig))
}

func TestCoordinateVertexNoCredentials(t *testing.T) {
	cfg := config.NewDefaults()
	cfg.Vertex.ProjectID = "proj-123"
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	_, coordErr := coord.Coordinate(context.Background(), genai.StrategyVertexAI, nil)
	require.Error(t, coordErr)
	assert.True(t, apierr.IsKind(coordErr, apierr.KindConfig))
}

func TestCoordinateUnknownStrategy(t *testing.T) {
	coord, err := New(config.NewDefaults())
	require.NoError(t, err)
	defer coord.Close()

	_, coordErr := coord.Coordinate(context.Background(), genai.Strategy("bedrock"), nil)
	require.Error(t, coordErr)
	assert.True(t, apierr.IsKind(coordErr, apierr.KindConfig))
}

func TestRefreshForcesNewExchange(t *testing.T) {
	srv, calls := tokenEndpoint(t, 3600)
	cfg := vertexConfig(t, srv.URL)
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	ctx := context.Background()
	_, err = coord.Coordinate(ctx, genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	grant, err := coord.Refresh(ctx, genai.StrategyVertexAI)
	require.NoError(t, err)
	assert.Contains(t, grant.Headers.Get("Authorization"), "Bearer ")
	assert.Equal(t, int64(2), calls.Load())

	// The refreshed entry is warm again.
	_, err = coord.Coordinate(ctx, genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCoordinateSuppliedAccessToken(t *testing.T) {
	cfg := config.NewDefaults()
	cfg.Vertex.AccessToken = "supplied-token"
	cfg.Vertex.ProjectID = "proj-123"
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	grant, err := coord.Coordinate(context.Background(), genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer supplied-token", grant.Headers.Get("Authorization"))
}

func TestValidate(t *testing.T) {
	cfg := config.NewDefaults()
	cfg.Gemini.APIKey = "key"
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	assert.NoError(t, coord.Validate(genai.StrategyGemini))
	assert.Error(t, coord.Validate(genai.StrategyVertexAI))

	require.NoError(t, coord.SetVertexCredentials(VertexCredentials{
		AccessToken: "tok", ProjectID: "proj-123",
	}))
	assert.NoError(t, coord.Validate(genai.StrategyVertexAI))
	assert.Error(t, coord.Validate(genai.Strategy("nope")))
}

func TestSetCredentialsInvalidatesCache(t *testing.T) {
	srv, calls := tokenEndpoint(t, 3600)
	cfg := vertexConfig(t, srv.URL)
	coord, err := New(cfg)
	require.NoError(t, err)
	defer coord.Close()

	ctx := context.Background()
	_, err = coord.Coordinate(ctx, genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	require.NoError(t, coord.SetVertexCredentials(VertexCredentials{
		AccessToken: "rotated", ProjectID: "proj-123",
	}))
	grant, err := coord.Coordinate(ctx, genai.StrategyVertexAI, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer rotated", grant.Headers.Get("Authorization"))

	require.Error(t, coord.SetGeminiCredentials(GeminiCredentials{}))
	require.NoError(t, coord.SetGeminiCredentials(GeminiCredentials{APIKey: "fresh"}))
	grant, err = coord.Coordinate(ctx, genai.StrategyGemini, nil)
	require.NoError(t, err)
	assert.Equal(t, "fresh", grant.Headers.Get("x-goog-api-key"))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", MaskKey("short"))
	assert.Equal(t, "AIzaSy...", MaskKey("AIzaSyExampleExample"))
}

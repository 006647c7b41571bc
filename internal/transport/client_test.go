package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/auth"
	"geminiclient-go/internal/config"
)

func geminiClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := config.NewDefaults()
	cfg.Gemini.APIKey = "test-key"
	cfg.Gemini.BaseURL = srv.URL
	coord, err := auth.New(cfg)
	require.NoError(t, err)
	t.Cleanup(coord.Close)
	return New(coord, WithHTTPClient(srv.Client()))
}

func generateRequest() *Request {
	return &Request{
		Strategy: genai.StrategyGemini,
		Method:   http.MethodPost,
		PathFunc: func(g auth.Grant) string {
			return g.BuildPath("gemini-2.0-flash-lite", "generateContent")
		},
		Body: []byte(`{"contents":[]}`),
		Op:   "generate",
	}
}

func TestDoJSONSuccess(t *testing.T) {
	var gotPath, gotKey, gotAccept, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		gotAccept = r.Header.Get("Accept")
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	body, err := geminiClient(t, srv).DoJSON(context.Background(), generateRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"candidates":[]}`, string(body))
	assert.Equal(t, "/models/gemini-2.0-flash-lite:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "application/json", gotContentType)
}

func TestDoJSONRefreshesOnceOn401(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"expired"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := geminiClient(t, srv).DoJSON(context.Background(), generateRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int64(2), calls.Load())
}

func TestDoJSONSecond401IsAuthError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"revoked"}}`))
	}))
	defer srv.Close()

	_, err := geminiClient(t, srv).DoJSON(context.Background(), generateRequest())
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindAuth))
	assert.False(t, apierr.IsRetryable(err))
	assert.Equal(t, int64(2), calls.Load(), "exactly one refresh-and-retry")
}

func TestDoJSONStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		wantKind   apierr.Kind
		retryable  bool
	}{
		{"rate limited", 429, "7", `{"error":{"message":"quota"}}`, apierr.KindRateLimit, true},
		{"server error", 503, "", `{}`, apierr.KindServer, true},
		{"not found", 404, "", `{"error":{"message":"no such model"}}`, apierr.KindClient, false},
		{"bad request", 400, "", `{"error":{"message":"bad content"}}`, apierr.KindClient, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := geminiClient(t, srv).DoJSON(context.Background(), generateRequest())
			require.Error(t, err)
			assert.True(t, apierr.IsKind(err, tt.wantKind))
			assert.Equal(t, tt.retryable, apierr.IsRetryable(err))

			apiErr, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
			if tt.retryAfter != "" {
				d, ok := apiErr.RetryAfter()
				require.True(t, ok)
				assert.Equal(t, 7*time.Second, d)
			}
		})
	}
}

func TestDoJSONNetworkErrorMapsKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := geminiClient(t, srv)
	srv.Close()

	_, err := client.DoJSON(context.Background(), generateRequest())
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindNetwork))
	assert.True(t, apierr.IsRetryable(err))
}

func TestOpenStreamHeadersAndBody(t *testing.T) {
	var gotAccept, gotCache string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotCache = r.Header.Get("Cache-Control")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	req := generateRequest()
	req.PathFunc = func(g auth.Grant) string {
		return g.BuildPath("gemini-2.0-flash-lite", "streamGenerateContent")
	}
	resp, err := geminiClient(t, srv).OpenStream(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, "no-cache", gotCache)

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "data: [DONE]\n\n", string(buf[:n]))
}

func TestOpenStreamMapsStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := geminiClient(t, srv).OpenStream(context.Background(), generateRequest())
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindRateLimit))

	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	d, ok := apiErr.RetryAfter()
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)
}

func TestRateLimiterBoundsRequestStarts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := config.NewDefaults()
	cfg.Gemini.APIKey = "test-key"
	cfg.Gemini.BaseURL = srv.URL
	coord, err := auth.New(cfg)
	require.NoError(t, err)
	defer coord.Close()
	client := New(coord, WithHTTPClient(srv.Client()), WithRateLimit(1, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = client.DoJSON(ctx, generateRequest())
	require.NoError(t, err, "burst allows the first call")

	_, err = client.DoJSON(ctx, generateRequest())
	require.Error(t, err, "second call cannot be admitted within the deadline")
	assert.True(t, apierr.IsKind(err, apierr.KindTimeout) || apierr.IsKind(err, apierr.KindCancelled))
}

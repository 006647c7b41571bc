package geminiclient

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geminiclient-go/apierr"
)

func modelListHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("pageSize"))

		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = w.Write([]byte(`{
				"models": [
					{"name": "models/gemini-2.0-flash-lite", "displayName": "Flash Lite"},
					{"name": "models/gemini-2.5-pro", "displayName": "Pro"}
				],
				"nextPageToken": "tok-2"
			}`))
		case "tok-2":
			_, _ = w.Write([]byte(`{
				"models": [{"name": "models/gemini-2.5-flash", "inputTokenLimit": 1048576}]
			}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
}

func TestListModelsPage(t *testing.T) {
	client, _ := newTestClient(t, modelListHandler(t))

	list, err := client.ListModels(context.Background(), &ListOptions{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, list.Models, 2)
	assert.Equal(t, "models/gemini-2.0-flash-lite", list.Models[0].Name)
	assert.Equal(t, "Flash Lite", list.Models[0].DisplayName, "camelCase keys normalized")
	assert.Equal(t, "tok-2", list.NextPageToken)
}

func TestAllModelsWalksPages(t *testing.T) {
	client, _ := newTestClient(t, modelListHandler(t))

	all, err := client.AllModels(context.Background(), &ListOptions{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "models/gemini-2.5-flash", all[2].Name)
	assert.Equal(t, 1048576, all[2].InputTokenLimit)
}

func TestListModelsVertexPath(t *testing.T) {
	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"models": []}`))
	})
	client, _ := newTestClient(t, handler)

	_, err := client.ListModels(context.Background(), &ListOptions{Auth: StrategyVertexAI})
	require.NoError(t, err)
	assert.Equal(t, "/projects/proj-1/locations/us-central1/publishers/google/models", gotPath)
}

func TestGetModel(t *testing.T) {
	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{
			"name": "models/gemini-2.0-flash-lite",
			"displayName": "Flash Lite",
			"inputTokenLimit": 1048576,
			"outputTokenLimit": 8192,
			"supportedGenerationMethods": ["generateContent", "countTokens"]
		}`))
	})
	client, _ := newTestClient(t, handler)

	model, err := client.GetModel(context.Background(), "models/gemini-2.0-flash-lite")
	require.NoError(t, err)
	assert.Equal(t, "/models/gemini-2.0-flash-lite", gotPath, "resource prefix stripped from the path")
	assert.Equal(t, "Flash Lite", model.DisplayName)
	assert.Equal(t, 1048576, model.InputTokenLimit)
	assert.Equal(t, []string{"generateContent", "countTokens"}, model.SupportedGenerationMethods)

	_, err = client.GetModel(context.Background(), "gemini-2.0-flash-lite")
	require.NoError(t, err)
	assert.Equal(t, "/models/gemini-2.0-flash-lite", gotPath, "short names resolve identically")

	_, err = client.GetModel(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindClient))
}

func TestModelExists(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		want     bool
		wantKind apierr.Kind
	}{
		{"known model", http.StatusOK, `{"name": "models/gemini-2.0-flash-lite"}`, true, ""},
		{"unknown model", http.StatusNotFound, `{"error":{"message":"not found"}}`, false, ""},
		{"upstream failure", http.StatusInternalServerError, `{"error":{"message":"boom"}}`, false, apierr.KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			ok, err := client.ModelExists(context.Background(), "gemini-2.0-flash-lite")
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.True(t, apierr.IsKind(err, tt.wantKind))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

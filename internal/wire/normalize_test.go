package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnakeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"totalTokenCount", "total_token_count"},
		{"usageMetadata", "usage_metadata"},
		{"displayName", "display_name"},
		{"finishReason", "finish_reason"},
		{"maxOutputTokens", "max_output_tokens"},
		{"topP", "top_p"},
		{"topK", "top_k"},
		{"mimeType", "mime_type"},
		{"URLPath", "url_path"},
		{"already_snake_case", "already_snake_case"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, SnakeKey(tt.in), "key %q", tt.in)
	}
}

func TestSnakeKeyIdempotent(t *testing.T) {
	keys := []string{"totalTokenCount", "usage_metadata", "topP", "candidates"}
	for _, k := range keys {
		once := SnakeKey(k)
		require.Equal(t, once, SnakeKey(once), "key %q", k)
	}
}

func TestNormalizeKeysRecurses(t *testing.T) {
	raw := []byte(`{
		"candidates": [
			{"content": {"parts": [{"text": "hi"}], "role": "model"}, "finishReason": "STOP"}
		],
		"usageMetadata": {"promptTokenCount": 1, "candidatesTokenCount": 1, "totalTokenCount": 2}
	}`)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	got := NormalizeKeys(decoded).(map[string]interface{})

	usage, ok := got["usage_metadata"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 2, usage["total_token_count"])

	candidates, ok := got["candidates"].([]interface{})
	require.True(t, ok)
	first := candidates[0].(map[string]interface{})
	require.Equal(t, "STOP", first["finish_reason"])
	content := first["content"].(map[string]interface{})
	require.Equal(t, "model", content["role"])
}

func TestNormalizeJSONNoOpOnSnakeInput(t *testing.T) {
	raw := []byte(`{"usage_metadata":{"total_token_count":2},"values":[1,2,3]}`)
	got, err := NormalizeJSON(raw)
	require.NoError(t, err)

	var a, b interface{}
	require.NoError(t, json.Unmarshal(raw, &a))
	require.NoError(t, json.Unmarshal(got, &b))
	require.Equal(t, a, b)
}

package genai

// GenerationConfig mirrors the upstream generationConfig block. Pointer
// fields distinguish "unset" from zero values so per-call merges stay
// field-by-field.
type GenerationConfig struct {
	Temperature      *float64               `json:"temperature,omitempty"`
	TopP             *float64               `json:"top_p,omitempty"`
	TopK             *int                   `json:"top_k,omitempty"`
	MaxOutputTokens  *int                   `json:"max_output_tokens,omitempty"`
	StopSequences    []string               `json:"stop_sequences,omitempty"`
	CandidateCount   *int                   `json:"candidate_count,omitempty"`
	ResponseMIMEType string                 `json:"response_mime_type,omitempty"`
	ResponseSchema   map[string]interface{} `json:"response_schema,omitempty"`
}

// SafetySetting adjusts one harm-category threshold.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// Tool is passed through to the upstream unmodified (function declarations,
// code execution, search grounding).
type Tool map[string]interface{}

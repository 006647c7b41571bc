package genai

// Model describes one upstream model, keys normalized to snake_case.
type Model struct {
	Name                       string   `json:"name"`
	BaseModelID                string   `json:"base_model_id,omitempty"`
	Version                    string   `json:"version,omitempty"`
	DisplayName                string   `json:"display_name,omitempty"`
	Description                string   `json:"description,omitempty"`
	InputTokenLimit            int      `json:"input_token_limit,omitempty"`
	OutputTokenLimit           int      `json:"output_token_limit,omitempty"`
	SupportedGenerationMethods []string `json:"supported_generation_methods,omitempty"`
	Temperature                *float64 `json:"temperature,omitempty"`
	TopP                       *float64 `json:"top_p,omitempty"`
	TopK                       *int     `json:"top_k,omitempty"`
}

// ModelList is one page of a model listing.
type ModelList struct {
	Models        []Model `json:"models"`
	NextPageToken string  `json:"next_page_token,omitempty"`
}

package genai

import "strings"

// GenerateResponse is a normalized generateContent response.
type GenerateResponse struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usage_metadata,omitempty"`
	ModelVersion  string         `json:"model_version,omitempty"`
}

// Candidate is one generated completion.
type Candidate struct {
	Content       Content        `json:"content"`
	FinishReason  string         `json:"finish_reason,omitempty"`
	Index         int            `json:"index,omitempty"`
	SafetyRatings []SafetyRating `json:"safety_ratings,omitempty"`
}

// SafetyRating reports one harm-category assessment.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
	Blocked     bool   `json:"blocked,omitempty"`
}

// UsageMetadata carries upstream token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"prompt_token_count"`
	CandidatesTokenCount int `json:"candidates_token_count"`
	TotalTokenCount      int `json:"total_token_count"`
}

// Text concatenates the text parts of the first candidate.
func (r *GenerateResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// FinishReason returns the first candidate's finish reason, if any.
func (r *GenerateResponse) FinishReason() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

// TokenCount is a normalized countTokens response.
type TokenCount struct {
	TotalTokens int `json:"total_tokens"`
}

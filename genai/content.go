// Package genai holds the public request/response vocabulary shared by the
// client facade and the internal engines: contents and parts, generation
// options, model descriptions, and stream events. JSON tags are snake_case;
// upstream camelCase payloads are normalized before they reach these types.
package genai

import "fmt"

// Strategy selects the authentication regime for a request.
type Strategy string

const (
	StrategyGemini   Strategy = "gemini"
	StrategyVertexAI Strategy = "vertex_ai"
)

func (s Strategy) String() string { return string(s) }

// ParseStrategy validates a strategy name from config or options.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyGemini, StrategyVertexAI:
		return Strategy(s), nil
	case "":
		return "", fmt.Errorf("empty auth strategy")
	default:
		return "", fmt.Errorf("unknown auth strategy %q", s)
	}
}

// Roles carried in chat/content history.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Content is one role-tagged message.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a single content fragment: text or inline binary data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inline_data,omitempty"`
}

// Blob is base64-encoded inline media.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"base64_data"`
}

// Text builds a text part.
func Text(s string) Part { return Part{Text: s} }

// InlineData builds an inline-media part from already-encoded data.
func InlineData(mimeType, base64Data string) Part {
	return Part{InlineData: &Blob{MIMEType: mimeType, Data: base64Data}}
}

// UserContent wraps parts as a single user message.
func UserContent(parts ...Part) Content {
	return Content{Role: RoleUser, Parts: parts}
}

// ModelContent wraps parts as a single model message.
func ModelContent(parts ...Part) Content {
	return Content{Role: RoleModel, Parts: parts}
}

// ToContents expands the accepted input shapes into role-tagged contents:
// a plain string (one user text part), a part list (one user message), a
// single Content, or a prebuilt Content list.
func ToContents(input interface{}) ([]Content, error) {
	switch v := input.(type) {
	case string:
		return []Content{UserContent(Text(v))}, nil
	case Part:
		return []Content{UserContent(v)}, nil
	case []Part:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty part list")
		}
		return []Content{UserContent(v...)}, nil
	case Content:
		if err := validateContent(v); err != nil {
			return nil, err
		}
		return []Content{v}, nil
	case []Content:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty content list")
		}
		for i, c := range v {
			if err := validateContent(c); err != nil {
				return nil, fmt.Errorf("contents[%d]: %w", i, err)
			}
		}
		return v, nil
	case nil:
		return nil, fmt.Errorf("nil content")
	default:
		return nil, fmt.Errorf("unsupported content type %T", input)
	}
}

func validateContent(c Content) error {
	if c.Role != RoleUser && c.Role != RoleModel {
		return fmt.Errorf("invalid role %q", c.Role)
	}
	if len(c.Parts) == 0 {
		return fmt.Errorf("content has no parts")
	}
	return nil
}

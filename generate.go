package geminiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/auth"
	"geminiclient-go/internal/constants"
	"geminiclient-go/internal/transport"
	"geminiclient-go/internal/wire"
)

// RequestOptions are per-call overrides. Zero/nil fields fall through
// to the client configuration; set fields win for this call only and
// never mutate shared state.
type RequestOptions struct {
	// Auth picks the strategy for this call; empty means the client
	// default. Unknown values are rejected with a config error.
	Auth  genai.Strategy
	Model string

	Generation        *genai.GenerationConfig
	SafetySettings    []genai.SafetySetting
	SystemInstruction string
	Tools             []genai.Tool

	// Timeout bounds this call; it covers the fallback attempt too.
	Timeout time.Duration
	// MaxRetries overrides the stream reconnect budget; unary calls are
	// never retried automatically.
	MaxRetries *int
	// FallbackAuth retries this call once under the given strategy on a
	// rate-limit or quota rejection.
	FallbackAuth genai.Strategy

	// Per-call credential overrides. They bypass the credential cache
	// for this call only.
	APIKey      string
	AccessToken string
	ProjectID   string
	Location    string
}

// effective is the merge of client configuration and one call's
// options.
type effective struct {
	strategy   genai.Strategy
	model      string
	generation genai.GenerationConfig
	safety     []genai.SafetySetting
	system     string
	tools      []genai.Tool
	timeout    time.Duration
	maxRetries *int
	fallback   genai.Strategy
	overrides  *auth.Overrides
}

func (c *Client) resolve(opts *RequestOptions) (*effective, error) {
	eff := &effective{
		strategy:   c.cfg.DefaultAuth,
		model:      c.cfg.Model,
		generation: c.cfg.Generation,
		safety:     c.cfg.SafetySettings,
		system:     c.cfg.SystemInstruction,
		tools:      c.cfg.Tools,
		timeout:    c.cfg.Timeout,
		fallback:   c.fallback,
	}
	if opts == nil {
		return eff, nil
	}

	if opts.Auth != "" {
		strategy, err := genai.ParseStrategy(string(opts.Auth))
		if err != nil {
			return nil, apierr.Wrap(apierr.KindConfig, "auth option", err)
		}
		eff.strategy = strategy
	}
	if opts.FallbackAuth != "" {
		strategy, err := genai.ParseStrategy(string(opts.FallbackAuth))
		if err != nil {
			return nil, apierr.Wrap(apierr.KindConfig, "fallback_auth option", err)
		}
		eff.fallback = strategy
	}
	if opts.Model != "" {
		eff.model = opts.Model
	}
	eff.generation = mergeGeneration(eff.generation, opts.Generation)
	if opts.SafetySettings != nil {
		eff.safety = opts.SafetySettings
	}
	if opts.SystemInstruction != "" {
		eff.system = opts.SystemInstruction
	}
	if opts.Tools != nil {
		eff.tools = opts.Tools
	}
	if opts.Timeout > 0 {
		eff.timeout = opts.Timeout
	}
	eff.maxRetries = opts.MaxRetries
	if opts.APIKey != "" || opts.AccessToken != "" || opts.ProjectID != "" || opts.Location != "" {
		eff.overrides = &auth.Overrides{
			APIKey:      opts.APIKey,
			AccessToken: opts.AccessToken,
			ProjectID:   opts.ProjectID,
			Location:    opts.Location,
		}
	}
	return eff, nil
}

// mergeGeneration overlays set fields of over onto base, field by
// field. Pointer fields distinguish "unset" from zero.
func mergeGeneration(base genai.GenerationConfig, over *genai.GenerationConfig) genai.GenerationConfig {
	if over == nil {
		return base
	}
	out := base
	if over.Temperature != nil {
		out.Temperature = over.Temperature
	}
	if over.TopP != nil {
		out.TopP = over.TopP
	}
	if over.TopK != nil {
		out.TopK = over.TopK
	}
	if over.MaxOutputTokens != nil {
		out.MaxOutputTokens = over.MaxOutputTokens
	}
	if over.StopSequences != nil {
		out.StopSequences = over.StopSequences
	}
	if over.CandidateCount != nil {
		out.CandidateCount = over.CandidateCount
	}
	if over.ResponseMIMEType != "" {
		out.ResponseMIMEType = over.ResponseMIMEType
	}
	if over.ResponseSchema != nil {
		out.ResponseSchema = over.ResponseSchema
	}
	return out
}

func zeroGeneration(g genai.GenerationConfig) bool {
	return g.Temperature == nil && g.TopP == nil && g.TopK == nil &&
		g.MaxOutputTokens == nil && g.StopSequences == nil && g.CandidateCount == nil &&
		g.ResponseMIMEType == "" && g.ResponseSchema == nil
}

// buildBody assembles a generate-content request body. Keys are
// snake_case throughout; the upstream's proto-JSON parser accepts
// either casing, and one convention keeps bodies greppable against the
// normalized responses.
func buildBody(contents []genai.Content, eff *effective) ([]byte, error) {
	body, err := json.Marshal(map[string]interface{}{"contents": contents})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindClient, "encoding contents", err)
	}
	if !zeroGeneration(eff.generation) {
		if body, err = sjson.SetBytes(body, "generation_config", eff.generation); err != nil {
			return nil, apierr.Wrap(apierr.KindClient, "encoding generation_config", err)
		}
	}
	if eff.system != "" {
		instruction := map[string]interface{}{"parts": []map[string]string{{"text": eff.system}}}
		if body, err = sjson.SetBytes(body, "system_instruction", instruction); err != nil {
			return nil, apierr.Wrap(apierr.KindClient, "encoding system_instruction", err)
		}
	}
	if len(eff.safety) > 0 {
		if body, err = sjson.SetBytes(body, "safety_settings", eff.safety); err != nil {
			return nil, apierr.Wrap(apierr.KindClient, "encoding safety_settings", err)
		}
	}
	if len(eff.tools) > 0 {
		if body, err = sjson.SetBytes(body, "tools", eff.tools); err != nil {
			return nil, apierr.Wrap(apierr.KindClient, "encoding tools", err)
		}
	}
	return body, nil
}

// unary runs one call under the effective deadline, rerouting once to
// the fallback strategy on a rate-limit or quota rejection. The
// deadline spans both attempts; when both fail, the fallback's error
// surfaces.
func (c *Client) unary(ctx context.Context, eff *effective, req *transport.Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, eff.timeout)
	defer cancel()

	body, err := c.transport.DoJSON(ctx, req)
	if err == nil {
		return body, nil
	}
	if eff.fallback == "" || eff.fallback == eff.strategy || !fallbackTrigger(err) {
		return nil, err
	}

	log.WithFields(log.Fields{
		"op":   req.Op,
		"from": eff.strategy,
		"to":   eff.fallback,
	}).Warn("Rerouting to fallback auth strategy")

	rerouted := *req
	rerouted.Strategy = eff.fallback
	return c.transport.DoJSON(ctx, &rerouted)
}

// fallbackTrigger matches the two rejections fallback routing reroutes
// on: rate limiting, and the quota-exceeded flavor of 403.
func fallbackTrigger(err error) bool {
	apiErr, ok := apierr.As(err)
	if !ok {
		return false
	}
	if apiErr.Kind == apierr.KindRateLimit {
		return true
	}
	return apiErr.HTTPStatus == http.StatusForbidden &&
		strings.Contains(strings.ToLower(apiErr.Message), "quota")
}

// Generate runs one non-streaming generation. content may be a string,
// a genai.Part, a part slice, a genai.Content, or a content slice; the
// response arrives with keys normalized to snake_case.
func (c *Client) Generate(ctx context.Context, content interface{}, opts *RequestOptions) (*genai.GenerateResponse, error) {
	eff, err := c.resolve(opts)
	if err != nil {
		return nil, err
	}
	contents, err := genai.ToContents(content)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindClient, "invalid content", err)
	}
	body, err := buildBody(contents, eff)
	if err != nil {
		return nil, err
	}

	raw, err := c.unary(ctx, eff, &transport.Request{
		Strategy:  eff.strategy,
		Overrides: eff.overrides,
		Method:    http.MethodPost,
		PathFunc: func(g auth.Grant) string {
			return g.BuildPath(eff.model, constants.EndpointGenerateContent)
		},
		Body: body,
		Op:   "generate",
	})
	if err != nil {
		return nil, err
	}
	return decodeGenerate(raw)
}

func decodeGenerate(raw []byte) (*genai.GenerateResponse, error) {
	normalized, err := wire.NormalizeJSON(raw)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "decoding generate response", err)
	}
	var resp genai.GenerateResponse
	if err := json.Unmarshal(normalized, &resp); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "decoding generate response", err)
	}
	return &resp, nil
}

// CountTokens returns the model's token count for the given content.
// With no generation-affecting options the body is the bare contents
// list; otherwise the full request is wrapped so the count reflects
// system instruction and tools too.
func (c *Client) CountTokens(ctx context.Context, content interface{}, opts *RequestOptions) (int, error) {
	eff, err := c.resolve(opts)
	if err != nil {
		return 0, err
	}
	contents, err := genai.ToContents(content)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindClient, "invalid content", err)
	}
	body, err := countBody(contents, eff)
	if err != nil {
		return 0, err
	}

	raw, err := c.unary(ctx, eff, &transport.Request{
		Strategy:  eff.strategy,
		Overrides: eff.overrides,
		Method:    http.MethodPost,
		PathFunc: func(g auth.Grant) string {
			return g.BuildPath(eff.model, constants.EndpointCountTokens)
		},
		Body: body,
		Op:   "count_tokens",
	})
	if err != nil {
		return 0, err
	}

	normalized, err := wire.NormalizeJSON(raw)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindParse, "decoding count response", err)
	}
	total := gjson.GetBytes(normalized, "total_tokens")
	if !total.Exists() {
		return 0, apierr.New(apierr.KindParse, "count response missing total_tokens")
	}
	return int(total.Int()), nil
}

func countBody(contents []genai.Content, eff *effective) ([]byte, error) {
	inner, err := buildBody(contents, eff)
	if err != nil {
		return nil, err
	}
	bare := zeroGeneration(eff.generation) && eff.system == "" &&
		len(eff.safety) == 0 && len(eff.tools) == 0
	if bare {
		return inner, nil
	}

	// The wrapped form requires the model inside the embedded request.
	inner, err = sjson.SetBytes(inner, "model", "models/"+eff.model)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindClient, "encoding count body", err)
	}
	body, err := sjson.SetRawBytes([]byte(`{}`), "generate_content_request", inner)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindClient, "encoding count body", err)
	}
	return body, nil
}

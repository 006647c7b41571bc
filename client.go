// Package geminiclient is a client library for Google's generative
// language APIs. One Client speaks both authentication regimes at the
// same time: the Gemini API with an API key and VertexAI with OAuth2
// tokens minted from a service account. Every call picks its strategy
// per request, so mixed workloads share one client, one connection
// pool, and one credential cache.
//
// Configuration is layered: per-call options override programmatic
// options, which override environment variables, which override
// built-in defaults. Streaming generation runs on a session engine
// with subscriber fan-out; see StreamGenerate and Subscribe.
package geminiclient

import (
	"context"
	"net/http"
	"time"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/auth"
	"geminiclient-go/internal/config"
	"geminiclient-go/internal/logging"
	"geminiclient-go/internal/stream"
	"geminiclient-go/internal/telemetry"
	"geminiclient-go/internal/transport"
)

// Strategy names, re-exported so embedders only need this package.
const (
	StrategyGemini   = genai.StrategyGemini
	StrategyVertexAI = genai.StrategyVertexAI
)

// Lifecycle event topics for OnEvent.
const (
	TopicAuthRefreshed      = telemetry.TopicAuthRefreshed
	TopicCredentialsChanged = telemetry.TopicCredentialsChanged
	TopicRequestStart       = telemetry.TopicRequestStart
	TopicRequestStop        = telemetry.TopicRequestStop
	TopicRequestError       = telemetry.TopicRequestError
	TopicRequestRetry       = telemetry.TopicRequestRetry
	TopicStreamStart        = telemetry.TopicStreamStart
	TopicStreamCompleted    = telemetry.TopicStreamCompleted
	TopicStreamErrored      = telemetry.TopicStreamErrored
	TopicStreamStopped      = telemetry.TopicStreamStopped
)

// Event is a library lifecycle notification delivered to OnEvent
// handlers.
type Event struct {
	Topic     string            `json:"topic"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   interface{}       `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type options struct {
	configFile   string
	envFile      string
	httpClient   *http.Client
	fallback     genai.Strategy
	setupLogging bool
	mutators     []func(*config.Config)
}

// Option configures a Client during New.
type Option func(*options)

// WithConfigFile layers a YAML application config over the environment.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configFile = path }
}

// WithEnvFile loads a dotenv file into the process environment before
// the environment layer is read. A missing file is not an error.
func WithEnvFile(path string) Option {
	return func(o *options) { o.envFile = path }
}

// WithHTTPClient replaces the HTTP client used for API calls and token
// exchanges, mainly for tests and custom proxying.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithAPIKey sets the Gemini API key programmatically.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.mutators = append(o.mutators, func(cfg *config.Config) { cfg.Gemini.APIKey = key })
	}
}

// WithVertexCredentials sets the VertexAI credential set programmatically.
func WithVertexCredentials(creds VertexCredentials) Option {
	return func(o *options) {
		o.mutators = append(o.mutators, func(cfg *config.Config) {
			cfg.Vertex.AccessToken = creds.AccessToken
			cfg.Vertex.ServiceAccountPath = creds.ServiceAccountPath
			cfg.Vertex.ServiceAccountJSON = creds.ServiceAccountJSON
			cfg.Vertex.ProjectID = creds.ProjectID
			if creds.Location != "" {
				cfg.Vertex.Location = creds.Location
			}
			if creds.TokenURL != "" {
				cfg.Vertex.TokenURL = creds.TokenURL
			}
		})
	}
}

// WithDefaultAuth fixes the default strategy instead of electing it
// from whichever credentials are complete.
func WithDefaultAuth(strategy genai.Strategy) Option {
	return func(o *options) {
		o.mutators = append(o.mutators, func(cfg *config.Config) { cfg.DefaultAuth = strategy })
	}
}

// WithModel sets the default model for calls that don't name one.
func WithModel(model string) Option {
	return func(o *options) {
		o.mutators = append(o.mutators, func(cfg *config.Config) { cfg.Model = model })
	}
}

// WithTimeout sets the default unary deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.mutators = append(o.mutators, func(cfg *config.Config) { cfg.Timeout = d })
	}
}

// WithFallbackAuth enables fallback routing: when a call fails with a
// rate-limit or quota rejection, it is retried once under the given
// strategy. Off unless set here or per call.
func WithFallbackAuth(strategy genai.Strategy) Option {
	return func(o *options) { o.fallback = strategy }
}

// WithBaseURL overrides one strategy's API endpoint, for proxies and
// tests. Empty restores the built-in endpoint.
func WithBaseURL(strategy genai.Strategy, baseURL string) Option {
	return func(o *options) {
		o.mutators = append(o.mutators, func(cfg *config.Config) {
			if strategy == genai.StrategyVertexAI {
				cfg.Vertex.BaseURL = baseURL
				return
			}
			cfg.Gemini.BaseURL = baseURL
		})
	}
}

// WithLogging applies the resolved logging configuration to the global
// logger during New. Off by default so an embedding application keeps
// control of its own log setup.
func WithLogging() Option {
	return func(o *options) { o.setupLogging = true }
}

// Client is the façade over the auth coordinator, the shared HTTP
// transport, and the streaming engine. All methods are safe for
// concurrent use.
type Client struct {
	cfg       *config.Config
	hub       *telemetry.Hub
	auth      *auth.Coordinator
	transport *transport.Client
	engine    *stream.Engine
	fallback  genai.Strategy
}

// New resolves configuration and assembles a ready client. Credentials
// are validated lazily on first use; a client built without any
// credentials fails on the first call, not here.
func New(opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.envFile != "" {
		if err := config.LoadEnvFile(o.envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Resolve(o.configFile)
	if err != nil {
		return nil, err
	}
	for _, mutate := range o.mutators {
		mutate(cfg)
	}
	if err := config.Finalize(cfg); err != nil {
		return nil, err
	}

	if o.fallback != "" {
		if _, err := genai.ParseStrategy(string(o.fallback)); err != nil {
			return nil, apierr.Wrap(apierr.KindConfig, "fallback auth", err)
		}
	}
	if o.setupLogging {
		if err := logging.Setup(cfg.Logging); err != nil {
			return nil, apierr.Wrap(apierr.KindConfig, "logging setup", err)
		}
	}

	hub := telemetry.NewHub()

	authOpts := []auth.Option{auth.WithHub(hub)}
	if o.httpClient != nil {
		authOpts = append(authOpts, auth.WithHTTPClient(o.httpClient))
	}
	coord, err := auth.New(cfg, authOpts...)
	if err != nil {
		return nil, err
	}

	transportOpts := []transport.Option{transport.WithHub(hub)}
	if o.httpClient != nil {
		transportOpts = append(transportOpts, transport.WithHTTPClient(o.httpClient))
	}
	if cfg.RatePerSecond > 0 {
		transportOpts = append(transportOpts, transport.WithRateLimit(cfg.RatePerSecond, cfg.RateBurst))
	}
	tc := transport.New(coord, transportOpts...)

	engine := stream.New(tc,
		stream.WithHub(hub),
		stream.WithMaxSessions(cfg.MaxSessions),
		stream.WithMailboxSize(cfg.SubscriberMailbox),
		stream.WithIdleTimeout(cfg.StreamIdleTimeout),
		stream.WithMaxRetries(cfg.MaxRetries),
	)

	return &Client{
		cfg:       cfg,
		hub:       hub,
		auth:      coord,
		transport: tc,
		engine:    engine,
		fallback:  o.fallback,
	}, nil
}

// Close stops every stream session and releases background goroutines.
// Subscribers of live sessions receive a stopped event before their
// channels close.
func (c *Client) Close() {
	c.engine.Close()
	c.auth.Close()
}

// DefaultModel returns the model used when a call does not name one.
func (c *Client) DefaultModel() string { return c.cfg.Model }

// DefaultAuth returns the strategy used when a call does not name one.
func (c *Client) DefaultAuth() genai.Strategy { return c.cfg.DefaultAuth }

// Credentials is a credential set accepted by Configure: either
// GeminiCredentials or VertexCredentials.
type Credentials interface {
	strategy() genai.Strategy
}

// GeminiCredentials carries the API key for the Gemini strategy.
type GeminiCredentials struct {
	APIKey string
}

func (GeminiCredentials) strategy() genai.Strategy { return genai.StrategyGemini }

// VertexCredentials carries the OAuth credential set for the VertexAI
// strategy: either a ready access token or a service account (path or
// raw JSON) to exchange, plus routing fields.
type VertexCredentials struct {
	AccessToken        string
	ServiceAccountPath string
	ServiceAccountJSON string
	ProjectID          string
	Location           string
	TokenURL           string
}

func (VertexCredentials) strategy() genai.Strategy { return genai.StrategyVertexAI }

// Configure replaces the stored credentials for one strategy at
// runtime. The strategy's cached grant is invalidated, so the next call
// under it authenticates fresh; in-flight calls finish on the old
// grant. The other strategy is untouched.
func (c *Client) Configure(strategy genai.Strategy, creds Credentials) error {
	if creds == nil {
		return apierr.New(apierr.KindConfig, "nil credentials")
	}
	if creds.strategy() != strategy {
		return apierr.Newf(apierr.KindConfig, "credentials are for strategy %s, not %s", creds.strategy(), strategy)
	}
	switch v := creds.(type) {
	case GeminiCredentials:
		return c.auth.SetGeminiCredentials(auth.GeminiCredentials(v))
	case VertexCredentials:
		return c.auth.SetVertexCredentials(auth.VertexCredentials(v))
	default:
		return apierr.Newf(apierr.KindConfig, "unsupported credentials type %T", creds)
	}
}

// OnEvent subscribes a handler to one lifecycle topic (see the Topic
// constants) and returns a function that unsubscribes it. Handlers run
// synchronously on the emitting goroutine and must not block.
func (c *Client) OnEvent(topic string, handler func(Event)) func() {
	return c.hub.Subscribe(topic, func(_ context.Context, ev telemetry.Event) {
		handler(Event{
			Topic:     ev.Topic,
			Timestamp: ev.Timestamp,
			Payload:   ev.Payload,
			Metadata:  ev.Metadata,
		})
	})
}

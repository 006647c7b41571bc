package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/config"
	"geminiclient-go/internal/constants"
	"geminiclient-go/internal/telemetry"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient sets the client used for token exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.http = client }
}

// WithNowFunc overrides the time source, for TTL tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithHub attaches the telemetry hub.
func WithHub(hub *telemetry.Hub) Option {
	return func(c *Coordinator) { c.hub = hub }
}

// cacheEntry is one warm credential. An entry is usable while now is
// before expiresAt.
type cacheEntry struct {
	apiKey    string
	token     *oauth2.Token
	expiresAt time.Time
}

// Coordinator owns the credential cache. Cache access is serialized per
// strategy with a short-held mutex; network authentication runs outside
// the locks, deduplicated so N concurrent cache misses issue exactly one
// exchange.
type Coordinator struct {
	http *http.Client
	now  func() time.Time
	hub  *telemetry.Hub

	geminiBaseURL string
	vertexBaseURL string

	geminiMu    sync.Mutex
	geminiCreds GeminiCredentials
	geminiEntry *cacheEntry

	vertexMu    sync.Mutex
	vertexCreds VertexCredentials
	vertexEntry *cacheEntry

	group   singleflight.Group
	watcher *saWatcher
}

// New builds a Coordinator from resolved configuration. When the vertex
// service-account file is watched, an on-disk key rotation invalidates the
// cached token so the next call re-exchanges.
func New(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		http:          &http.Client{Timeout: constants.DefaultTokenExchangeTimeout},
		now:           time.Now,
		geminiBaseURL: cfg.Gemini.BaseURL,
		vertexBaseURL: cfg.Vertex.BaseURL,
		geminiCreds:   GeminiCredentials{APIKey: cfg.Gemini.APIKey},
		vertexCreds: VertexCredentials{
			AccessToken:        cfg.Vertex.AccessToken,
			ServiceAccountPath: cfg.Vertex.ServiceAccountPath,
			ServiceAccountJSON: cfg.Vertex.ServiceAccountJSON,
			ProjectID:          cfg.Vertex.ProjectID,
			Location:           cfg.Vertex.Location,
			TokenURL:           cfg.Vertex.TokenURL,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.Vertex.WatchServiceAccount && c.vertexCreds.ServiceAccountPath != "" {
		watcher, err := newSAWatcher(c.vertexCreds.ServiceAccountPath, func() {
			c.Invalidate(genai.StrategyVertexAI)
			c.hub.Publish(context.Background(), telemetry.TopicCredentialsChanged,
				c.vertexCreds.ServiceAccountPath, map[string]string{"strategy": genai.StrategyVertexAI.String()})
			log.WithField("path", c.vertexCreds.ServiceAccountPath).
				Info("service account file changed, vertex credentials invalidated")
		})
		if err != nil {
			log.WithError(err).Warn("service account watcher unavailable")
		} else {
			c.watcher = watcher
		}
	}
	return c, nil
}

// Close releases the file watcher, if any.
func (c *Coordinator) Close() {
	if c.watcher != nil {
		c.watcher.close()
	}
}

// Coordinate resolves effective credentials for the strategy, using the
// cache when warm, and returns the grant for one request. Per-request
// overrides replace fields for this call only and never invalidate the
// cache.
func (c *Coordinator) Coordinate(ctx context.Context, strategy genai.Strategy, ov *Overrides) (Grant, error) {
	if ov == nil {
		ov = &Overrides{}
	}
	switch strategy {
	case genai.StrategyGemini:
		return c.coordinateGemini(ctx, ov)
	case genai.StrategyVertexAI:
		return c.coordinateVertex(ctx, ov)
	default:
		return Grant{}, apierr.Newf(apierr.KindConfig, "unknown auth strategy %q", strategy)
	}
}

func (c *Coordinator) coordinateGemini(ctx context.Context, ov *Overrides) (Grant, error) {
	if ov.APIKey != "" {
		return c.geminiGrant(ov.APIKey), nil
	}

	c.geminiMu.Lock()
	key := c.geminiCreds.APIKey
	entry := c.geminiEntry
	c.geminiMu.Unlock()

	if key == "" {
		return Grant{}, apierr.New(apierr.KindConfig, "no credentials configured for gemini strategy")
	}
	if entry == nil || !c.now().Before(entry.expiresAt) {
		var err error
		entry, err = c.authOnce(ctx, genai.StrategyGemini)
		if err != nil {
			return Grant{}, err
		}
	}
	return c.geminiGrant(entry.apiKey), nil
}

func (c *Coordinator) coordinateVertex(ctx context.Context, ov *Overrides) (Grant, error) {
	c.vertexMu.Lock()
	creds := c.vertexCreds
	entry := c.vertexEntry
	c.vertexMu.Unlock()

	projectID := creds.ProjectID
	if ov.ProjectID != "" {
		projectID = ov.ProjectID
	}
	location := creds.Location
	if ov.Location != "" {
		location = ov.Location
	}
	if location == "" {
		location = constants.DefaultLocation
	}
	if projectID == "" {
		return Grant{}, apierr.New(apierr.KindConfig, "vertex_ai requires a project_id")
	}

	if ov.AccessToken != "" {
		return c.vertexGrant(ov.AccessToken, projectID, location), nil
	}
	if creds.AccessToken == "" && creds.ServiceAccountPath == "" && creds.ServiceAccountJSON == "" {
		return Grant{}, apierr.New(apierr.KindConfig, "no credentials configured for vertex_ai strategy")
	}

	if entry == nil || !c.now().Before(entry.expiresAt) {
		var err error
		entry, err = c.authOnce(ctx, genai.StrategyVertexAI)
		if err != nil {
			return Grant{}, err
		}
	}
	return c.vertexGrant(entry.token.AccessToken, projectID, location), nil
}

// Refresh forces re-authentication for the strategy and updates the
// cache. Concurrent refreshes of one strategy coalesce into a single
// exchange; the other strategy is never blocked.
func (c *Coordinator) Refresh(ctx context.Context, strategy genai.Strategy) (Grant, error) {
	if strategy != genai.StrategyGemini && strategy != genai.StrategyVertexAI {
		return Grant{}, apierr.Newf(apierr.KindConfig, "unknown auth strategy %q", strategy)
	}
	c.Invalidate(strategy)
	c.group.Forget(strategy.String())

	entry, err := c.authOnce(ctx, strategy)
	if err != nil {
		return Grant{}, err
	}
	log.WithField("strategy", strategy).Debug("credentials refreshed")

	if strategy == genai.StrategyGemini {
		return c.geminiGrant(entry.apiKey), nil
	}
	c.vertexMu.Lock()
	projectID := c.vertexCreds.ProjectID
	location := c.vertexCreds.Location
	c.vertexMu.Unlock()
	if location == "" {
		location = constants.DefaultLocation
	}
	return c.vertexGrant(entry.token.AccessToken, projectID, location), nil
}

// Validate checks that the minimal fields for the strategy are present.
// No network I/O.
func (c *Coordinator) Validate(strategy genai.Strategy) error {
	switch strategy {
	case genai.StrategyGemini:
		c.geminiMu.Lock()
		defer c.geminiMu.Unlock()
		if c.geminiCreds.APIKey == "" {
			return apierr.New(apierr.KindConfig, "no credentials configured for gemini strategy")
		}
		return nil
	case genai.StrategyVertexAI:
		c.vertexMu.Lock()
		creds := c.vertexCreds
		c.vertexMu.Unlock()
		if creds.ProjectID == "" {
			return apierr.New(apierr.KindConfig, "vertex_ai requires a project_id")
		}
		if creds.AccessToken == "" && creds.ServiceAccountPath == "" && creds.ServiceAccountJSON == "" {
			return apierr.New(apierr.KindConfig, "no credentials configured for vertex_ai strategy")
		}
		return nil
	default:
		return apierr.Newf(apierr.KindConfig, "unknown auth strategy %q", strategy)
	}
}

// Invalidate drops the cached entry for the strategy.
func (c *Coordinator) Invalidate(strategy genai.Strategy) {
	switch strategy {
	case genai.StrategyGemini:
		c.geminiMu.Lock()
		c.geminiEntry = nil
		c.geminiMu.Unlock()
	case genai.StrategyVertexAI:
		c.vertexMu.Lock()
		c.vertexEntry = nil
		c.vertexMu.Unlock()
	}
}

// SetGeminiCredentials replaces the API key and invalidates the cache.
func (c *Coordinator) SetGeminiCredentials(creds GeminiCredentials) error {
	if creds.APIKey == "" {
		return apierr.New(apierr.KindConfig, "gemini api_key must not be empty")
	}
	c.geminiMu.Lock()
	c.geminiCreds = creds
	c.geminiEntry = nil
	c.geminiMu.Unlock()
	log.WithField("api_key", MaskKey(creds.APIKey)).Debug("gemini credentials configured")
	return nil
}

// SetVertexCredentials replaces the OAuth credentials and invalidates the
// cache.
func (c *Coordinator) SetVertexCredentials(creds VertexCredentials) error {
	if creds.ProjectID == "" {
		return apierr.New(apierr.KindConfig, "vertex_ai requires a project_id")
	}
	if creds.AccessToken == "" && creds.ServiceAccountPath == "" && creds.ServiceAccountJSON == "" {
		return apierr.New(apierr.KindConfig, "vertex_ai requires an access_token or service account")
	}
	if creds.Location == "" {
		creds.Location = constants.DefaultLocation
	}
	c.vertexMu.Lock()
	c.vertexCreds = creds
	c.vertexEntry = nil
	c.vertexMu.Unlock()
	log.WithField("project_id", creds.ProjectID).Debug("vertex credentials configured")
	return nil
}

// BaseURL returns the strategy's endpoint root under current credentials.
func (c *Coordinator) BaseURL(strategy genai.Strategy) string {
	if strategy == genai.StrategyVertexAI {
		c.vertexMu.Lock()
		location := c.vertexCreds.Location
		c.vertexMu.Unlock()
		return vertexBaseURL(c.vertexBaseURL, location)
	}
	return geminiBaseURL(c.geminiBaseURL)
}

// authOnce funnels cache misses for one strategy into a single
// authentication. Waiters honor their own context; the winning call runs
// detached from any single caller's cancellation.
func (c *Coordinator) authOnce(ctx context.Context, strategy genai.Strategy) (*cacheEntry, error) {
	authCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strategy.String(), func() (interface{}, error) {
		return c.authenticate(authCtx, strategy)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cacheEntry), nil
	case <-ctx.Done():
		return nil, apierr.MapNetwork(ctx.Err())
	}
}

// authenticate performs the strategy's credential resolution and stores
// the resulting cache entry. Runs inside the single-flight group.
func (c *Coordinator) authenticate(ctx context.Context, strategy genai.Strategy) (*cacheEntry, error) {
	switch strategy {
	case genai.StrategyGemini:
		c.geminiMu.Lock()
		key := c.geminiCreds.APIKey
		c.geminiMu.Unlock()
		if key == "" {
			return nil, apierr.New(apierr.KindConfig, "no credentials configured for gemini strategy")
		}
		entry := &cacheEntry{apiKey: key, expiresAt: c.now().Add(constants.GeminiCredentialTTL)}
		c.geminiMu.Lock()
		c.geminiEntry = entry
		c.geminiMu.Unlock()
		return entry, nil

	case genai.StrategyVertexAI:
		c.vertexMu.Lock()
		creds := c.vertexCreds
		c.vertexMu.Unlock()

		var entry *cacheEntry
		if creds.AccessToken != "" {
			// Directly supplied token of unknown provenance: assume a
			// short remaining lifetime.
			expiry := c.now().Add(constants.VertexAssumedTokenTTL)
			entry = &cacheEntry{
				token:     &oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer", Expiry: expiry},
				expiresAt: expiry,
			}
		} else {
			sa, err := LoadServiceAccount(creds.ServiceAccountPath, creds.ServiceAccountJSON)
			if err != nil {
				return nil, err
			}
			token, err := exchange(ctx, c.http, sa, creds.TokenURL, c.now())
			if err != nil {
				return nil, err
			}
			entry = &cacheEntry{
				token:     token,
				expiresAt: token.Expiry.Add(-constants.TokenExpirySafetyMargin),
			}
		}

		c.vertexMu.Lock()
		c.vertexEntry = entry
		c.vertexMu.Unlock()

		c.hub.Publish(ctx, telemetry.TopicAuthRefreshed, nil,
			map[string]string{"strategy": strategy.String()})
		return entry, nil

	default:
		return nil, apierr.Newf(apierr.KindConfig, "unknown auth strategy %q", strategy)
	}
}

func (c *Coordinator) geminiGrant(apiKey string) Grant {
	return Grant{
		Strategy: genai.StrategyGemini,
		Headers:  geminiHeaders(apiKey),
		BaseURL:  geminiBaseURL(c.geminiBaseURL),
	}
}

func (c *Coordinator) vertexGrant(accessToken, projectID, location string) Grant {
	return Grant{
		Strategy:  genai.StrategyVertexAI,
		Headers:   vertexHeaders(accessToken),
		BaseURL:   vertexBaseURL(c.vertexBaseURL, location),
		ProjectID: projectID,
		Location:  location,
	}
}

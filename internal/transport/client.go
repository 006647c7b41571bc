// Package transport issues authenticated HTTP calls against the
// generative-language APIs. It owns the shared connection pool, the
// single refresh-and-retry on 401, and the mapping of transport and
// status failures into the library's error kinds. Streaming retry policy
// lives with the streaming engine; unary calls are not retried here.
package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/auth"
	"geminiclient-go/internal/constants"
	"geminiclient-go/internal/telemetry"
)

// errorBodyLimit caps how much of an error response is read for message
// extraction.
const errorBodyLimit = 64 * 1024

// Request describes one upstream call. PathFunc receives the resolved
// grant because the vertex path embeds the grant's project and location.
type Request struct {
	Strategy  genai.Strategy
	Overrides *auth.Overrides
	Method    string
	PathFunc  func(auth.Grant) string
	Query     url.Values
	Body      []byte
	Op        string
}

func (r *Request) url(grant auth.Grant) string {
	u := grant.BaseURL + "/" + r.PathFunc(grant)
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithHub attaches the telemetry hub.
func WithHub(hub *telemetry.Hub) Option {
	return func(c *Client) { c.hub = hub }
}

// WithRateLimit applies a client-side request budget across both unary
// and stream-open calls. perSec <= 0 disables limiting.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// Client is the shared HTTP layer under the request coordinator and the
// streaming engine.
type Client struct {
	http    *http.Client
	auth    *auth.Coordinator
	hub     *telemetry.Hub
	limiter *rate.Limiter
}

func New(coord *auth.Coordinator, opts ...Option) *Client {
	c := &Client{
		auth: coord,
		// No client-level timeout: streams are long-lived, and unary
		// deadlines arrive on the context.
		http: &http.Client{Transport: baseTransport(), Timeout: 0},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func baseTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultDialTimeout,
			KeepAlive: constants.DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: constants.DefaultTLSHandshakeTimeout,
		MaxIdleConns:        constants.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: constants.DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     constants.DefaultIdleConnTimeout,
	}
}

// DoJSON runs a unary call to completion and returns the response body.
// A 401 is retried once behind a credential refresh; any other non-2xx
// maps to an error of the matching kind.
func (c *Client) DoJSON(ctx context.Context, req *Request) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "client."+req.Op,
		attribute.String("http.method", req.Method),
		attribute.String("auth.strategy", req.Strategy.String()),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	c.hub.Publish(ctx, telemetry.TopicRequestStart, req.Op,
		map[string]string{"strategy": req.Strategy.String()})

	var resp *http.Response
	resp, err = c.roundTrip(ctx, req, false)
	if err != nil {
		c.hub.Publish(ctx, telemetry.TopicRequestError, err,
			map[string]string{"op": req.Op})
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		err = apierr.MapNetwork(readErr)
		return nil, err
	}
	if resp.StatusCode >= 400 {
		err = statusError(resp, body)
		c.hub.Publish(ctx, telemetry.TopicRequestError, err,
			map[string]string{"op": req.Op})
		return nil, err
	}

	c.hub.Publish(ctx, telemetry.TopicRequestStop, req.Op, map[string]string{
		"strategy":    req.Strategy.String(),
		"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
	})
	return body, nil
}

// OpenStream issues the streaming request and hands back the live
// response once the status line is acceptable. Non-2xx statuses are
// consumed and returned as errors, 401 behind one refresh.
//
// IMPORTANT: the caller owns resp.Body and must close it.
func (c *Client) OpenStream(ctx context.Context, req *Request) (*http.Response, error) {
	resp, err := c.roundTrip(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body := readErrorBody(resp)
		return nil, statusError(resp, body)
	}
	return resp, nil
}

// roundTrip resolves the grant, sends the request, and applies the
// single refresh-and-retry that a 401 is entitled to. A 401 on the
// retried attempt surfaces as an auth error.
func (c *Client) roundTrip(ctx context.Context, req *Request, streaming bool) (*http.Response, error) {
	if err := c.waitLimiter(ctx); err != nil {
		return nil, err
	}

	grant, err := c.auth.Coordinate(ctx, req.Strategy, req.Overrides)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, req, grant, streaming)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	_ = readErrorBody(resp)
	log.WithField("op", req.Op).Debug("401 from upstream, refreshing credentials")
	c.hub.Publish(ctx, telemetry.TopicRequestRetry, req.Op,
		map[string]string{"reason": "401", "strategy": req.Strategy.String()})

	if _, err = c.auth.Refresh(ctx, req.Strategy); err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, "credential refresh after 401 failed", err)
	}
	grant, err = c.auth.Coordinate(ctx, req.Strategy, req.Overrides)
	if err != nil {
		return nil, err
	}
	resp, err = c.send(ctx, req, grant, streaming)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		body := readErrorBody(resp)
		return nil, statusError(resp, body)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req *Request, grant auth.Grant, streaming bool) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, apierr.MapNetwork(err)
	}

	var rdr io.Reader
	if len(req.Body) > 0 {
		rdr = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.url(grant), rdr)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindClient, "building request", err)
	}
	for k, vals := range grant.Headers {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apierr.MapNetwork(err)
	}
	return resp, nil
}

func (c *Client) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		// Wait fails either because the context ended or because the
		// deadline cannot admit another token.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apierr.MapNetwork(ctxErr)
		}
		return apierr.Wrap(apierr.KindTimeout, "rate limit admission", err)
	}
	return nil
}

// statusError maps a non-2xx response, attaching the server's requested
// delay on 429 so the retry loop can honor it as a lower bound.
func statusError(resp *http.Response, body []byte) *apierr.Error {
	apiErr := apierr.MapStatus(resp.StatusCode, body)
	if resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
			apiErr = apiErr.WithContext("retry_after", d)
		}
	}
	return apiErr
}

// readErrorBody drains a bounded prefix of the body and closes it, so
// the connection can be reused.
func readErrorBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	_ = resp.Body.Close()
	return body
}

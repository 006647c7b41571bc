// Package stream is the streaming engine: it owns the session table,
// the goroutine per session that drives the upstream SSE request, and
// the fan-out of decoded events to subscribers. Sessions move through
// starting -> active -> completed|errored|stopped; terminal sessions
// stay visible for a retention window so late subscribers can observe
// the terminal event, then a janitor removes them.
package stream

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/auth"
	"geminiclient-go/internal/constants"
	"geminiclient-go/internal/telemetry"
	"geminiclient-go/internal/transport"
)

// Option configures an Engine.
type Option func(*Engine)

// WithHub attaches the telemetry hub.
func WithHub(hub *telemetry.Hub) Option {
	return func(e *Engine) { e.hub = hub }
}

// WithMaxSessions caps concurrently live sessions.
func WithMaxSessions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSessions = n
		}
	}
}

// WithMailboxSize sets the per-subscriber queue length.
func WithMailboxSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.mailbox = n
		}
	}
}

// WithIdleTimeout bounds the gap between stream chunks.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.idleTimeout = d
		}
	}
}

// WithMaxRetries caps reconnect attempts per session.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithGracePeriod sets how long an empty subscriber set is tolerated on
// a live session before it is stopped.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.grace = d
		}
	}
}

// WithRetention sets how long terminal sessions stay listed.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retention = d
		}
	}
}

// WithJanitorInterval sets the sweep cadence, mainly for tests.
func WithJanitorInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.janitorTick = d
		}
	}
}

// WithBackoffFunc replaces the reconnect backoff, mainly for tests.
func WithBackoffFunc(fn func(attempt int) time.Duration) Option {
	return func(e *Engine) {
		if fn != nil {
			e.backoff = fn
		}
	}
}

// WithNowFunc replaces the clock, mainly for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine owns every stream session and the janitor pruning expired
// terminal ones. All methods are safe for concurrent use.
type Engine struct {
	transport *transport.Client
	hub       *telemetry.Hub

	maxSessions int
	mailbox     int
	idleTimeout time.Duration
	maxRetries  int
	grace       time.Duration
	retention   time.Duration
	janitorTick time.Duration
	backoff     func(int) time.Duration
	now         func() time.Time

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	live            atomic.Int64
	totalStarted    atomic.Int64
	totalCompleted  atomic.Int64
	totalErrored    atomic.Int64
	totalStopped    atomic.Int64
	eventsDelivered atomic.Int64
}

// New builds an engine around the shared transport and starts the
// janitor.
func New(tc *transport.Client, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		transport:   tc,
		maxSessions: constants.DefaultMaxSessions,
		mailbox:     constants.DefaultSubscriberMailbox,
		idleTimeout: constants.DefaultStreamIdleTimeout,
		maxRetries:  constants.DefaultMaxRetries,
		grace:       constants.SubscriberGracePeriod,
		retention:   constants.SessionRetention,
		janitorTick: constants.JanitorInterval,
		backoff:     transport.Backoff,
		now:         time.Now,
		rootCtx:     ctx,
		cancel:      cancel,
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.mailbox < 2 {
		// One slot must stay free for the overflow marker.
		e.mailbox = 2
	}
	e.wg.Add(1)
	go e.janitor()
	return e
}

// StartRequest describes a stream to open. Body is the serialized
// generate-content request; the engine owns path building and the
// alt=sse query. MaxRetries overrides the engine default for this
// session when non-nil.
type StartRequest struct {
	Strategy   genai.Strategy
	Overrides  *auth.Overrides
	Model      string
	Body       []byte
	MaxRetries *int
}

// Start registers a session, attaches the initial subscriber, and
// spawns the ingestion worker. subCtx feeds the subscriber death watch
// only; the worker's lifetime is governed by the engine, the subscriber
// set, and Stop.
func (e *Engine) Start(subCtx context.Context, req *StartRequest) (*Subscription, error) {
	if req.Model == "" {
		return nil, apierr.New(apierr.KindConfig, "stream requires a model")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, apierr.New(apierr.KindResource, "streaming engine is closed")
	}
	if int(e.live.Load()) >= e.maxSessions {
		e.mu.Unlock()
		return nil, apierr.New(apierr.KindResource, "stream session limit reached").
			WithContext("max_sessions", e.maxSessions)
	}

	retries := e.maxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		retries = *req.MaxRetries
	}

	id := uuid.NewString()
	workerCtx, cancel := context.WithCancel(e.rootCtx)
	s := &session{
		id:         id,
		model:      req.Model,
		strategy:   req.Strategy,
		eng:        e,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      genai.SessionStarting,
		startedAt:  e.now(),
		maxRetries: retries,
		request: &transport.Request{
			Strategy:  req.Strategy,
			Overrides: req.Overrides,
			Method:    http.MethodPost,
			PathFunc: func(g auth.Grant) string {
				return g.BuildPath(req.Model, constants.EndpointStreamGenerateContent)
			},
			Query: url.Values{"alt": []string{"sse"}},
			Body:  req.Body,
			Op:    "stream_generate",
		},
	}
	e.sessions[id] = s
	e.live.Add(1)
	e.totalStarted.Add(1)
	e.wg.Add(1)
	e.mu.Unlock()

	subscription := s.attach(subCtx)

	log.WithFields(log.Fields{
		"session":  id,
		"model":    req.Model,
		"strategy": req.Strategy,
	}).Info("Stream session started")
	e.hub.Publish(workerCtx, telemetry.TopicStreamStart, id, map[string]string{
		"model":    req.Model,
		"strategy": string(req.Strategy),
	})

	go e.runSession(workerCtx, s)
	return subscription, nil
}

// Subscribe attaches a reader to an existing session. On a terminal
// session the terminal event is replayed immediately.
func (e *Engine) Subscribe(subCtx context.Context, sessionID string) (*Subscription, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.attach(subCtx), nil
}

// Stop cancels a session's worker. The worker emits the stopped event,
// so subscribers observe it after any data already in flight. Stopping
// a terminal session is a no-op.
func (e *Engine) Stop(sessionID string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	s.requestStop("stop requested")
	return nil
}

// Info returns a snapshot of one session.
func (e *Engine) Info(sessionID string) (genai.SessionInfo, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return genai.SessionInfo{}, err
	}
	return s.snapshot(), nil
}

// List snapshots every tracked session, oldest first, including
// terminal sessions still inside the retention window.
func (e *Engine) List() []genai.SessionInfo {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	infos := make([]genai.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.snapshot())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

// Stats returns engine-wide counters.
func (e *Engine) Stats() genai.EngineStats {
	return genai.EngineStats{
		ActiveSessions:  int(e.live.Load()),
		TotalStarted:    e.totalStarted.Load(),
		TotalCompleted:  e.totalCompleted.Load(),
		TotalErrored:    e.totalErrored.Load(),
		TotalStopped:    e.totalStopped.Load(),
		EventsDelivered: e.eventsDelivered.Load(),
	}
}

// Close stops every session and the janitor, then waits for the workers
// to unwind. Live sessions transition to Stopped, and their subscribers
// receive the stopped event before their channels close.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

func (e *Engine) lookup(sessionID string) (*session, error) {
	e.mu.RLock()
	s, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return nil, apierr.Newf(apierr.KindClient, "unknown stream session %q", sessionID)
	}
	return s, nil
}

// noteTerminal records counters, logs, and telemetry after a session
// reaches a terminal state. Called from session.finish; must not take
// e.mu.
func (e *Engine) noteTerminal(s *session, state genai.SessionState, failure *apierr.Error) {
	e.live.Add(-1)
	topic := telemetry.TopicStreamStopped
	switch state {
	case genai.SessionCompleted:
		e.totalCompleted.Add(1)
		topic = telemetry.TopicStreamCompleted
	case genai.SessionErrored:
		e.totalErrored.Add(1)
		topic = telemetry.TopicStreamErrored
	case genai.SessionStopped:
		e.totalStopped.Add(1)
	}

	fields := log.Fields{"session": s.id, "state": state}
	if failure != nil {
		fields["error"] = failure
		log.WithFields(fields).Error("Stream session ended with error")
	} else {
		log.WithFields(fields).Info("Stream session ended")
	}
	e.hub.Publish(context.Background(), topic, s.id, map[string]string{"state": string(state)})
}

// janitor prunes terminal sessions once their retention window passes,
// keeping the table bounded while late subscribers can still replay the
// terminal event.
func (e *Engine) janitor() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.janitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-e.rootCtx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	now := e.now()
	e.mu.Lock()
	for id, s := range e.sessions {
		if s.expired(now, e.retention) {
			delete(e.sessions, id)
			log.WithFields(log.Fields{"session": id}).Debug("Expired stream session removed")
		}
	}
	e.mu.Unlock()
}

package stream

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/transport"
)

// Subscription is one reader attached to a stream session. Events is
// closed after the terminal event has been delivered, or earlier when
// the reader detaches. Close detaches; it is safe to call repeatedly.
type Subscription struct {
	SessionID string
	Events    <-chan genai.StreamEvent

	once   sync.Once
	detach func()
}

// Close detaches the subscription from its session. If it was the last
// reader on a live session, the grace timer starts ticking.
func (s *Subscription) Close() {
	s.once.Do(s.detach)
}

// subscriber is a registered reader: a bounded mailbox plus a done
// channel that stands the death watch down once the reader is gone.
type subscriber struct {
	ch   chan genai.StreamEvent
	done chan struct{}

	// gap records that overflow dropped at least one queued event since
	// the reader last got an overflow marker. Guarded by session.mu.
	gap bool
}

// offer queues ev, dropping the oldest queued events when the mailbox is
// full. A run of drops surfaces to the reader as a single overflow
// marker sitting where the gap is. The session mutex serializes all
// writers, so once space is cleared the sends below cannot block.
func (sub *subscriber) offer(ev genai.StreamEvent) {
	need := 1
	if sub.gap {
		need = 2
	}
	for cap(sub.ch)-len(sub.ch) < need {
		select {
		case <-sub.ch:
			sub.gap = true
			need = 2
		default:
			// The reader drained concurrently; re-check capacity.
		}
	}
	if sub.gap {
		sub.ch <- genai.StreamEvent{SessionID: ev.SessionID, Type: genai.EventOverflow}
		sub.gap = false
	}
	sub.ch <- ev
}

// session is one live or recently terminal stream. All mutable state is
// guarded by mu. Fan-out happens under mu with bounded non-blocking
// mailbox writes, so a slow reader can never stall the ingest goroutine
// or its faster peers.
type session struct {
	id         string
	model      string
	strategy   genai.Strategy
	request    *transport.Request
	eng        *Engine
	maxRetries int

	cancel context.CancelFunc // stops the ingest worker
	done   chan struct{}      // closed when the worker exits

	mu            sync.Mutex
	state         genai.SessionState
	err           *apierr.Error
	subscribers   []*subscriber // registration order
	eventsCount   int64
	startedAt     time.Time
	lastEventAt   time.Time
	terminalAt    time.Time
	terminalEvent *genai.StreamEvent
	graceTimer    *time.Timer
	stopReason    string
}

// attach registers a reader under a death watch keyed on subCtx. On a
// terminal session the terminal event is replayed into a short channel
// instead and nothing is registered.
func (s *session) attach(subCtx context.Context) *Subscription {
	if subCtx == nil {
		subCtx = context.Background()
	}

	s.mu.Lock()
	if s.state.Terminal() {
		terminal := s.terminalEvent
		s.mu.Unlock()
		ch := make(chan genai.StreamEvent, 1)
		if terminal != nil {
			ch <- *terminal
		}
		close(ch)
		return &Subscription{SessionID: s.id, Events: ch, detach: func() {}}
	}

	sub := &subscriber{
		ch:   make(chan genai.StreamEvent, s.eng.mailbox),
		done: make(chan struct{}),
	}
	s.subscribers = append(s.subscribers, sub)
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.mu.Unlock()

	go s.deathWatch(subCtx, sub)
	return &Subscription{SessionID: s.id, Events: sub.ch, detach: func() { s.detachSubscriber(sub) }}
}

// deathWatch detaches the reader when its context ends before the
// session does.
func (s *session) deathWatch(ctx context.Context, sub *subscriber) {
	select {
	case <-ctx.Done():
		s.detachSubscriber(sub)
	case <-sub.done:
	}
}

// detachSubscriber removes a reader and closes its mailbox. Emptying the
// subscriber set of a live session arms the grace timer; if nobody
// attaches before it fires, the session is stopped.
func (s *session) detachSubscriber(sub *subscriber) {
	s.mu.Lock()
	idx := -1
	for i, cand := range s.subscribers {
		if cand == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.subscribers = append(s.subscribers[:idx], s.subscribers[idx+1:]...)
	close(sub.done)
	close(sub.ch)
	armed := !s.state.Terminal() && len(s.subscribers) == 0 && s.graceTimer == nil
	if armed {
		s.graceTimer = time.AfterFunc(s.eng.grace, s.graceExpired)
	}
	s.mu.Unlock()

	if armed {
		log.WithFields(log.Fields{"session": s.id}).Debug("Last subscriber left, grace timer armed")
	}
}

// graceExpired stops the session unless a reader attached in the
// meantime.
func (s *session) graceExpired() {
	s.mu.Lock()
	if s.state.Terminal() || len(s.subscribers) > 0 {
		s.mu.Unlock()
		return
	}
	if s.stopReason == "" {
		s.stopReason = "no subscribers"
	}
	s.mu.Unlock()

	log.WithFields(log.Fields{"session": s.id}).Info("No subscribers left, stopping stream session")
	s.cancel()
}

// requestStop cancels the ingest worker. The worker performs the actual
// transition, which keeps event emission single-producer and therefore
// ordered after any data already in flight.
func (s *session) requestStop(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.stopReason == "" {
		s.stopReason = reason
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *session) reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

// activate marks the first successful upstream connection.
func (s *session) activate() {
	s.mu.Lock()
	if s.state == genai.SessionStarting {
		s.state = genai.SessionActive
	}
	s.mu.Unlock()
}

// deliverData fans one decoded chunk out to every subscriber in
// registration order.
func (s *session) deliverData(payload map[string]interface{}) {
	ev := genai.StreamEvent{SessionID: s.id, Type: genai.EventData, Data: payload}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.eventsCount++
	s.lastEventAt = s.eng.now()
	s.push(ev)
	s.mu.Unlock()
}

// deliverWarning surfaces a recoverable decode problem to subscribers
// without touching the event counters.
func (s *session) deliverWarning(warn *apierr.Error) {
	ev := genai.StreamEvent{SessionID: s.id, Type: genai.EventWarning, Err: warn}
	s.mu.Lock()
	if !s.state.Terminal() {
		s.push(ev)
	}
	s.mu.Unlock()
}

// push writes one event into every mailbox. Callers hold s.mu.
func (s *session) push(ev genai.StreamEvent) {
	for _, sub := range s.subscribers {
		sub.offer(ev)
		s.eng.eventsDelivered.Add(1)
	}
}

// finish moves the session into a terminal state, delivers the terminal
// event, and closes every mailbox. The first transition wins; later
// calls are no-ops.
func (s *session) finish(state genai.SessionState, ev genai.StreamEvent, failure *apierr.Error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.err = failure
	s.terminalAt = s.eng.now()
	s.terminalEvent = &ev
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.push(ev)
	detached := s.subscribers
	s.subscribers = nil
	for _, sub := range detached {
		close(sub.done)
		close(sub.ch)
	}
	s.mu.Unlock()

	s.cancel()
	s.eng.noteTerminal(s, state, failure)
}

func (s *session) complete() {
	s.finish(genai.SessionCompleted, genai.StreamEvent{SessionID: s.id, Type: genai.EventCompleted}, nil)
}

func (s *session) fail(failure *apierr.Error) {
	s.finish(genai.SessionErrored, genai.StreamEvent{SessionID: s.id, Type: genai.EventErrored, Err: failure}, failure)
}

func (s *session) stop() {
	s.finish(genai.SessionStopped, genai.StreamEvent{SessionID: s.id, Type: genai.EventStopped}, nil)
}

// snapshot returns a point-in-time view for Info and List.
func (s *session) snapshot() genai.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return genai.SessionInfo{
		ID:           s.id,
		State:        s.state,
		Model:        s.model,
		AuthStrategy: s.strategy,
		Subscribers:  len(s.subscribers),
		EventsCount:  s.eventsCount,
		StartedAt:    s.startedAt,
		LastEventAt:  s.lastEventAt,
		Err:          s.err,
	}
}

// expired reports whether a terminal session has outlived its retention
// window.
func (s *session) expired(now time.Time, retention time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal() && now.Sub(s.terminalAt) >= retention
}

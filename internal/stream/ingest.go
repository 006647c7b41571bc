package stream

import (
	"context"
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"geminiclient-go/apierr"
	"geminiclient-go/internal/constants"
	"geminiclient-go/internal/sse"
	"geminiclient-go/internal/telemetry"
	"geminiclient-go/internal/wire"
)

// runSession drives one upstream stream to a terminal state, reopening
// the connection per the retry policy. It is the only goroutine that
// emits events for its session, so per-subscriber ordering follows from
// program order. Each attempt gets a fresh HTTP request and a fresh
// parser; events already delivered are never re-delivered, so readers
// may observe a gap across a reconnect.
func (e *Engine) runSession(ctx context.Context, s *session) {
	defer e.wg.Done()
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"session": s.id, "panic": r}).Error("Stream worker panicked")
			s.fail(apierr.Newf(apierr.KindServer, "stream worker panic: %v", r))
		}
	}()

	attempt := 0
	for {
		done, failure := e.streamOnce(ctx, s)
		if done {
			s.complete()
			return
		}
		if ctx.Err() != nil {
			log.WithFields(log.Fields{"session": s.id, "reason": s.reason()}).Info("Stream session stopping")
			s.stop()
			return
		}

		if !failure.Kind.Retryable() || attempt >= s.maxRetries {
			s.fail(failure)
			return
		}

		delay := e.retryDelay(attempt, failure)
		log.WithFields(log.Fields{
			"session": s.id,
			"attempt": attempt + 1,
			"delay":   delay,
			"error":   failure,
		}).Warn("Stream attempt failed, retrying")
		e.hub.Publish(ctx, telemetry.TopicRequestRetry, s.id, map[string]string{
			"op":   "stream_generate",
			"kind": string(failure.Kind),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.stop()
			return
		case <-timer.C:
		}
		attempt++
	}
}

// retryDelay is the backoff for the given attempt, raised to the
// server's Retry-After demand when one came back on a 429.
func (e *Engine) retryDelay(attempt int, failure *apierr.Error) time.Duration {
	delay := e.backoff(attempt)
	if ra, ok := failure.RetryAfter(); ok && ra > delay {
		delay = ra
	}
	return delay
}

// streamOnce opens the upstream request and pumps it through a fresh
// parser until the done sentinel, end of body, or failure. The idle
// watchdog cancels the read when the gap between chunks exceeds the
// configured timeout; end of body without the sentinel still completes
// after the parser flushes whatever it buffered.
func (e *Engine) streamOnce(ctx context.Context, s *session) (bool, *apierr.Error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := e.transport.OpenStream(attemptCtx, s.request)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok {
			return false, apiErr
		}
		return false, apierr.Wrap(apierr.KindNetwork, "open stream", err)
	}
	defer resp.Body.Close()

	s.activate()

	watchdog := time.AfterFunc(e.idleTimeout, cancel)
	defer watchdog.Stop()

	parser := sse.NewParser()
	buf := make([]byte, constants.StreamReadChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(e.idleTimeout)
			events, warnings := parser.Feed(buf[:n])
			if e.dispatch(s, events, warnings) {
				return true, nil
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			events, warnings := parser.Finalize()
			e.dispatch(s, events, warnings)
			return true, nil
		}
		if ctx.Err() != nil {
			// Stop or engine shutdown; the worker loop owns the transition.
			return false, apierr.Wrap(apierr.KindCancelled, "stream read", readErr)
		}
		if attemptCtx.Err() != nil {
			return false, apierr.Newf(apierr.KindTimeout, "no stream data within %s", e.idleTimeout).
				WithContext("idle_timeout", e.idleTimeout.String())
		}
		return false, apierr.MapNetwork(readErr)
	}
}

// dispatch normalizes and fans out one batch of parser output. It
// reports whether the done sentinel was seen; anything decoded after
// the sentinel is dropped.
func (e *Engine) dispatch(s *session, events []sse.Event, warnings []*apierr.Error) bool {
	for _, warn := range warnings {
		log.WithFields(log.Fields{"session": s.id, "error": warn}).Warn("Stream payload problem")
		s.deliverWarning(warn)
	}
	for _, ev := range events {
		if ev.Done {
			return true
		}
		payload, ok := wire.NormalizeKeys(ev.Data).(map[string]interface{})
		if !ok {
			continue
		}
		s.deliverData(payload)
	}
	return false
}

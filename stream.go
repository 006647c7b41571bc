package geminiclient

import (
	"context"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/stream"
)

// Stream is a streaming generation with the caller attached as a
// subscriber. Events delivers decoded chunks and lifecycle markers in
// upstream order and is closed after the terminal event. Close detaches
// this subscriber only; the session itself runs until it finishes, is
// stopped, or loses its last subscriber past the grace period.
type Stream struct {
	SessionID string
	Events    <-chan genai.StreamEvent

	detach func()
}

// Close detaches the subscriber. Safe to call repeatedly.
func (s *Stream) Close() { s.detach() }

// StreamGenerate opens a streaming generation and attaches the caller
// as the first subscriber. ctx governs only this subscriber: when it
// ends the subscriber detaches, and the session stops only if nobody
// else is attached after the grace period. Use StopStream to end the
// session outright.
func (c *Client) StreamGenerate(ctx context.Context, content interface{}, opts *RequestOptions) (*Stream, error) {
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

	sub, err := c.engine.Start(ctx, &stream.StartRequest{
		Strategy:   eff.strategy,
		Overrides:  eff.overrides,
		Model:      eff.model,
		Body:       body,
		MaxRetries: eff.maxRetries,
	})
	if err != nil {
		return nil, err
	}
	return &Stream{SessionID: sub.SessionID, Events: sub.Events, detach: sub.Close}, nil
}

// Subscribe attaches an additional reader to an existing session. On a
// session that already finished, the terminal event is replayed.
func (c *Client) Subscribe(ctx context.Context, sessionID string) (*Stream, error) {
	sub, err := c.engine.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Stream{SessionID: sub.SessionID, Events: sub.Events, detach: sub.Close}, nil
}

// StopStream ends a session. Subscribers receive a stopped event after
// anything already in flight; stopping a finished session is a no-op.
func (c *Client) StopStream(sessionID string) error {
	return c.engine.Stop(sessionID)
}

// StreamInfo snapshots one session's state.
func (c *Client) StreamInfo(sessionID string) (genai.SessionInfo, error) {
	return c.engine.Info(sessionID)
}

// ListStreams snapshots every tracked session, oldest first, including
// finished ones still inside the retention window.
func (c *Client) ListStreams() []genai.SessionInfo {
	return c.engine.List()
}

// StreamStats returns engine-wide counters.
func (c *Client) StreamStats() genai.EngineStats {
	return c.engine.Stats()
}

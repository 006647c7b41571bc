package geminiclient

import (
	"context"
	"sync"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
)

// ChatOptions seed a conversation. History may carry prior turns; they
// must alternate user/model starting with user, which Send enforces.
type ChatOptions struct {
	Model             string
	Auth              genai.Strategy
	SystemInstruction string
	History           []genai.Content
	Generation        *genai.GenerationConfig
	SafetySettings    []genai.SafetySetting
	Tools             []genai.Tool
}

// Chat is a stateful conversation over Generate. Every Send serializes
// the full history plus the new message; no server-side session state
// exists. The reply is appended to history only when the call succeeds,
// so a failed Send leaves the conversation exactly as it was.
type Chat struct {
	client *Client
	opts   ChatOptions

	mu      sync.Mutex
	history []genai.Content
}

// NewChat starts a conversation. A nil opts uses the client defaults.
func (c *Client) NewChat(opts *ChatOptions) *Chat {
	var o ChatOptions
	if opts != nil {
		o = *opts
	}
	history := make([]genai.Content, len(o.History))
	copy(history, o.History)
	return &Chat{client: c, opts: o, history: history}
}

// Send appends message as the user's next turn and returns the model's
// reply. message accepts the same shapes as Generate. Sends on one Chat
// are serialized.
func (ch *Chat) Send(ctx context.Context, message interface{}) (*genai.GenerateResponse, error) {
	userTurn, err := genai.ToContents(message)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindClient, "invalid message", err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	full := make([]genai.Content, 0, len(ch.history)+len(userTurn))
	full = append(full, ch.history...)
	full = append(full, userTurn...)
	if err := validateTurns(full); err != nil {
		return nil, err
	}

	resp, err := ch.client.Generate(ctx, full, ch.requestOptions())
	if err != nil {
		return nil, err
	}

	ch.history = append(ch.history, userTurn...)
	ch.history = append(ch.history, replyContent(resp))
	return resp, nil
}

// History returns a copy of the conversation so far.
func (ch *Chat) History() []genai.Content {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]genai.Content, len(ch.history))
	copy(out, ch.history)
	return out
}

// Len returns the number of turns recorded so far.
func (ch *Chat) Len() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.history)
}

func (ch *Chat) requestOptions() *RequestOptions {
	return &RequestOptions{
		Auth:              ch.opts.Auth,
		Model:             ch.opts.Model,
		Generation:        ch.opts.Generation,
		SafetySettings:    ch.opts.SafetySettings,
		SystemInstruction: ch.opts.SystemInstruction,
		Tools:             ch.opts.Tools,
	}
}

// validateTurns enforces the upstream's turn discipline: roles
// alternate and the first turn is the user's.
func validateTurns(contents []genai.Content) error {
	for i, content := range contents {
		want := genai.RoleUser
		if i%2 == 1 {
			want = genai.RoleModel
		}
		if content.Role != want {
			return apierr.Newf(apierr.KindClient,
				"chat turn %d must have role %q, got %q", i, want, content.Role)
		}
	}
	return nil
}

// replyContent extracts the model turn to record: the first candidate's
// content, with the role pinned in case the upstream omitted it.
func replyContent(resp *genai.GenerateResponse) genai.Content {
	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		reply := resp.Candidates[0].Content
		reply.Role = genai.RoleModel
		return reply
	}
	return genai.ModelContent(genai.Text(resp.Text()))
}

package genai

import (
	"time"

	"geminiclient-go/apierr"
)

// SessionState is a stream session's lifecycle state.
type SessionState string

const (
	SessionStarting  SessionState = "starting"
	SessionActive    SessionState = "active"
	SessionCompleted SessionState = "completed"
	SessionErrored   SessionState = "errored"
	SessionStopped   SessionState = "stopped"
)

// Terminal reports whether the state is absorbing.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionCompleted, SessionErrored, SessionStopped:
		return true
	}
	return false
}

// Stream event types delivered to subscribers. Data events carry a decoded
// chunk; the rest are lifecycle markers.
type EventType string

const (
	EventData      EventType = "data"
	EventCompleted EventType = "completed"
	EventErrored   EventType = "error"
	EventStopped   EventType = "stopped"
	EventWarning   EventType = "warning"
	EventOverflow  EventType = "overflow"
)

// StreamEvent is one delivery to a subscriber. Data is the key-normalized
// chunk payload for EventData; Err is set for EventErrored and EventWarning.
type StreamEvent struct {
	SessionID string                 `json:"session_id"`
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Err       *apierr.Error          `json:"error,omitempty"`
}

// Text extracts the concatenated candidate text of a data event.
func (e StreamEvent) Text() string {
	if e.Type != EventData || e.Data == nil {
		return ""
	}
	candidates, ok := e.Data["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return ""
	}
	first, ok := candidates[0].(map[string]interface{})
	if !ok {
		return ""
	}
	content, ok := first["content"].(map[string]interface{})
	if !ok {
		return ""
	}
	parts, ok := content["parts"].([]interface{})
	if !ok {
		return ""
	}
	var out string
	for _, p := range parts {
		if pm, ok := p.(map[string]interface{}); ok {
			if t, ok := pm["text"].(string); ok {
				out += t
			}
		}
	}
	return out
}

// SessionInfo is a point-in-time snapshot of one stream session.
type SessionInfo struct {
	ID           string        `json:"id"`
	State        SessionState  `json:"state"`
	Model        string        `json:"model"`
	AuthStrategy Strategy      `json:"auth_strategy"`
	Subscribers  int           `json:"subscribers"`
	EventsCount  int64         `json:"events_count"`
	StartedAt    time.Time     `json:"started_at"`
	LastEventAt  time.Time     `json:"last_event_at,omitempty"`
	Err          *apierr.Error `json:"error,omitempty"`
}

// EngineStats is a snapshot of engine-wide counters.
type EngineStats struct {
	ActiveSessions  int   `json:"active_sessions"`
	TotalStarted    int64 `json:"total_started"`
	TotalCompleted  int64 `json:"total_completed"`
	TotalErrored    int64 `json:"total_errored"`
	TotalStopped    int64 `json:"total_stopped"`
	EventsDelivered int64 `json:"events_delivered"`
}

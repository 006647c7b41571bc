package constants

import "time"

// Streaming engine limits and lifecycle intervals.
const (
	// DefaultMaxSessions caps concurrently tracked stream sessions.
	DefaultMaxSessions = 1000

	// DefaultSubscriberMailbox is the per-subscriber bounded queue length.
	DefaultSubscriberMailbox = 64

	// SubscriberGracePeriod is how long an active session with no
	// subscribers waits for a new subscriber before stopping.
	SubscriberGracePeriod = 1 * time.Second

	// SessionRetention keeps terminal sessions visible so late subscribers
	// can observe the terminal event.
	SessionRetention = 5 * time.Second

	// JanitorInterval is the sweep cadence for expired terminal sessions.
	JanitorInterval = 1 * time.Second
)

package constants

import "time"

// Streaming retry policy.
const (
	DefaultMaxRetries = 3

	// Backoff is min(BackoffBaseDelay * 2^attempt, BackoffMaxDelay) plus
	// uniform jitter in [0, BackoffJitterMax).
	BackoffBaseDelay = 1 * time.Second
	BackoffMaxDelay  = 10 * time.Second
	BackoffJitterMax = 1 * time.Second
)

package constants

import "time"

// Operation deadlines.
const (
	// DefaultUnaryTimeout bounds a whole unary request.
	DefaultUnaryTimeout = 30 * time.Second

	// DefaultStreamIdleTimeout bounds the gap between stream chunks; there
	// is no overall streaming deadline.
	DefaultStreamIdleTimeout = 45 * time.Second

	// DefaultTokenExchangeTimeout bounds the OAuth assertion exchange.
	DefaultTokenExchangeTimeout = 30 * time.Second
)

// Shared http.Transport tuning.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 20
	DefaultIdleConnTimeout     = 90 * time.Second
)

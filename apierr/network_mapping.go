package apierr

import (
	"context"
	"errors"
	"net"
	"strings"
)

// MapNetwork maps a transport-level failure to a taxonomy error. Context
// errors are checked first so cancellation is never misreported as a
// network fault.
func MapNetwork(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindCancelled, "request cancelled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(KindTimeout, "network timeout", err)
	}

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return Wrap(KindTimeout, "network timeout", err)
	case strings.Contains(errMsg, "connection refused"):
		return Wrap(KindNetwork, "connection refused", err)
	case strings.Contains(errMsg, "EOF") || strings.Contains(errMsg, "connection reset") || strings.Contains(errMsg, "broken pipe"):
		return Wrap(KindNetwork, "connection error", err)
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "name resolution"):
		return Wrap(KindNetwork, "dns resolution error", err)
	case strings.Contains(errMsg, "certificate") || strings.Contains(errMsg, "tls"):
		return Wrap(KindNetwork, "tls error", err)
	default:
		return Wrap(KindNetwork, "network error", err)
	}
}

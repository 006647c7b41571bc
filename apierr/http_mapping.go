package apierr

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// MapStatus maps a non-2xx upstream status and body to a taxonomy error.
// 401 maps to KindAuth (the caller is expected to have spent its single
// refresh-and-retry before surfacing it); 429 maps to KindRateLimit with
// any Retry-After attached separately by the transport.
func MapStatus(statusCode int, upstreamBody []byte) *Error {
	upstreamMsg := extractUpstreamMessage(upstreamBody)

	switch {
	case statusCode == http.StatusUnauthorized:
		return New(KindAuth, firstNonEmpty(upstreamMsg, "authentication rejected by upstream")).WithStatus(statusCode)
	case statusCode == http.StatusTooManyRequests:
		return New(KindRateLimit, firstNonEmpty(upstreamMsg, "rate limit exceeded")).WithStatus(statusCode)
	case statusCode >= 500:
		return New(KindServer, firstNonEmpty(upstreamMsg, fmt.Sprintf("upstream server error (HTTP %d)", statusCode))).WithStatus(statusCode)
	case statusCode >= 400:
		return New(KindClient, firstNonEmpty(upstreamMsg, fmt.Sprintf("request rejected (HTTP %d)", statusCode))).WithStatus(statusCode)
	default:
		return New(KindServer, firstNonEmpty(upstreamMsg, fmt.Sprintf("unexpected HTTP %d", statusCode))).WithStatus(statusCode)
	}
}

// extractUpstreamMessage pulls error.message from a Google-style error
// envelope, falling back to the truncated raw body.
func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	msg := string(body)
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}

func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}

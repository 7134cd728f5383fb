package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// isRetryableLLMError classifies an LLM API failure. Timeouts, rate limits
// and upstream overload are worth retrying; everything else (bad request,
// auth, safety rejection) is terminal.
func isRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "500", "502", "503", "overloaded", "rate limit", "timeout", "connection"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// transientHTTPStatus reports whether an HTTP status from a polling provider
// should be retried. 408 and 429 are retryable client statuses; all 5xx are
// upstream trouble.
func transientHTTPStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

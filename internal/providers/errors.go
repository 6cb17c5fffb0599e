package providers

import (
	"errors"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable marks a provider that could not produce output; the
// routing engine treats it as a signal to fall through to the next tier.
var ErrUnavailable = errors.New("provider unavailable")

// isRetryable reports whether an OpenAI-compatible API error is worth
// retrying: rate limits, server errors, and transient network failures.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

package llms

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/kadirpekel/agenthub/pkg/httpclient"
)

// GenerationError wraps a provider failure with enough detail to decide
// whether a retry is worthwhile.
type GenerationError struct {
	Provider   string
	Model      string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s generation failed (model %s, HTTP %d): %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s generation failed (model %s): %v", e.Provider, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a generation error is transient.
// Timeouts, rate limits, and server errors qualify. Auth and
// malformed-request failures do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Retryable
	}

	if httpclient.IsRetryable(err) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

func retryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

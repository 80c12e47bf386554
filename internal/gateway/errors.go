package gateway

import (
	"fmt"
	"time"
)

// ConnectionError is returned once retries are exhausted on transport failures, timeouts or 5xx responses.
type ConnectionError struct {
	Endpoint   string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: connection error after %d attempts: status %d", e.Endpoint, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("%s: connection error after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned once retries are exhausted on 429 responses.
type RateLimitError struct {
	Endpoint   string
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited after %d attempts, retry after %s", e.Endpoint, e.Attempts, e.RetryAfter)
}

// APIError is a non-retryable 4xx response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

package moderation

import (
	"fmt"
	"time"
)

// RateLimitedError is returned when the sliding-window limiter rejects
// a request. RetryAfter is the time until the oldest window entry expires.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func NewRateLimitedError(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}

// InferenceError is returned when the external classifier call fails.
// Inference failures terminate the request and are never cached.
type InferenceError struct {
	Reason string
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("inference failed: %s", e.Reason)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

func NewInferenceError(reason string, err error) error {
	return &InferenceError{Reason: reason, Err: err}
}

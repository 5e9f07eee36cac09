package spotify

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound marks a playlist/resource that vanished remotely. Never retried.
	ErrNotFound = errors.New("spotify: not found")

	// ErrAuthFailed marks a 401 that survived one token refresh. Terminal for
	// the run; the user must re-authenticate.
	ErrAuthFailed = errors.New("spotify: authentication failed")
)

// RateLimitError surfaces only after the retry budget is exhausted on 429s.
// RetryAfter carries the server's last requested delay, when it sent one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("spotify: rate limited (retry after %s)", e.RetryAfter)
	}
	return "spotify: rate limited"
}

// TransientError wraps network-level failures and 5xx responses that survived
// the retry budget.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("spotify: transient failure: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// APIError is any other non-retryable 4xx, carrying the server's message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify: api error %d: %s", e.Status, e.Message)
}

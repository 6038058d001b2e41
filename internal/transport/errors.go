package transport

import (
	"errors"
	"fmt"
	"time"
)

// RetryAfterError is returned by adapters when the platform asked the bot
// to back off, e.g. Telegram's 429 with retry_after.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// WithRetryAfter wraps err with a back-off hint.
func WithRetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return retryAfter{err: err, after: max(after, 0)}
}

// RetryAfter extracts the back-off hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}

type retryAfter struct {
	err   error
	after time.Duration
}

func (e retryAfter) Error() string             { return fmt.Sprintf("%v (retry after %s)", e.err, e.after) }
func (e retryAfter) Unwrap() error             { return e.err }
func (e retryAfter) RetryAfter() time.Duration { return e.after }

// Package mail delivers one rendered message through a configured channel
// and normalizes the channel's answer into an Outcome.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Outcome is the normalized result of one send attempt.
type Outcome int

const (
	Success Outcome = iota
	// RateLimited means the channel refuses further sends until an operator acts.
	RateLimited
	TransientError
	// ConfigurationError means the channel is unusable as configured.
	ConfigurationError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case TransientError:
		return "transient_error"
	case ConfigurationError:
		return "configuration_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what a Transport returns for one message. Err carries the
// channel detail for logs; it is nil on Success.
type Result struct {
	Outcome   Outcome
	Err       error
	MessageID string
}

func (r Result) OK() bool { return r.Outcome == Success }

// Transport sends a single HTML message. Implementations never panic on
// channel failures and always classify them.
type Transport interface {
	Name() string
	Send(ctx context.Context, to, subject, htmlBody string) Result
}

var ErrNotConfigured = errors.New("mail transport not configured")

func ok(id string) Result { return Result{Outcome: Success, MessageID: id} }

func fail(o Outcome, err error) Result { return Result{Outcome: o, Err: err} }

// quotaWording reports whether a channel message talks about send limits.
func quotaWording(msg string) bool {
	m := strings.ToLower(msg)
	for _, w := range []string{"limit", "quota", "too many"} {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

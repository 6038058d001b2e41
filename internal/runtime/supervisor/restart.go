package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "dispatchbot/pkg/logx"
)

// A run that lasts at least this long resets the backoff.
const stableRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max        time.Duration
	limit           int
	stopOnCleanExit bool
}

// WithRestartBackoff bounds the doubling delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. Zero means forever.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// WithStopOnCleanExit controls whether a nil return ends the loop (the
// default) or counts as a crash.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

// GoRestart keeps fn running until the context is cancelled, restarting it
// after errors and panics.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second, stopOnCleanExit: true}
	for _, opt := range opts {
		opt(&p)
	}
	p.max = max(p.max, p.min)

	s.Go(name, func(ctx context.Context) error {
		delay := p.min
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.guard(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if err == nil {
				if p.stopOnCleanExit {
					return nil
				}
				err = errors.New("exited")
			}
			if p.limit > 0 && restarts >= p.limit {
				return fmt.Errorf("gave up after %d restarts: %w", restarts, err)
			}
			if time.Since(began) >= stableRun {
				delay = p.min
			}

			wait := jitter(delay)
			s.log.Warn("goroutine restarting",
				logx.String("name", name),
				logx.Int("restart", restarts+1),
				logx.Duration("backoff", wait),
				logx.Err(err),
			)
			if !sleep(ctx, wait) {
				return nil
			}
			delay = min(delay*2, p.max)
		}
	})
}

// jitter adds up to 20% to d.
func jitter(d time.Duration) time.Duration {
	if spread := int64(d) / 5; spread > 0 {
		return d + time.Duration(rand.Int64N(spread+1))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/leads"
	"dispatchbot/internal/mail"
	logx "dispatchbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.logger(log).Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			l := req.logger(log)
			if err != nil {
				l.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
				return err
			}
			// Slow requests stay visible at INFO.
			if d >= 750*time.Millisecond {
				l.Info("request ok", logx.Duration("dur", d))
			} else {
				l.Debug("request ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}

// MWReplyError tells the operator a handler failed.
func MWReplyError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err != nil && req.adapter != nil {
				_ = req.Reply(context.WithoutCancel(ctx), "❌ "+operatorText(err))
			}
			return err
		}
	}
}

func operatorText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out, try again"
	case errors.Is(err, mail.ErrNotConfigured):
		return "no mail transport configured, check the mail section of the config"
	case errors.Is(err, dispatch.ErrStoreUnavailable), errors.Is(err, leads.ErrClosed):
		return "lead store unavailable"
	}
	return err.Error()
}

// userLimiter hands out one token bucket per user.
type userLimiter struct {
	mu    sync.Mutex
	every rate.Limit
	burst int
	users map[int64]*rate.Limiter
}

func newUserLimiter(every rate.Limit, burst int) *userLimiter {
	return &userLimiter{every: every, burst: burst, users: map[int64]*rate.Limiter{}}
}

func (u *userLimiter) allow(id int64) bool {
	u.mu.Lock()
	lim, ok := u.users[id]
	if !ok {
		lim = rate.NewLimiter(u.every, u.burst)
		u.users[id] = lim
	}
	u.mu.Unlock()
	return lim.Allow()
}

// MWThrottle rejects requests from a user who exceeds their bucket.
func MWThrottle(lim *userLimiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if lim != nil && !lim.allow(req.FromID) {
				req.logger(logx.Nop()).Debug("request throttled")
				return req.Reply(ctx, "slow down")
			}
			return next(ctx, req)
		}
	}
}

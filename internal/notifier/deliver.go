package notifier

import (
	"context"
	"math/rand/v2"
	"time"
	"unicode"
	"unicode/utf8"

	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

const sendTimeout = 10 * time.Second

func (s *Service) drain(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

// deliver sends one notice, retrying failed sends up to cfg.RetryMax times.
// Every attempt waits for a rate limiter token.
func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return
	}
	if j.n.Text == "" {
		return
	}
	text := withBadge(j.n.Priority, j.n.Text)

	var err error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 && !pause(ctx, backoff(cfg, attempt, err)) {
			return
		}
		if lim.Wait(ctx) != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err = sender.SendText(callCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil {
			s.remember(text)
			s.publish("notifier.sent", j.n, j.key, nil)
			return
		}
		s.log.Debug("notice send failed", logx.Int("attempt", attempt+1), logx.Err(err))
	}
	s.log.Warn("notice dropped", logx.String("channel", j.n.Channel), logx.Err(err))
	s.publish("notifier.failed", j.n, j.key, err)
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoff honours a platform retry hint, bounded by RetryMaxDelay, and
// falls back to retryDelay.
func backoff(cfg Config, attempt int, err error) time.Duration {
	if hint, ok := kit.RetryAfter(err); ok && hint > 0 {
		return min(hint, cfg.RetryMaxDelay)
	}
	return retryDelay(cfg, attempt)
}

// retryDelay is the wait before retry number attempt (1-based): RetryBase
// doubled per retry, jittered by ±30% and capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(d, cfg.RetryMaxDelay)
}

// withBadge prefixes the priority badge unless the text already opens
// with a pictograph of its own.
func withBadge(priority int, text string) string {
	if r, _ := utf8.DecodeRuneInString(text); unicode.Is(unicode.So, r) {
		return text
	}
	return badge(priority) + text
}

func badge(priority int) string {
	switch {
	case priority >= PriorityAlert:
		return "🚨 "
	case priority >= PriorityWarn:
		return "⚠️ "
	}
	return ""
}

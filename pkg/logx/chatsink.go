package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "dispatchbot/internal/transport"
)

const (
	chatQueueSize = 128
	chatLineLimit = 3500
	chatFieldMax  = 600
)

// chatSink is a zerolog LevelWriter that forwards lines at or above
// minLevel to the operator chat. Lines over the rate limit or beyond a
// full queue are dropped; logging never waits on Telegram.
type chatSink struct {
	sender TextSender
	queue  chan chatLine

	mu       sync.Mutex
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type chatLine struct {
	to   kit.ChatTarget
	text string
}

func newChatSink(sender TextSender) *chatSink {
	return &chatSink{
		sender:   sender,
		queue:    make(chan chatLine, chatQueueSize),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (c *chatSink) setTarget(to kit.ChatTarget) {
	c.mu.Lock()
	c.target = to
	c.mu.Unlock()
}

func (c *chatSink) configure(tc TelegramConfig) {
	rps := max(tc.RatePerSec, 1)
	c.mu.Lock()
	c.minLevel = parseLevel(tc.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
	if tc.Enabled && c.sender != nil {
		c.startOnce.Do(c.start)
	}
}

func (c *chatSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ln := <-c.queue:
				_, _ = c.sender.SendText(ctx, ln.to, ln.text, &kit.SendOptions{DisablePreview: true})
			}
		}
	}()
}

func (c *chatSink) close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to, minLevel, lim := c.target, c.minLevel, c.limiter
	c.mu.Unlock()
	if to.ChatID == 0 || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatLine(p); text != "" {
		select {
		case c.queue <- chatLine{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatLine renders a JSON log line for chat: "[LEVEL] message" followed
// by one "- key=value" line per field in key order.
func formatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), chatLineLimit)
	}
	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	delete(m, "time")
	delete(m, "level")
	delete(m, "message")
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), chatFieldMax))
	}
	return truncate(b.String(), chatLineLimit)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}

package router

import (
	"context"
	"sync"
	"time"
)

// StepFunc consumes the operator's next plain-text message.
type StepFunc func(ctx context.Context, req *Request, text string) error

type convKey struct {
	chat int64
	user int64
}

type pending struct {
	step    StepFunc
	expires time.Time
}

// Conversations tracks one pending step per (chat, user). A step is
// consumed by the next non-command message; it may register the next one.
type Conversations struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[convKey]pending
}

func NewConversations(ttl time.Duration) *Conversations {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Conversations{ttl: ttl, now: time.Now, m: map[convKey]pending{}}
}

// Expect registers step as the handler of the next message from user in chat.
func (c *Conversations) Expect(chat, user int64, step StepFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, p := range c.m {
		if now.After(p.expires) {
			delete(c.m, k)
		}
	}
	c.m[convKey{chat, user}] = pending{step: step, expires: now.Add(c.ttl)}
}

// Cancel drops the pending step and reports whether there was one.
func (c *Conversations) Cancel(chat, user int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := convKey{chat, user}
	p, ok := c.m[k]
	delete(c.m, k)
	return ok && !c.now().After(p.expires)
}

func (c *Conversations) take(chat, user int64) (StepFunc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := convKey{chat, user}
	p, ok := c.m[k]
	if !ok {
		return nil, false
	}
	delete(c.m, k)
	if c.now().After(p.expires) {
		return nil, false
	}
	return p.step, true
}

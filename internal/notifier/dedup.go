package notifier

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// dedupCache remembers recently queued notices so an identical one within
// its window is suppressed. It holds at most limit keys; when full, the key
// closest to expiry goes first.
type dedupCache struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{until: map[string]time.Time{}}
}

// admit reports whether key may go out at now, and if so suppresses it
// for window.
func (c *dedupCache) admit(key string, window time.Duration, limit int, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, seen := c.until[key]; seen && now.Before(t) {
		return false
	}
	c.until[key] = now.Add(window)
	c.expire(now)
	for limit > 0 && len(c.until) > limit {
		c.evictOldest()
	}
	return true
}

func (c *dedupCache) expire(now time.Time) {
	for k, t := range c.until {
		if !now.Before(t) {
			delete(c.until, k)
		}
	}
}

func (c *dedupCache) evictOldest() {
	var (
		victim string
		first  time.Time
	)
	for k, t := range c.until {
		if victim == "" || t.Before(first) {
			victim, first = k, t
		}
	}
	delete(c.until, victim)
}

func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}

func (c *dedupCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.until[key]
	return ok
}

// fingerprint identifies a notice for dedup. Notices without a channel are
// never deduplicated.
func fingerprint(n Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := sha1.New()
	for _, part := range []string{
		n.Channel,
		strconv.FormatInt(n.Target.ChatID, 10),
		strconv.Itoa(n.Target.ThreadID),
		strconv.Itoa(n.Priority),
		n.Text,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

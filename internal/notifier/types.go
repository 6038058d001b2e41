package notifier

import (
	"context"
	"time"

	kit "dispatchbot/internal/transport"
)

type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c Config) normalized() Config {
	c.Workers = max(c.Workers, 1)
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	c.RatePerSec = max(c.RatePerSec, 1)
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 500
	}
	return c
}

// Priority levels; higher values get a stronger prefix.
const (
	PriorityLow   = 0
	PriorityInfo  = 5
	PriorityWarn  = 7
	PriorityAlert = 9
)

type Notification struct {
	Channel  string // dedup scope, e.g. "dispatch"
	Priority int
	Target   kit.ChatTarget
	Text     string
	Options  *kit.SendOptions
}

// Sender is the part of the chat adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

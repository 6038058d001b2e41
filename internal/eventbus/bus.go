// Package eventbus fans out dispatch and notifier events to in-process
// observers. Publishing never blocks: a subscriber whose buffer is full
// misses the event and its drop count goes up.
package eventbus

import (
	"slices"
	"sync"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped totals the events lost to full subscriber buffers.
	Dropped() uint64
}

const defaultBuffer = 8

type subscriber struct {
	ch chan Event
}

type memBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped uint64
	dmu     sync.Mutex
}

// New returns an in-memory bus. It starts no goroutines.
func New() Bus { return &memBus{} }

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	var missed uint64
	b.mu.RLock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			missed++
		}
	}
	b.mu.RUnlock()
	if missed > 0 {
		b.dmu.Lock()
		b.dropped += missed
		b.dmu.Unlock()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(x *subscriber) bool { return x == s })
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsubscribe
}

func (b *memBus) Dropped() uint64 {
	b.dmu.Lock()
	defer b.dmu.Unlock()
	return b.dropped
}

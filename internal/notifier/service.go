// Package notifier delivers operator notices to Telegram asynchronously,
// with rate limiting, retries and duplicate suppression.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/runtime/supervisor"
	logx "dispatchbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyCap = 300

type job struct {
	n   Notification
	key string
}

// run is the state of one Start..Stop cycle.
type run struct {
	queue    chan job
	sup      *supervisor.Supervisor
	inflight sync.WaitGroup // Notify calls that may still enqueue
	closing  bool
	done     chan struct{}
}

// Service is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	dedup  *dedupCache

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	cur     *run

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, sender: sender, bus: bus, dedup: newDedupCache()}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits and the retry policy. Worker count and queue size
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start launches the workers. It waits for a Stop still in progress and
// does nothing when already running or disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if r := s.cur; r != nil && r.closing {
		s.mu.Unlock()
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.cur != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	r := &run{
		queue: make(chan job, s.cfg.QueueSize),
		sup:   supervisor.New(ctx, supervisor.WithLogger(s.log)),
		done:  make(chan struct{}),
	}
	s.cur = r
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := range workers {
		r.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.drain(c, r.queue)
			if c.Err() != nil || s.closing(r) {
				return context.Canceled
			}
			return errors.New("notifier worker exited")
		})
	}
}

func (s *Service) closing(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.closing
}

// Stop refuses new notices and lets the workers drain the queue. If ctx
// ends first the workers are cancelled and the rest is dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	r := s.cur
	if r == nil {
		s.mu.Unlock()
		return
	}
	first := !r.closing
	r.closing = true
	s.mu.Unlock()

	if first {
		go func() {
			r.inflight.Wait()
			close(r.queue)
			_ = r.sup.Wait(context.Background())
			s.mu.Lock()
			if s.cur == r {
				s.cur = nil
			}
			s.mu.Unlock()
			close(r.done)
		}()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.sup.Cancel()
	}
}

// Notify queues n. A suppressed duplicate returns nil.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cfg, r := s.cfg, s.cur
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case r == nil || r.closing:
		s.mu.Unlock()
		return ErrStopped
	}
	r.inflight.Add(1)
	s.mu.Unlock()
	defer r.inflight.Done()

	key := fingerprint(n)
	if cfg.DedupWindow > 0 && key != "" && !s.dedup.admit(key, cfg.DedupWindow, cfg.DedupMaxEntries, time.Now()) {
		s.publish("notifier.deduped", n, key, nil)
		return nil
	}
	select {
	case r.queue <- job{n: n, key: key}:
		s.publish("notifier.queued", n, key, nil)
		return nil
	default:
		s.publish("notifier.dropped", n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// Snapshot returns recently delivered notices, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(text string) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if extra := len(s.history) - historyCap; extra > 0 {
		s.history = append(s.history[:0], s.history[extra:]...)
	}
}

func (s *Service) publish(typ string, n Notification, key string, err error) {
	if s.bus == nil {
		return
	}
	ev := NotificationEvent{
		Channel:  n.Channel,
		ChatID:   n.Target.ChatID,
		ThreadID: n.Target.ThreadID,
		Key:      key,
		At:       time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

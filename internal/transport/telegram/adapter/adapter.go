// Package adapter connects the bot to Telegram through telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"dispatchbot/internal/runtime/supervisor"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter implements kit.Adapter and kit.CommandMenuUpdater on top of a
// long-polling telebot.Bot.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu      sync.Mutex
	out     chan<- kit.Update
	session *pollSession

	dropped atomic.Int64

	menuMu  sync.Mutex
	menuSum uint64
}

// pollSession is one Start..Stop cycle.
type pollSession struct {
	sup      *supervisor.Supervisor
	stopOnce sync.Once
	bot      *tele.Bot
}

// halt asks telebot to stop polling. bot.Stop blocks until the poller
// acknowledges, so it runs at most once and off the caller's goroutine.
func (p *pollSession) halt() {
	p.stopOnce.Do(func() { go p.bot.Stop() })
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: bot}
	bot.Handle(tele.OnText, a.onText)
	bot.Handle(tele.OnCallback, a.onCallback)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	a.forward(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:     m.ID,
		Chat:   kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID},
		FromID: m.Sender.ID,
		Text:   m.Text,
	}})
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || cb.Sender == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	m := cb.Message
	a.forward(kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID:        cb.ID,
		Chat:      kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID},
		MessageID: m.ID,
		FromID:    cb.Sender.ID,
		Data:      strings.TrimSpace(cb.Data),
	}})
	return nil
}

// forward hands up to the consumer without blocking the poller.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling and forwards updates to out until Stop or ctx
// is cancelled. Calling Start twice is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	if a.session != nil {
		a.mu.Unlock()
		return nil
	}
	ps := &pollSession{
		bot: a.bot,
		sup: supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "telegram")))),
	}
	a.session, a.out = ps, out
	a.mu.Unlock()

	ps.sup.Go0("telegram.drop_report", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})
	ps.sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		ps.halt()
	})
	// bot.Start blocks until Stop. Returning early means polling died.
	ps.sup.GoRestart("telegram.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return context.Canceled
		}
		return errors.New("telegram: poller exited")
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped", logx.Int64("count", n), logx.Int("queue_cap", capacity))
	}
}

// Stop ends polling, waiting a short grace period for the in-flight
// getUpdates call.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	ps := a.session
	a.session, a.out = nil, nil
	a.mu.Unlock()
	if ps == nil {
		return nil
	}
	ps.sup.Cancel()
	ps.halt()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := ps.sup.Wait(wctx); err != nil {
		a.log.Debug("telegram stop", logx.Err(err))
	}
	return nil
}

package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dispatchbot/internal/config"
	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/notifier"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

func TestMapPacing(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Dispatch: config.DispatchConfig{DelayMin: "1s", DelayMax: "2s", MaxPerHour: 30}}
	p, err := mapPacing(cfg)
	if err != nil {
		t.Fatal(err)
	}
	def := dispatch.DefaultPacing()
	if p.DelayMin != time.Second || p.DelayMax != 2*time.Second || p.MaxPerHour != 30 {
		t.Fatalf("pacing = %+v", p)
	}
	if p.LongPauseEvery != def.LongPauseEvery || p.Cooldown != def.Cooldown || p.MaxConsecutiveFailures != def.MaxConsecutiveFailures {
		t.Fatalf("defaults not kept: %+v", p)
	}

	bad := []config.DispatchConfig{
		{DelayMin: "soon"},
		{DelayMin: "2m", DelayMax: "1m"},
	}
	for _, d := range bad {
		if _, err := mapPacing(&config.Config{Dispatch: d}); err == nil {
			t.Fatalf("expected error for %+v", d)
		}
	}
}

func TestMapStoreConfig(t *testing.T) {
	t.Parallel()
	sc, err := mapStoreConfig(&config.Config{Store: config.StoreConfig{Driver: " SQLite ", Path: "./x.db"}})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != time.Second || sc.Timeout != 15*time.Second {
		t.Fatalf("store = %+v", sc)
	}
	if _, err := mapStoreConfig(&config.Config{Store: config.StoreConfig{Driver: "sqlite"}}); err == nil {
		t.Fatal("expected path error")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	n, err := mapNotifierConfig(&config.Config{})
	if err != nil || !n.Enabled || n.Workers != 1 {
		t.Fatalf("defaults = %+v, %v", n, err)
	}
	n, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Enabled: false, DedupWindow: "5m"}})
	if err != nil || n.Enabled || n.DedupWindow != 5*time.Minute {
		t.Fatalf("explicit = %+v, %v", n, err)
	}
}

func TestMapRewriter(t *testing.T) {
	t.Parallel()
	rw, err := mapRewriter(&config.Config{Rewrite: config.RewriteConfig{Enabled: true}}, logx.Nop())
	if err != nil || rw != nil {
		t.Fatalf("no keys: %v, %v", rw, err)
	}
	rw, err = mapRewriter(&config.Config{Rewrite: config.RewriteConfig{Enabled: true, Keys: []string{"k1"}, Tries: 2}}, logx.Nop())
	if err != nil || rw == nil {
		t.Fatalf("with keys: %v, %v", rw, err)
	}
}

func TestNoticeTarget(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Telegram: config.TelegramConfig{OwnerUserIDs: []int64{5, 6}}}
	if got := noticeTarget(cfg); got.ChatID != 5 {
		t.Fatalf("target = %+v", got)
	}
	cfg.Telegram.NoticeChatID = -100
	if got := noticeTarget(cfg); got.ChatID != -100 {
		t.Fatalf("target = %+v", got)
	}
}

type fakeNotifier struct {
	enabled bool
	err     error
	got     []notifier.Notification
}

func (f *fakeNotifier) Enabled() bool { return f.enabled }

func (f *fakeNotifier) Notify(_ context.Context, n notifier.Notification) error {
	f.got = append(f.got, n)
	return f.err
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return kit.MessageRef{}, nil
}

func TestNoticeSink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	abort := dispatch.Notice{Kind: dispatch.NoticeFailureAbort, Report: dispatch.Report{Consecutive: 5}, Err: errors.New("boom")}

	fn := &fakeNotifier{enabled: true}
	fs := &fakeSender{}
	s := &noticeSink{notif: fn, sender: fs, log: logx.Nop()}

	s.Notify(ctx, abort)
	if len(fn.got) != 0 || len(fs.texts) != 0 {
		t.Fatal("notice without target must be dropped")
	}

	s.SetTarget(kit.ChatTarget{ChatID: 9})
	s.Notify(ctx, abort)
	if len(fn.got) != 1 || len(fs.texts) != 0 {
		t.Fatalf("queued=%d direct=%d", len(fn.got), len(fs.texts))
	}
	n := fn.got[0]
	if n.Priority != notifier.PriorityAlert || n.Target.ChatID != 9 || !strings.Contains(n.Text, "boom") {
		t.Fatalf("notification = %+v", n)
	}

	// A stopped notifier falls back to a direct send.
	fn.err = notifier.ErrStopped
	s.Notify(ctx, dispatch.Notice{Kind: dispatch.NoticeRunStarted})
	if len(fs.texts) != 1 {
		t.Fatalf("direct sends = %d", len(fs.texts))
	}

	fn.enabled = false
	s.Notify(ctx, dispatch.Notice{Kind: dispatch.NoticeSummary, Report: dispatch.Report{Reason: dispatch.ReasonExhausted}})
	if len(fs.texts) != 2 {
		t.Fatalf("direct sends = %d", len(fs.texts))
	}
}

func TestNoticeSinkBackToBackRuns(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	notif := notifier.New(notifier.Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, fs, logx.Nop(), nil)
	notif.Start(context.Background())
	s := &noticeSink{notif: notif, sender: fs, log: logx.Nop()}
	s.SetTarget(kit.ChatTarget{ChatID: 9})

	ctx := context.Background()
	for _, run := range []string{"r1", "r2"} {
		rep := dispatch.Report{RunID: run, Reason: dispatch.ReasonExhausted}
		s.Notify(ctx, dispatch.Notice{Kind: dispatch.NoticeRunStarted, Report: rep})
		s.Notify(ctx, dispatch.Notice{Kind: dispatch.NoticeSummary, Report: rep})
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	notif.Stop(stopCtx)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.texts) != 4 {
		t.Fatalf("delivered %d notices, want 4: %q", len(fs.texts), fs.texts)
	}
}

func TestNoticeChannel(t *testing.T) {
	t.Parallel()
	rep := dispatch.Report{RunID: "r1"}
	if got := noticeChannel(dispatch.Notice{Kind: dispatch.NoticeSummary, Report: rep}); !strings.HasSuffix(got, ".r1") {
		t.Fatalf("summary channel = %q", got)
	}
	if got := noticeChannel(dispatch.Notice{Kind: dispatch.NoticeAlreadyRunning, Report: rep}); got != "" {
		t.Fatalf("already-running channel = %q, want none", got)
	}
}

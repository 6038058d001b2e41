package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/leads"
	"dispatchbot/internal/mail"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

const owner = 42

type fakeAdapter struct {
	mu       sync.Mutex
	texts    []string
	answered []string
	menu     []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatTarget: to, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, _ string) error {
	f.mu.Lock()
	f.answered = append(f.answered, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

// waitText blocks until a sent text contains want and returns it.
func (f *fakeAdapter) waitText(t *testing.T, want string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, s := range f.texts {
			if strings.Contains(s, want) {
				f.mu.Unlock()
				return s
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("no message containing %q; got %q", want, f.texts)
	return ""
}

type harness struct {
	ad      *fakeAdapter
	store   *leads.Memory
	session *dispatch.Session
	router  *Router
	disp    *Dispatcher
	updates chan kit.Update
}

func newHarness(t *testing.T, items ...leads.Item) *harness {
	t.Helper()
	ad := &fakeAdapter{}
	store := leads.NewMemory(items...)
	session := dispatch.NewSession(nil, dispatch.Deps{WorkerID: "w1", Store: store})
	r := New(logx.Nop(), ad, []int64{owner})
	d := &Dispatcher{Session: session, Conv: r.Conversations(), ReclaimAfter: func() time.Duration { return 0 }}
	r.Register(d.Commands(), d.Callbacks())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{ad: ad, store: store, session: session, router: r, disp: d, updates: updates}
}

func (h *harness) say(from int64, text string) {
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{Chat: kit.ChatTarget{ChatID: 7}, FromID: from, Text: text}}
}

func (h *harness) click(id, data string) {
	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: id, Chat: kit.ChatTarget{ChatID: 7}, FromID: owner, Data: data}}
}

func TestNonOwnerIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(99, "/stats")
	h.ad.waitText(t, "unauthorized")
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(owner, "/nope")
	h.ad.waitText(t, "Unknown command")
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		leads.Item{ID: "a", Email: "a@example.com"},
		leads.Item{ID: "b", Email: "b@example.com", Status: leads.StatusSent},
	)
	h.say(owner, "/stats@dispatch_bot")
	got := h.ad.waitText(t, "Recipients")
	if !strings.Contains(got, "<b>Total:</b> 2") || !strings.Contains(got, "<b>Sent:</b> 1") {
		t.Fatalf("stats = %q", got)
	}
}

func TestSetContentConversation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(owner, "/setcontent")
	h.ad.waitText(t, "Send the subject line")
	h.say(owner, "  ")
	h.ad.waitText(t, "subject cannot be empty")
	h.say(owner, "Hi {name}")
	h.ad.waitText(t, "HTML body")
	h.say(owner, "<p>Hello {name}!</p>")
	h.ad.waitText(t, "Content saved")

	tpl, ok, err := h.store.Template(context.Background())
	if err != nil || !ok {
		t.Fatalf("Template: ok=%v err=%v", ok, err)
	}
	if tpl.Subject != "Hi {name}" || tpl.BodyHTML != "<p>Hello {name}!</p>" || tpl.UpdatedAt.IsZero() {
		t.Fatalf("tpl = %+v", tpl)
	}

	h.say(owner, "/content")
	got := h.ad.waitText(t, "Current content")
	if !strings.Contains(got, "&lt;p&gt;Hello {name}!&lt;/p&gt;") {
		t.Fatalf("content = %q", got)
	}
}

func TestSetContentNamesConfiguredPlaceholder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.disp.Placeholder = func() string { return "{app_name}" }
	h.say(owner, "/setcontent")
	h.ad.waitText(t, "Send the subject line")
	h.say(owner, "Notes for\n{app_name}")
	got := h.ad.waitText(t, "HTML body")
	if !strings.Contains(got, "Use {app_name} where") {
		t.Fatalf("prompt = %q", got)
	}
	h.say(owner, "<p>Hi</p>")
	h.ad.waitText(t, "Content saved")
	tpl, _, err := h.store.Template(context.Background())
	if err != nil || tpl.Subject != "Notes for {app_name}" {
		t.Fatalf("tpl = %+v, err = %v", tpl, err)
	}
}

func TestCancelConversation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(owner, "/setcontent")
	h.ad.waitText(t, "Send the subject line")
	h.say(owner, "/cancel")
	h.ad.waitText(t, "Cancelled.")
	h.say(owner, "not a subject")
	h.say(owner, "/content")
	h.ad.waitText(t, "No content set")
}

func TestSendWithoutTransport(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(owner, "/send")
	h.ad.waitText(t, "Cannot start")
	if h.session.Running() {
		t.Fatal("session should stay idle")
	}
}

func TestReclaim(t *testing.T) {
	t.Parallel()
	h := newHarness(t, leads.Item{ID: "a", Email: "a@example.com"})
	ctx := context.Background()
	if err := h.store.Claim(ctx, "a", "old-worker"); err != nil {
		t.Fatal(err)
	}
	h.say(owner, "/reclaim soon")
	h.ad.waitText(t, "Usage: /reclaim")

	// A claim made just now is younger than the default age.
	h.say(owner, "/reclaim")
	h.ad.waitText(t, "Released 0 claims older than 1h0m0s")
}

func TestCallbackStopAndHelp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.click("cb1", "dispatch:stop")
	h.ad.waitText(t, "Nothing is running")

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.ad.mu.Lock()
		n := len(h.ad.answered)
		h.ad.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("callback not answered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.say(owner, "/help")
	got := h.ad.waitText(t, "Commands")
	for _, c := range []string{"/send", "/reclaim", "/help", "/cancel"} {
		if !strings.Contains(got, c) {
			t.Fatalf("help misses %s: %q", c, got)
		}
	}
	h.say(owner, "/help reclaim")
	h.ad.waitText(t, "/reclaim [age, e.g. 2h]")
}

func TestPublishMenu(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.router.PublishMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.ad.mu.Lock()
	defer h.ad.mu.Unlock()
	if len(h.ad.menu) != 10 || h.ad.menu[0].Command != "start" {
		t.Fatalf("menu = %+v", h.ad.menu)
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"/Send":                 "send",
		"set-content":           "set_content",
		"  a  b ":               "a_b",
		"--":                    "",
		"émoji✓ok":              "mojiok",
		strings.Repeat("x", 40): strings.Repeat("x", 32),
	}
	for in, want := range tests {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestThrottle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.router.throttle = newUserLimiter(0, 1)
	h.say(owner, "/stats")
	h.ad.waitText(t, "Recipients")
	h.say(owner, "/stats")
	h.ad.waitText(t, "slow down")
}

func TestOperatorText(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timed out"},
		{fmt.Errorf("send: %w", mail.ErrNotConfigured), "no mail transport"},
		{leads.ErrClosed, "lead store unavailable"},
		{errors.New("boom"), "boom"},
	}
	for _, tc := range cases {
		if got := operatorText(tc.err); !strings.Contains(got, tc.want) {
			t.Fatalf("operatorText(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"dispatchbot/internal/config"
	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/leads"
	"dispatchbot/internal/render"
	"dispatchbot/pkg/tgui"
)

const callbackPrefix = "dispatch"

// DefaultReclaimAge is used by /reclaim without an argument when no
// reclaim_after is configured.
const DefaultReclaimAge = time.Hour

// Dispatcher exposes the dispatch session to the operator.
type Dispatcher struct {
	Session *dispatch.Session
	// Sink receives run notices (first success, checkpoints, summary).
	Sink dispatch.Sink
	Conv *Conversations
	// ReclaimAfter returns the current default age for /reclaim.
	ReclaimAfter func() time.Duration
	// Placeholder returns the token replaced by each recipient's name.
	Placeholder func() string
	// Runtime, when set, adds process details to /status.
	Runtime func() []tgui.H
	Now     func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) placeholder() string {
	if d.Placeholder != nil {
		if p := strings.TrimSpace(d.Placeholder()); p != "" {
			return p
		}
	}
	return render.DefaultToken
}

func (d *Dispatcher) Commands() []Command {
	return []Command{
		{Name: "start", Aliases: []string{"menu"}, Description: "show the control menu", Handle: d.menu},
		{Name: "send", Description: "start sending", Timeout: 30 * time.Second, Handle: d.start},
		{Name: "stop", Description: "stop after the current message", Handle: d.stop},
		{Name: "status", Description: "current run and last result", Handle: d.status},
		{Name: "stats", Description: "recipient counts", Timeout: 30 * time.Second, Handle: d.stats},
		{Name: "content", Description: "show the message template", Timeout: 30 * time.Second, Handle: d.content},
		{Name: "setcontent", Description: "set subject and body", Handle: d.setContent},
		{
			Name:        "reclaim",
			Description: "release stale claims",
			Usage:       "/reclaim [age, e.g. 2h]",
			Timeout:     time.Minute,
			Handle:      d.reclaim,
		},
	}
}

func (d *Dispatcher) Callbacks() []CallbackRoute {
	wrap := func(h HandlerFunc) CallbackHandlerFunc {
		return func(ctx context.Context, req *Request, _ string) error { return h(ctx, req) }
	}
	return []CallbackRoute{
		{Prefix: callbackPrefix, Action: "start", Timeout: 30 * time.Second, Handle: wrap(d.start)},
		{Prefix: callbackPrefix, Action: "stop", Handle: wrap(d.stop)},
		{Prefix: callbackPrefix, Action: "stats", Timeout: 30 * time.Second, Handle: wrap(d.stats)},
		{Prefix: callbackPrefix, Action: "content", Timeout: 30 * time.Second, Handle: wrap(d.content)},
		{Prefix: callbackPrefix, Action: "setcontent", Handle: wrap(d.setContent)},
	}
}

func menuKeyboard() *tgui.Keyboard {
	data := func(action string) string { return tgui.MustData(callbackPrefix, action, "") }
	return tgui.NewKeyboard().
		Row(tgui.Button("🚀 Start sending", data("start")), tgui.Button("⛔ Stop", data("stop"))).
		Row(tgui.Button("📊 Statistics", data("stats")), tgui.Button("📝 Content", data("content"))).
		Row(tgui.Button("✏️ Set content", data("setcontent")))
}

func (d *Dispatcher) menu(ctx context.Context, req *Request) error {
	return req.ReplyHTML(ctx, tgui.Lines(
		tgui.B("Dispatch control"),
		tgui.Esc("State: "+d.Session.Status().State.String()),
	), menuKeyboard())
}

func (d *Dispatcher) start(ctx context.Context, req *Request) error {
	_, err := d.Session.Start(ctx, d.Sink)
	switch {
	case err == nil:
		// Started and AlreadyRunning both produce a notice through the sink.
		return nil
	case errors.Is(err, dispatch.ErrConfigurationMissing):
		return req.Reply(ctx, "⚙️ Cannot start: "+err.Error()+". Use /setcontent and check the mail settings.")
	case errors.Is(err, dispatch.ErrStoreUnavailable):
		return req.Reply(ctx, "🗄️ Cannot start: the recipient store is unavailable.")
	default:
		return err
	}
}

func (d *Dispatcher) stop(ctx context.Context, req *Request) error {
	if d.Session.Stop() {
		return req.Reply(ctx, "⛔ Stopping after the current message.")
	}
	return req.Reply(ctx, "Nothing is running.")
}

func (d *Dispatcher) status(ctx context.Context, req *Request) error {
	st := d.Session.Status()
	lines := []tgui.H{
		tgui.B("Dispatch status"),
		tgui.KV("State", st.State.String()),
		tgui.KV("Worker", st.WorkerID),
	}
	if st.State != dispatch.StateIdle {
		c := st.Current
		lines = append(lines,
			tgui.KV("Started", humanize.Time(c.StartedAt)),
			tgui.KV("Sent", humanize.Comma(int64(c.Sent))),
			tgui.KV("Failed", humanize.Comma(int64(c.Failed))),
		)
		if c.LastEmail != "" {
			lines = append(lines, tgui.KV("Last", c.LastEmail))
		}
	}
	if st.HasLast {
		l := st.Last
		lines = append(lines,
			tgui.I("Last run"),
			tgui.KV("Finished", humanize.Time(l.FinishedAt)),
			tgui.KV("Result", string(l.Reason)),
			tgui.KV("Sent / failed", fmt.Sprintf("%s / %s", humanize.Comma(int64(l.Sent)), humanize.Comma(int64(l.Failed)))),
		)
	}
	if d.Runtime != nil {
		lines = append(lines, d.Runtime()...)
	}
	return req.ReplyHTML(ctx, tgui.Lines(lines...), nil)
}

func (d *Dispatcher) stats(ctx context.Context, req *Request) error {
	c, err := d.Session.Store().Counts(ctx)
	if err != nil {
		return fmt.Errorf("read counts: %w", err)
	}
	return req.ReplyHTML(ctx, statsText(c), nil)
}

func statsText(c leads.Counts) tgui.H {
	return tgui.Lines(
		tgui.B("📊 Recipients"),
		tgui.KV("Total", humanize.Comma(int64(c.Total))),
		tgui.KV("Sent", humanize.Comma(int64(c.Sent))),
		tgui.KV("Pending", humanize.Comma(int64(c.Unclaimed))),
		tgui.KV("In progress", humanize.Comma(int64(c.Claimed))),
	)
}

func (d *Dispatcher) content(ctx context.Context, req *Request) error {
	tpl, ok, err := d.Session.Store().Template(ctx)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	if !ok || tpl.Empty() {
		return req.Reply(ctx, "No content set. Use /setcontent.")
	}
	lines := []tgui.H{
		tgui.B("📝 Current content"),
		tgui.KV("Subject", tpl.Subject),
		tgui.Pre(tgui.TruncRunes(tpl.BodyHTML, 3000)),
	}
	if !tpl.UpdatedAt.IsZero() {
		lines = append(lines, tgui.I("updated "+humanize.Time(tpl.UpdatedAt)))
	}
	return req.ReplyHTML(ctx, tgui.Lines(lines...), nil)
}

func (d *Dispatcher) setContent(ctx context.Context, req *Request) error {
	if d.Session.Running() {
		return req.Reply(ctx, "Stop the current run before changing the content.")
	}
	chat, user := req.Chat.ChatID, req.FromID
	var askSubject StepFunc
	askSubject = func(ctx context.Context, req *Request, subject string) error {
		subject = strings.Join(strings.Fields(subject), " ")
		if subject == "" {
			d.Conv.Expect(chat, user, askSubject)
			return req.Reply(ctx, "The subject cannot be empty. Send it again or /cancel.")
		}
		d.Conv.Expect(chat, user, func(ctx context.Context, req *Request, body string) error {
			if strings.TrimSpace(body) == "" {
				return req.Reply(ctx, "The body cannot be empty. Start again with /setcontent.")
			}
			tpl := leads.Template{Subject: subject, BodyHTML: body, UpdatedAt: d.now()}
			if err := d.Session.Store().SetTemplate(ctx, tpl); err != nil {
				return fmt.Errorf("save template: %w", err)
			}
			return req.Reply(ctx, "✅ Content saved.")
		})
		return req.Reply(ctx, "Now send the HTML body. Use "+d.placeholder()+" where the recipient's name goes.")
	}
	d.Conv.Expect(chat, user, askSubject)
	return req.Reply(ctx, "Send the subject line. /cancel to abort.")
}

func (d *Dispatcher) reclaim(ctx context.Context, req *Request) error {
	age := DefaultReclaimAge
	if d.ReclaimAfter != nil {
		if a := d.ReclaimAfter(); a > 0 {
			age = a
		}
	}
	if len(req.Args) > 0 {
		a, err := config.ParseDurationField("age", req.Args[0])
		if err != nil {
			return req.Reply(ctx, "Usage: /reclaim [age], e.g. /reclaim 2h")
		}
		if a <= 0 {
			return req.Reply(ctx, "The age must be positive.")
		}
		age = a
	}
	n, err := d.Session.Store().ReclaimStale(ctx, d.now().Add(-age))
	if err != nil {
		return fmt.Errorf("reclaim: %w", err)
	}
	return req.Reply(ctx, fmt.Sprintf("♻️ Released %s claims older than %s.", humanize.Comma(int64(n)), age))
}

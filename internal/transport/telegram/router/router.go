// Package router turns Telegram updates into owner-only command, callback
// and conversation handlers.
package router

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatchbot/internal/runtime/supervisor"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
	"dispatchbot/pkg/tgui"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // 0 means no extra deadline
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles callback data "prefix:action[:payload]".
type CallbackRoute struct {
	Prefix  string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Text is the raw message text (conversation replies, command tails).
	Text    string
	Payload string
	ReqID   string
	Logger  logx.Logger

	adapter kit.Adapter
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Reply sends plain text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends HTML with an optional inline keyboard.
func (r *Request) ReplyHTML(ctx context.Context, text tgui.H, kb *tgui.Keyboard) error {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if kb != nil {
		opt.Markup = kb.Markup()
	}
	_, err := r.adapter.SendText(ctx, r.Chat, text.String(), opt)
	return err
}

// Router routes updates from owners to handlers on a small worker pool.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	conv    *Conversations

	mu        sync.RWMutex
	owners    []int64
	cmds      map[string]*Command
	list      []Command
	callbacks map[string]CallbackRoute // prefix:action

	workers  int
	jobs     chan func()
	throttle *userLimiter
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:       log,
		adapter:   adapter,
		conv:      NewConversations(10 * time.Minute),
		owners:    slices.Clone(owners),
		cmds:      map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		workers:   2,
		jobs:      make(chan func(), 64),
		throttle:  newUserLimiter(2, 10),
	}
}

// Conversations returns the pending-reply registry shared with handlers.
func (r *Router) Conversations() *Conversations { return r.conv }

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// Register replaces the command and callback tables. /help and /cancel are
// always added.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds,
		Command{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "list commands",
			Usage:       "/help [command]",
			Handle: func(ctx context.Context, req *Request) error {
				return req.ReplyHTML(ctx, r.helpText(req.Args), nil)
			},
		},
		Command{
			Name:        "cancel",
			Description: "abort the current conversation",
			Handle: func(ctx context.Context, req *Request) error {
				if r.conv.Cancel(req.Chat.ChatID, req.FromID) {
					return req.Reply(ctx, "Cancelled.")
				}
				return req.Reply(ctx, "Nothing to cancel.")
			},
		},
	)

	table := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cc := c
		list = append(list, cc)
		table[name] = &cc
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = &cc
				}
			}
		}
	}
	cb := map[string]CallbackRoute{}
	for _, rt := range cbs {
		if rt.Prefix == "" || rt.Action == "" || rt.Handle == nil {
			continue
		}
		cb[rt.Prefix+":"+rt.Action] = rt
	}

	r.mu.Lock()
	r.cmds = table
	r.list = list
	r.callbacks = cb
	r.mu.Unlock()
}

// PublishMenu pushes the command list to the chat client's menu.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := menuCommands(r.list)
	r.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("router started", logx.Int("workers", r.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route handles one update. Handlers run on the worker pool started by Run.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) enqueue(fn func()) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, cmd string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: cmd,
		ReqID:   rid,
		adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("kind", up.Kind.String()),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", cmd),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := msg.Chat
	if !r.isOwner(msg.FromID) {
		r.log.Debug("ignored message from non-owner", logx.Int64("from_id", msg.FromID))
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		step, ok := r.conv.take(chat.ChatID, msg.FromID)
		if !ok {
			return
		}
		req := r.newRequest(up, chat, msg.FromID, "reply")
		req.Text = msg.Text
		r.dispatch(ctx, req, 0, func(c context.Context, q *Request) error { return step(c, q, q.Text) })
		return
	}

	fields := strings.Fields(text)
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	r.mu.RLock()
	cmd, ok := r.cmds[strings.ToLower(word)]
	r.mu.RUnlock()
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}
	// A new command abandons any pending conversation step.
	if cmd.Name != "cancel" {
		r.conv.Cancel(chat.ChatID, msg.FromID)
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Name)
	req.Args = fields[1:]
	req.Text = strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
	r.dispatch(ctx, req, cmd.Timeout, cmd.Handle)
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	if !r.isOwner(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}
	prefix, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		return
	}
	r.mu.RLock()
	route, ok := r.callbacks[prefix+":"+action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	r.conv.Cancel(cb.Chat.ChatID, cb.FromID)

	req := r.newRequest(up, cb.Chat, cb.FromID, "cb:"+prefix+":"+action)
	req.Payload = payload
	h := func(c context.Context, q *Request) error { return route.Handle(c, q, payload) }
	final := r.chain(h, route.Timeout)
	if !r.enqueue(func() {
		_ = final(ctx, req)
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

func (r *Router) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWThrottle(r.throttle),
		MWReplyError(),
		MWTimeout(timeout),
	)
}

func (r *Router) dispatch(ctx context.Context, req *Request, timeout time.Duration, h HandlerFunc) {
	final := r.chain(h, timeout)
	if !r.enqueue(func() { _ = final(ctx, req) }) {
		_ = req.Reply(ctx, "busy, try again")
	}
}

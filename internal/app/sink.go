package app

import (
	"context"
	"errors"
	"sync"

	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/notifier"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

type noticeNotifier interface {
	Enabled() bool
	Notify(ctx context.Context, n notifier.Notification) error
}

// noticeSink delivers run notices to the operator chat. It goes through
// the notifier when enabled and sends directly otherwise. Delivery is best
// effort: failures are logged, never returned to the worker.
type noticeSink struct {
	notif  noticeNotifier
	sender notifier.Sender
	log    logx.Logger

	mu     sync.RWMutex
	target kit.ChatTarget
}

var _ dispatch.Sink = (*noticeSink)(nil)

func (s *noticeSink) SetTarget(to kit.ChatTarget) {
	s.mu.Lock()
	s.target = to
	s.mu.Unlock()
}

func (s *noticeSink) Notify(ctx context.Context, n dispatch.Notice) {
	s.mu.RLock()
	to := s.target
	s.mu.RUnlock()
	if to.ChatID == 0 {
		s.log.Warn("notice dropped: no target chat", logx.String("kind", n.Kind.String()))
		return
	}
	text := n.Text()

	if s.notif != nil && s.notif.Enabled() {
		err := s.notif.Notify(ctx, notifier.Notification{
			Channel:  noticeChannel(n),
			Priority: noticePriority(n.Kind),
			Target:   to,
			Text:     text,
		})
		if err == nil {
			return
		}
		if !errors.Is(err, notifier.ErrStopped) && !errors.Is(err, notifier.ErrDisabled) {
			s.log.Warn("notice not queued", logx.String("kind", n.Kind.String()), logx.Err(err))
			return
		}
	}
	if s.sender == nil {
		return
	}
	if _, err := s.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		s.log.Warn("notice send failed", logx.String("kind", n.Kind.String()), logx.Err(err))
	}
}

// noticeChannel scopes notifier dedup to one run, so a later run always
// gets its own started and summary notices. Replies to a repeated start
// are never deduplicated.
func noticeChannel(n dispatch.Notice) string {
	if n.Kind == dispatch.NoticeAlreadyRunning || n.Report.RunID == "" {
		return ""
	}
	return "dispatch." + n.Kind.String() + "." + n.Report.RunID
}

func noticePriority(k dispatch.NoticeKind) int {
	switch k {
	case dispatch.NoticeRateLimited, dispatch.NoticeFailureAbort:
		return notifier.PriorityAlert
	case dispatch.NoticeTransportConfig:
		return notifier.PriorityWarn
	case dispatch.NoticeAlreadyRunning:
		return notifier.PriorityLow
	default:
		return notifier.PriorityInfo
	}
}

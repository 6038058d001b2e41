package dispatch

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConfigurationMissing: no template or no usable transport.
	ErrConfigurationMissing = errors.New("dispatch: configuration missing")
	ErrStoreUnavailable     = errors.New("dispatch: store unavailable")
	ErrChannelExhausted     = errors.New("dispatch: channel rate limited")
	ErrTooManyFailures      = errors.New("dispatch: too many consecutive failures")
)

type State int

const (
	StateIdle State = iota
	StateRunning
	// StateDraining: the loop has ended on its own and the run is being reported.
	StateDraining
	// StateStopping: a stop was requested and the worker has not noticed it yet.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// StopReason says why a run ended.
type StopReason string

const (
	ReasonExhausted        StopReason = "exhausted"
	ReasonStopped          StopReason = "stopped"
	ReasonRateLimited      StopReason = "rate_limited"
	ReasonTooManyFailures  StopReason = "too_many_failures"
	ReasonStoreUnavailable StopReason = "store_unavailable"
	ReasonConfigMissing    StopReason = "configuration_missing"
)

// Report holds the counters of one run. Counters reset on every run.
type Report struct {
	RunID      string
	WorkerID   string
	StartedAt  time.Time
	FinishedAt time.Time

	Sent        int
	Failed      int
	Consecutive int
	LastEmail   string

	Reason StopReason
	Err    error
}

func (r Report) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := r.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.StartedAt)
}

type NoticeKind int

const (
	NoticeRunStarted NoticeKind = iota
	NoticeAlreadyRunning
	NoticeFirstSuccess
	NoticeCheckpoint
	NoticeRateLimited
	NoticeTransportConfig
	NoticeFailureAbort
	NoticeSummary
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeRunStarted:
		return "run_started"
	case NoticeAlreadyRunning:
		return "already_running"
	case NoticeFirstSuccess:
		return "first_success"
	case NoticeCheckpoint:
		return "checkpoint"
	case NoticeRateLimited:
		return "rate_limited"
	case NoticeTransportConfig:
		return "transport_config"
	case NoticeFailureAbort:
		return "failure_abort"
	case NoticeSummary:
		return "summary"
	default:
		return "unknown"
	}
}

// Notice is a human-facing progress message. Report is a snapshot taken
// when the notice was raised.
type Notice struct {
	Kind   NoticeKind
	Report Report
	Email  string
	Pause  time.Duration
	Err    error
}

// Sink receives notices. Delivery is best-effort and must not block.
type Sink interface {
	Notify(ctx context.Context, n Notice)
}

type SinkFunc func(ctx context.Context, n Notice)

func (f SinkFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

type nopSink struct{}

func (nopSink) Notify(context.Context, Notice) {}

// Rewriter is the optional content variation step.
type Rewriter interface {
	Rewrite(ctx context.Context, subject, body string) (string, string)
}

// Event types published on the bus.
const (
	EventRunStarted  = "dispatch.run.started"
	EventItemSent    = "dispatch.item.sent"
	EventItemFailed  = "dispatch.item.failed"
	EventRunFinished = "dispatch.run.finished"
)

// ItemEvent is the Data of EventItemSent and EventItemFailed.
type ItemEvent struct {
	RunID   string
	ItemID  string
	Email   string
	Outcome string
	Err     error
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/leads"
	"dispatchbot/internal/mail"
	"dispatchbot/internal/render"
	logx "dispatchbot/pkg/logx"
)

// Worker runs the claim, render, rewrite, send, record, wait loop for one run.
type Worker struct {
	ID        string
	Store     leads.Store
	Transport mail.Transport
	Rewriter  Rewriter
	Render    render.Options
	Pacing    Pacing
	Bus       eventbus.Bus
	Log       logx.Logger

	// Sleep and Now default to real time.
	Sleep Sleeper
	Now   func() time.Time
	Seed  uint64

	// OnProgress receives a snapshot after every processed item.
	OnProgress func(Report)
}

// Run processes items until the list is exhausted, stop is closed, or a
// fatal condition ends the run. Sends and store writes use ctx, so a stop
// never interrupts an in-flight send. Exactly one NoticeSummary is emitted.
func (w *Worker) Run(ctx context.Context, runID string, stop <-chan struct{}, sink Sink) Report {
	if sink == nil {
		sink = nopSink{}
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	sleepFn := w.Sleep
	if sleepFn == nil {
		sleepFn = sleep
	}
	log := w.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("run", runID))

	rep := Report{RunID: runID, WorkerID: w.ID, StartedAt: now()}
	finish := func(reason StopReason, err error) Report {
		rep.Reason = reason
		rep.Err = err
		rep.FinishedAt = now()
		w.progress(rep)
		sink.Notify(ctx, Notice{Kind: NoticeSummary, Report: rep, Err: err})
		w.publish(EventRunFinished, rep)
		log.Info("dispatch run finished",
			logx.String("reason", string(reason)),
			logx.Int("sent", rep.Sent),
			logx.Int("failed", rep.Failed),
			logx.Duration("took", rep.Duration()),
			logx.Err(err),
		)
		return rep
	}

	tpl, ok, err := w.Store.Template(ctx)
	if err != nil {
		return finish(ReasonStoreUnavailable, fmt.Errorf("%w: template: %w", ErrStoreUnavailable, err))
	}
	if !ok || tpl.Empty() {
		return finish(ReasonConfigMissing, fmt.Errorf("%w: no message template", ErrConfigurationMissing))
	}
	if w.Transport == nil {
		return finish(ReasonConfigMissing, fmt.Errorf("%w: no mail transport", ErrConfigurationMissing))
	}

	pc := newPacer(w.Pacing, w.Seed)
	pc.start(now())
	configNoticeSent := false
	// Items released or lost in this run are not picked again until the
	// next run, so one bad recipient cannot starve the rest of the list.
	passed := map[string]bool{}
	skip := func(id string) bool { return passed[id] }

	log.Info("dispatch run started", logx.String("worker", w.ID), logx.String("transport", w.Transport.Name()))
	sink.Notify(ctx, Notice{Kind: NoticeRunStarted, Report: rep})
	w.publish(EventRunStarted, rep)

	for {
		select {
		case <-stop:
			return finish(ReasonStopped, nil)
		default:
		}
		if ctx.Err() != nil {
			return finish(ReasonStopped, ctx.Err())
		}

		it, ok, err := w.Store.NextCandidate(ctx, skip)
		if err != nil {
			return finish(ReasonStoreUnavailable, fmt.Errorf("%w: next: %w", ErrStoreUnavailable, err))
		}
		if !ok {
			return finish(ReasonExhausted, nil)
		}

		if err := w.Store.Claim(ctx, it.ID, w.ID); err != nil {
			if errors.Is(err, leads.ErrClaimLost) || errors.Is(err, leads.ErrNotFound) {
				passed[it.ID] = true
				log.Debug("claim skipped", logx.String("item", it.ID), logx.Err(err))
				continue
			}
			return finish(ReasonStoreUnavailable, fmt.Errorf("%w: claim %s: %w", ErrStoreUnavailable, it.ID, err))
		}

		subject, body := render.Render(tpl.Subject, tpl.BodyHTML, it.DisplayName, w.Render)
		if w.Rewriter != nil {
			subject, body = w.Rewriter.Rewrite(ctx, subject, body)
		}

		res := w.Transport.Send(ctx, it.Email, subject, body)
		rep.LastEmail = it.Email

		switch res.Outcome {
		case mail.Success:
			if err := w.Store.MarkSent(ctx, it.ID, w.ID, now()); err != nil {
				return finish(ReasonStoreUnavailable, fmt.Errorf("%w: mark sent %s: %w", ErrStoreUnavailable, it.ID, err))
			}
			rep.Sent++
			rep.Consecutive = 0
			w.progress(rep)
			w.publishItem(EventItemSent, runID, it, res)
			log.Info("sent", logx.String("item", it.ID), logx.Addr("to", it.Email), logx.String("message_id", res.MessageID))

			pause, long := pc.afterSuccess(rep.Sent, now())
			if rep.Sent == 1 {
				sink.Notify(ctx, Notice{Kind: NoticeFirstSuccess, Report: rep, Email: it.Email})
			}
			if long {
				sink.Notify(ctx, Notice{Kind: NoticeCheckpoint, Report: rep, Pause: pause})
			}
			log.Debug("pacing", logx.Duration("wait", pause), logx.Bool("long", long))
			sleepFn(ctx, stop, pause)

		case mail.RateLimited:
			// The item stays claimed: the channel refused it and an operator
			// has to act before anyone retries it.
			w.publishItem(EventItemFailed, runID, it, res)
			log.Warn("channel rate limited", logx.String("item", it.ID), logx.Err(res.Err))
			sink.Notify(ctx, Notice{Kind: NoticeRateLimited, Report: rep, Email: it.Email, Err: res.Err})
			return finish(ReasonRateLimited, wrap(ErrChannelExhausted, res.Err))

		default:
			if err := w.Store.Release(ctx, it.ID); err != nil {
				return finish(ReasonStoreUnavailable, fmt.Errorf("%w: release %s: %w", ErrStoreUnavailable, it.ID, err))
			}
			passed[it.ID] = true
			rep.Failed++
			rep.Consecutive++
			w.progress(rep)
			w.publishItem(EventItemFailed, runID, it, res)
			log.Warn("send failed",
				logx.String("item", it.ID),
				logx.String("outcome", res.Outcome.String()),
				logx.Int("consecutive", rep.Consecutive),
				logx.Err(res.Err),
			)
			if res.Outcome == mail.ConfigurationError && !configNoticeSent {
				configNoticeSent = true
				sink.Notify(ctx, Notice{Kind: NoticeTransportConfig, Report: rep, Err: res.Err})
			}
			if rep.Consecutive >= w.Pacing.MaxConsecutiveFailures {
				sink.Notify(ctx, Notice{Kind: NoticeFailureAbort, Report: rep, Err: res.Err})
				return finish(ReasonTooManyFailures, wrap(ErrTooManyFailures, res.Err))
			}
			sleepFn(ctx, stop, w.Pacing.Cooldown)
		}
	}
}

func (w *Worker) progress(rep Report) {
	if w.OnProgress != nil {
		w.OnProgress(rep)
	}
}

func (w *Worker) publish(typ string, rep Report) {
	if w.Bus != nil {
		w.Bus.Publish(eventbus.Event{Type: typ, Data: rep})
	}
}

func (w *Worker) publishItem(typ, runID string, it leads.Item, res mail.Result) {
	if w.Bus == nil {
		return
	}
	w.Bus.Publish(eventbus.Event{Type: typ, Data: ItemEvent{
		RunID:   runID,
		ItemID:  it.ID,
		Email:   it.Email,
		Outcome: res.Outcome.String(),
		Err:     res.Err,
	}})
}

func wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

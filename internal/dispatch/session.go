package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/leads"
	"dispatchbot/internal/mail"
	"dispatchbot/internal/render"
	"dispatchbot/internal/runtime/supervisor"
	logx "dispatchbot/pkg/logx"
)

// Deps are the collaborators of a Session.
type Deps struct {
	WorkerID  string
	Store     leads.Store
	Transport mail.Transport
	Rewriter  Rewriter
	Render    render.Options
	Pacing    Pacing
	Bus       eventbus.Bus
	Log       logx.Logger

	// Sleep overrides real-time waits (tests).
	Sleep Sleeper
}

// Status is a point-in-time view of the session.
type Status struct {
	State    State
	WorkerID string
	Current  Report // zero when idle
	Last     Report // last finished run
	HasLast  bool
}

// Session owns the one-run-at-a-time rule. It is safe for concurrent use.
type Session struct {
	sup *supervisor.Supervisor

	mu      sync.Mutex
	deps    Deps
	state   State
	stop    chan struct{}
	done    chan struct{}
	current Report
	last    Report
	hasLast bool
	runs    uint64
}

// NewSession returns an idle session. Runs are started on sup; a nil sup
// runs them on plain goroutines.
func NewSession(sup *supervisor.Supervisor, deps Deps) *Session {
	if deps.WorkerID == "" {
		deps.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Pacing == (Pacing{}) {
		deps.Pacing = DefaultPacing()
	}
	return &Session{sup: sup, deps: deps}
}

// Start begins a run unless one is active. started is false with a nil
// error when a run is already active; the sink gets NoticeAlreadyRunning.
func (s *Session) Start(ctx context.Context, sink Sink) (bool, error) {
	if sink == nil {
		sink = nopSink{}
	}

	s.mu.Lock()
	if s.state != StateIdle {
		cur := s.current
		s.mu.Unlock()
		sink.Notify(ctx, Notice{Kind: NoticeAlreadyRunning, Report: cur})
		return false, nil
	}
	deps := s.deps
	s.mu.Unlock()

	if !mail.Configured(deps.Transport) {
		return false, fmt.Errorf("%w: mail transport is not configured", ErrConfigurationMissing)
	}
	tpl, ok, err := deps.Store.Template(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !ok || tpl.Empty() {
		return false, fmt.Errorf("%w: message template is empty", ErrConfigurationMissing)
	}

	s.mu.Lock()
	// Re-check: another Start may have won while the template was read.
	if s.state != StateIdle {
		cur := s.current
		s.mu.Unlock()
		sink.Notify(ctx, Notice{Kind: NoticeAlreadyRunning, Report: cur})
		return false, nil
	}
	s.runs++
	runID := uuid.NewString()
	stop := make(chan struct{})
	done := make(chan struct{})
	s.state = StateRunning
	s.stop = stop
	s.done = done
	s.current = Report{RunID: runID, WorkerID: deps.WorkerID, StartedAt: time.Now()}
	seed := uint64(time.Now().UnixNano()) ^ s.runs
	s.mu.Unlock()

	w := &Worker{
		ID:         deps.WorkerID,
		Store:      deps.Store,
		Transport:  deps.Transport,
		Rewriter:   deps.Rewriter,
		Render:     deps.Render,
		Pacing:     deps.Pacing,
		Bus:        deps.Bus,
		Log:        deps.Log,
		Sleep:      deps.Sleep,
		Seed:       seed,
		OnProgress: s.onProgress,
	}

	run := func(runCtx context.Context) {
		defer close(done)
		rep := w.Run(runCtx, runID, stop, sink)
		s.mu.Lock()
		s.last = rep
		s.hasLast = true
		s.current = Report{}
		s.state = StateIdle
		s.stop = nil
		s.mu.Unlock()
	}
	if s.sup != nil {
		s.sup.Go0("dispatch.run", run)
	} else {
		go run(context.WithoutCancel(ctx))
	}
	return true, nil
}

// Stop asks the active run to end at its next loop check. It reports
// whether a stop was issued.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.stop == nil {
		return false
	}
	close(s.stop)
	s.state = StateStopping
	return true
}

// Wait blocks until the active run (if any) has finished.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:    s.state,
		WorkerID: s.deps.WorkerID,
		Current:  s.current,
		Last:     s.last,
		HasLast:  s.hasLast,
	}
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle
}

// Apply replaces the pacing used by the next run.
func (s *Session) Apply(p Pacing) {
	s.mu.Lock()
	s.deps.Pacing = p
	s.mu.Unlock()
}

// SetTransport replaces the transport used by the next run.
func (s *Session) SetTransport(t mail.Transport) {
	s.mu.Lock()
	s.deps.Transport = t
	s.mu.Unlock()
}

func (s *Session) SetRewriter(r Rewriter) {
	s.mu.Lock()
	s.deps.Rewriter = r
	s.mu.Unlock()
}

func (s *Session) SetRender(opt render.Options) {
	s.mu.Lock()
	s.deps.Render = opt
	s.mu.Unlock()
}

// Store returns the work list the session dispatches from.
func (s *Session) Store() leads.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Store
}

func (s *Session) onProgress(rep Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	if rep.Reason != "" && s.state == StateRunning {
		s.state = StateDraining
	}
	rep.FinishedAt = time.Time{}
	s.current = rep
}

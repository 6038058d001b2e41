// Package scheduler runs the optional timed jobs of the bot (automatic run
// start, stale claim reclaim) on cron specs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "dispatchbot/pkg/logx"
)

const historyCap = 50

// Job is one named cron entry. A job still running when its next tick
// fires is skipped.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type Entry struct {
	Name string
	Spec string
	Next time.Time
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location
	c      *cron.Cron
	ctx    context.Context
	jobs   []Job
	ids    map[string]cron.EntryID

	hmu     sync.Mutex
	history []HistoryItem
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    time.Local,
		ids:    map[string]cron.EntryID{},
	}
}

// Parse validates a spec with the parser the service uses.
func (s *Service) Parse(spec string) error {
	_, err := s.parser.Parse(spec)
	return err
}

// Apply replaces every job and the timezone. Jobs with an empty spec are
// ignored. It is safe to call before or after Start.
func (s *Service) Apply(tz string, jobs []Job) error {
	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler: timezone %q: %w", tz, err)
		}
		loc = l
	}
	keep := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if strings.TrimSpace(j.Spec) == "" || j.Run == nil {
			continue
		}
		if err := s.Parse(j.Spec); err != nil {
			return fmt.Errorf("scheduler: %s: %w", j.Name, err)
		}
		keep = append(keep, j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loc = loc
	s.jobs = keep
	if s.c != nil {
		return s.restartLocked()
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.restartLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ids = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.c.Entry(s.ids[j.Name])
		out = append(out, Entry{Name: j.Name, Spec: j.Spec, Next: e.Next})
	}
	return out
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) restartLocked() error {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	cl := cronLogger{log: s.log.With(logx.String("comp", "scheduler"))}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ids = map[string]cron.EntryID{}
	var errs []error
	for _, j := range s.jobs {
		id, err := s.c.AddJob(j.Spec, cron.FuncJob(s.wrap(s.ctx, j)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
			continue
		}
		s.ids[j.Name] = id
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.ids)), logx.String("tz", s.loc.String()))
	return errors.Join(errs...)
}

func (s *Service) wrap(parent context.Context, j Job) func() {
	if parent == nil {
		parent = context.Background()
	}
	return func() {
		ctx := parent
		if j.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		s.runOnce(ctx, j)
	}
}

// RunNow executes a job by name outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var (
		job   Job
		found bool
	)
	for _, j := range s.jobs {
		if j.Name == name {
			job, found = j, true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("scheduler: no job %q", name)
	}
	return s.runOnce(ctx, job)
}

func (s *Service) runOnce(ctx context.Context, j Job) error {
	start := time.Now()
	err := j.Run(ctx)
	item := HistoryItem{Name: j.Name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("scheduled job failed", logx.String("job", j.Name), logx.Err(err))
	} else {
		s.log.Debug("scheduled job done", logx.String("job", j.Name), logx.Duration("took", item.Duration))
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
	return err
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

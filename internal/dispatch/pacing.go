package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacing controls the waits between sends.
type Pacing struct {
	DelayMin time.Duration
	DelayMax time.Duration

	// Every LongPauseEvery-th success waits LongPauseMin..LongPauseMax instead.
	LongPauseEvery int
	LongPauseMin   time.Duration
	LongPauseMax   time.Duration

	Cooldown               time.Duration
	MaxConsecutiveFailures int

	// MaxPerHour caps the send rate; 0 disables the cap.
	MaxPerHour int
}

func DefaultPacing() Pacing {
	return Pacing{
		DelayMin:               45 * time.Second,
		DelayMax:               90 * time.Second,
		LongPauseEvery:         10,
		LongPauseMin:           5 * time.Minute,
		LongPauseMax:           10 * time.Minute,
		Cooldown:               30 * time.Second,
		MaxConsecutiveFailures: 5,
	}
}

func (p Pacing) Validate() error {
	if p.DelayMin < 0 || p.DelayMax < p.DelayMin {
		return fmt.Errorf("pacing: delay range %s..%s is invalid", p.DelayMin, p.DelayMax)
	}
	if p.LongPauseEvery < 0 {
		return fmt.Errorf("pacing: long_pause_every must be >= 0")
	}
	if p.LongPauseEvery > 0 && (p.LongPauseMin < 0 || p.LongPauseMax < p.LongPauseMin) {
		return fmt.Errorf("pacing: long pause range %s..%s is invalid", p.LongPauseMin, p.LongPauseMax)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("pacing: cooldown must be >= 0")
	}
	if p.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("pacing: max_consecutive_failures must be >= 1")
	}
	if p.MaxPerHour < 0 {
		return fmt.Errorf("pacing: max_per_hour must be >= 0")
	}
	return nil
}

// pacer draws delays for a single run.
type pacer struct {
	p       Pacing
	mu      sync.Mutex
	rnd     *rand.Rand
	limiter *rate.Limiter
}

func newPacer(p Pacing, seed uint64) *pacer {
	pc := &pacer{p: p, rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	if p.MaxPerHour > 0 {
		pc.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(p.MaxPerHour)), 1)
	}
	return pc
}

func (pc *pacer) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return min + time.Duration(pc.rnd.Int64N(int64(max-min)+1))
}

// afterSuccess returns the wait after the sent-th success and whether it is
// a long pause.
func (pc *pacer) afterSuccess(sent int, now time.Time) (time.Duration, bool) {
	long := pc.p.LongPauseEvery > 0 && sent%pc.p.LongPauseEvery == 0
	var d time.Duration
	if long {
		d = pc.between(pc.p.LongPauseMin, pc.p.LongPauseMax)
	} else {
		d = pc.between(pc.p.DelayMin, pc.p.DelayMax)
	}
	if pc.limiter != nil {
		if rd := pc.limiter.ReserveN(now, 1).DelayFrom(now); rd > d {
			d = rd
		}
	}
	return d, long
}

// start takes the burst token for the first send of a run so every later
// send waits for its own token.
func (pc *pacer) start(now time.Time) {
	if pc.limiter != nil {
		pc.limiter.AllowN(now, 1)
	}
}

// Sleeper waits d or until stop or ctx fires. It reports whether the full
// wait elapsed.
type Sleeper func(ctx context.Context, stop <-chan struct{}, d time.Duration) bool

func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

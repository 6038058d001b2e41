package leads

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "dispatchbot/pkg/logx"
)

func seed() []Item {
	return []Item{
		{ID: "l1", Email: "a@example.com", DisplayName: "Rafiq"},
		{ID: "l2", Email: "b@example.com"},
		{ID: "l3", Email: "c@example.com", DisplayName: "Zoe"},
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "leads.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	if err := sq.Add(context.Background(), seed()...); err != nil {
		t.Fatalf("seed sqlite: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(seed()...),
		"sqlite": sq,
	}
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			it, ok, err := s.NextCandidate(ctx, nil)
			if err != nil || !ok || it.ID != "l1" || it.DisplayName != "Rafiq" {
				t.Fatalf("NextCandidate = %+v %v %v", it, ok, err)
			}
			if err := s.Claim(ctx, "l1", "w1"); err != nil {
				t.Fatalf("claim: %v", err)
			}
			if err := s.Claim(ctx, "l1", "w2"); !errors.Is(err, ErrClaimLost) {
				t.Fatalf("second claim err = %v, want ErrClaimLost", err)
			}
			if err := s.Claim(ctx, "missing", "w1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing claim err = %v, want ErrNotFound", err)
			}

			it, _, _ = s.NextCandidate(ctx, nil)
			if it.ID != "l2" {
				t.Fatalf("next after claim = %q, want l2", it.ID)
			}

			if err := s.MarkSent(ctx, "l1", "w1", time.Now()); err != nil {
				t.Fatalf("mark sent: %v", err)
			}
			if err := s.Claim(ctx, "l2", "w1"); err != nil {
				t.Fatalf("claim l2: %v", err)
			}
			if err := s.Release(ctx, "l2"); err != nil {
				t.Fatalf("release: %v", err)
			}

			c, err := s.Counts(ctx)
			if err != nil {
				t.Fatalf("counts: %v", err)
			}
			if c != (Counts{Total: 3, Unclaimed: 2, Sent: 1}) {
				t.Fatalf("counts = %+v", c)
			}

			it, _, _ = s.NextCandidate(ctx, nil)
			if it.ID != "l2" {
				t.Fatalf("released item should be next, got %q", it.ID)
			}
		})
	}
}

func TestStoreReclaimStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Claim(ctx, "l1", "w1"); err != nil {
				t.Fatal(err)
			}
			n, err := s.ReclaimStale(ctx, time.Now().Add(-time.Hour))
			if err != nil || n != 0 {
				t.Fatalf("fresh claim reclaimed: n=%d err=%v", n, err)
			}
			n, err = s.ReclaimStale(ctx, time.Now().Add(time.Second))
			if err != nil || n != 1 {
				t.Fatalf("ReclaimStale = %d, %v; want 1", n, err)
			}
			c, _ := s.Counts(ctx)
			if c.Claimed != 0 || c.Unclaimed != 3 {
				t.Fatalf("counts after reclaim = %+v", c)
			}
		})
	}
}

func TestStoreTemplate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Template(ctx); ok || err != nil {
				t.Fatalf("empty store template ok=%v err=%v", ok, err)
			}
			want := Template{Subject: "Hi {name}", BodyHTML: "<p>Hello {name}</p>"}
			if err := s.SetTemplate(ctx, want); err != nil {
				t.Fatal(err)
			}
			got, ok, err := s.Template(ctx)
			if err != nil || !ok {
				t.Fatalf("template ok=%v err=%v", ok, err)
			}
			if got.Subject != want.Subject || got.BodyHTML != want.BodyHTML || got.UpdatedAt.IsZero() {
				t.Fatalf("template = %+v", got)
			}
		})
	}
}

func TestStoreAddKeepsStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Claim(ctx, "l1", "w1")
			_ = s.MarkSent(ctx, "l1", "w1", time.Now())
			if err := s.Add(ctx, Item{ID: "l1", Email: "new@example.com"}, Item{ID: "l4", Email: "d@example.com"}); err != nil {
				t.Fatal(err)
			}
			c, _ := s.Counts(ctx)
			if c.Total != 4 || c.Sent != 1 {
				t.Fatalf("counts = %+v", c)
			}
		})
	}
}

func TestMemoryClaimIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(seed()...)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Claim(ctx, "l3", "w") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	it, _ := m.Get("l3")
	if it.Status != StatusClaimed || it.ClaimedBy != "w" {
		t.Fatalf("item = %+v", it)
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	m := NewMemory(seed()...)
	_ = m.Close()
	if _, _, err := m.NextCandidate(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
	if _, err := Open(Config{Driver: "firebase"}, logx.Nop()); err == nil {
		t.Fatal("expected error for firebase without url")
	}
}

func TestNextCandidateSkip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			tried := map[string]bool{"l1": true}
			it, ok, err := s.NextCandidate(ctx, func(id string) bool { return tried[id] })
			if err != nil || !ok || it.ID != "l2" {
				t.Fatalf("NextCandidate = %+v %v %v, want l2", it, ok, err)
			}
			tried["l2"], tried["l3"] = true, true
			if _, ok, err := s.NextCandidate(ctx, func(id string) bool { return tried[id] }); ok || err != nil {
				t.Fatalf("everything skipped: ok=%v err=%v", ok, err)
			}
		})
	}
}

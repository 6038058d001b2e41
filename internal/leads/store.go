// Package leads is the client for the shared work list: recipient records
// plus the message template.
//
// Claim is a compare-and-set on every backend (sqlite conditional UPDATE,
// Realtime Database ETag precondition, in-memory mutex). Items stuck in
// StatusClaimed after a crash are only returned by an explicit ReclaimStale.
package leads

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "dispatchbot/pkg/logx"
)

// Store is the read/claim/update contract of the work list.
type Store interface {
	// NextCandidate returns the first unclaimed item in backend iteration
	// order for which skip (if non-nil) returns false. ok is false when
	// nothing is left.
	NextCandidate(ctx context.Context, skip func(id string) bool) (it Item, ok bool, err error)
	// Claim marks id as being processed by worker. ErrClaimLost means
	// another worker got there first.
	Claim(ctx context.Context, id, worker string) error
	MarkSent(ctx context.Context, id, worker string, at time.Time) error
	// Release puts a claimed item back to unclaimed.
	Release(ctx context.Context, id string) error

	Template(ctx context.Context) (tpl Template, ok bool, err error)
	SetTemplate(ctx context.Context, tpl Template) error

	Counts(ctx context.Context) (Counts, error)
	// ReclaimStale releases items claimed before olderThan and returns how many.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int, error)
	// Add inserts or updates recipients without touching their status.
	Add(ctx context.Context, items ...Item) error

	Close() error
}

// Config configures the store backend.
//
// Driver values:
//   - "memory": process-local list (dry runs, tests)
//   - "sqlite": SQLite database file
//   - "firebase": Realtime Database over REST
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only

	URL          string // firebase database URL
	AuthToken    string
	Collection   string // default "leads"
	TemplatePath string // default "email_config"
	Timeout      time.Duration
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "firebase", "rtdb":
		return openFirebase(cfg, log, nil)
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}

func skipped(skip func(id string) bool, id string) bool {
	return skip != nil && skip(id)
}

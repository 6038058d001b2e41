package leads

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "dispatchbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const templateKey = "default"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) NextCandidate(ctx context.Context, skip func(id string) bool) (Item, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, display_name FROM leads
		 WHERE status = 'unclaimed' OR status = ''
		 ORDER BY rowid`)
	if err != nil {
		return Item{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Email, &it.DisplayName); err != nil {
			return Item{}, false, err
		}
		if skipped(skip, it.ID) {
			continue
		}
		it.Status = StatusUnclaimed
		return it, true, nil
	}
	return Item{}, false, rows.Err()
}

func (s *sqliteStore) Claim(ctx context.Context, id, worker string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = 'claimed', claimed_by = ?, claimed_at = ?
		 WHERE id = ? AND (status = 'unclaimed' OR status = '')`,
		worker, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return s.affectedOrLost(ctx, res, id)
}

func (s *sqliteStore) MarkSent(ctx context.Context, id, worker string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = 'sent', sent_at = ?, sent_by = ?, claimed_by = NULL, claimed_at = NULL
		 WHERE id = ?`,
		at.UnixMilli(), worker, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *sqliteStore) Release(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = 'unclaimed', claimed_by = NULL, claimed_at = NULL WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *sqliteStore) Template(ctx context.Context) (Template, bool, error) {
	var (
		tpl Template
		ms  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT subject, body_html, updated_at FROM templates WHERE key = ?`, templateKey).
		Scan(&tpl.Subject, &tpl.BodyHTML, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, false, nil
	}
	if err != nil {
		return Template{}, false, err
	}
	tpl.UpdatedAt = time.UnixMilli(ms)
	return tpl, true, nil
}

func (s *sqliteStore) SetTemplate(ctx context.Context, tpl Template) error {
	if tpl.UpdatedAt.IsZero() {
		tpl.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates(key, subject, body_html, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET subject = excluded.subject, body_html = excluded.body_html, updated_at = excluded.updated_at`,
		templateKey, tpl.Subject, tpl.BodyHTML, tpl.UpdatedAt.UnixMilli())
	return err
}

func (s *sqliteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return c, err
		}
		c.Total += n
		switch normalizeStatus(st) {
		case StatusClaimed:
			c.Claimed += n
		case StatusSent:
			c.Sent += n
		default:
			c.Unclaimed += n
		}
	}
	return c, rows.Err()
}

func (s *sqliteStore) ReclaimStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = 'unclaimed', claimed_by = NULL, claimed_at = NULL
		 WHERE status = 'claimed' AND (claimed_at IS NULL OR claimed_at < ?)`,
		olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) Add(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads(id, email, display_name, status) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET email = excluded.email, display_name = excluded.display_name`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, it.Email, it.DisplayName, string(normalizeStatus(string(it.Status)))); err != nil {
			return fmt.Errorf("add %s: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) affectedOrLost(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrClaimLost
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

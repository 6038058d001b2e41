package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "dispatchbot/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	validatorLimit = 5 * time.Second

	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

// relevantOps are the file operations that can change the config content.
// Editors that save by rename show up as Create or Rename.
const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config whenever its file changes, until ctx is done.
// The parent directory is watched so atomic replaces are seen. A failing
// watcher is rebuilt after a jittered delay.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	retry := watchRetryMin
	for {
		err := m.watchOnce(ctx, dir)
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher failed", logx.String("dir", dir), logx.Duration("retry_in", retry), logx.Err(err))
		t := time.NewTimer(retry + time.Duration(rand.Int64N(int64(retry)/2+1)))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		retry = min(retry*2, watchRetryMax)
	}
}

// watchOnce runs one fsnotify watcher. It returns nil only when ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("path", m.path))

	file := filepath.Base(m.path)
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-debounce.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return fsnotify.ErrClosed
			}
			if filepath.Base(ev.Name) == file && ev.Op&relevantOps != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok, errors.Is(err, fsnotify.ErrClosed):
				return fsnotify.ErrClosed
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow, forcing reload")
				debounce.Reset(reloadDebounce)
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// reload parses, validates and commits the file, then notifies
// subscribers. Unchanged content is ignored.
func (m *ConfigManager) reload(ctx context.Context) {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return
	}
	rev := revisionOf(cfg)
	if rev != "" && rev == m.Revision() {
		log.Debug("config unchanged")
		return
	}
	if err := m.check(ctx, cfg); err != nil {
		log.Warn("config rejected", logx.Err(err))
		return
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config reloaded", logx.String("revision", rev))
}

func (m *ConfigManager) check(ctx context.Context, cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.validator == nil {
		return nil
	}
	vctx, cancel := context.WithTimeout(ctx, validatorLimit)
	defer cancel()
	return m.validator(vctx, cfg)
}

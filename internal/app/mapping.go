package app

import (
	"fmt"
	"strings"
	"time"

	"dispatchbot/internal/config"
	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/leads"
	"dispatchbot/internal/mail"
	"dispatchbot/internal/notifier"
	"dispatchbot/internal/render"
	"dispatchbot/internal/rewrite"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// noticeTarget is the chat that receives run notices and log lines.
func noticeTarget(cfg *config.Config) kit.ChatTarget {
	if id := cfg.Telegram.NoticeChatID; id != 0 {
		return kit.ChatTarget{ChatID: id}
	}
	if len(cfg.Telegram.OwnerUserIDs) > 0 {
		return kit.ChatTarget{ChatID: cfg.Telegram.OwnerUserIDs[0]}
	}
	return kit.ChatTarget{}
}

func mapStoreConfig(cfg *config.Config) (leads.Config, error) {
	s := cfg.Store
	busy, err := config.ParseDurationOrDefault("store.busy_timeout", s.BusyTimeout, time.Second)
	if err != nil {
		return leads.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("store.timeout", s.Timeout, 15*time.Second)
	if err != nil {
		return leads.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if (driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(s.Path) == "" {
		return leads.Config{}, fmt.Errorf("store.path is required when store.driver=%s", driver)
	}
	return leads.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(s.Path),
		BusyTimeout:  busy,
		URL:          strings.TrimSpace(s.URL),
		AuthToken:    s.AuthToken,
		Collection:   s.Collection,
		TemplatePath: s.TemplatePath,
		Timeout:      timeout,
	}, nil
}

func mapMailConfig(cfg *config.Config) (mail.Config, error) {
	m := cfg.Mail
	timeout, err := config.ParseDurationOrDefault("mail.timeout", m.Timeout, 30*time.Second)
	if err != nil {
		return mail.Config{}, err
	}
	return mail.Config{
		Provider: m.Provider,
		Timeout:  timeout,
		RelayURL: strings.TrimSpace(m.RelayURL),
		SMTP: mail.SMTPConfig{
			Host:     m.SMTP.Host,
			Port:     m.SMTP.Port,
			Username: m.SMTP.Username,
			Password: m.SMTP.Password,
			From:     m.SMTP.From,
			Timeout:  timeout,
		},
		Brevo: mail.BrevoConfig{
			APIKey:     m.Brevo.APIKey,
			Sender:     m.Brevo.Sender,
			SenderName: m.Brevo.SenderName,
			Endpoint:   m.Brevo.Endpoint,
			Timeout:    timeout,
		},
	}, nil
}

// mapPacing fills unset fields from dispatch.DefaultPacing.
func mapPacing(cfg *config.Config) (dispatch.Pacing, error) {
	d := cfg.Dispatch
	p := dispatch.DefaultPacing()
	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch.delay_min", d.DelayMin, &p.DelayMin},
		{"dispatch.delay_max", d.DelayMax, &p.DelayMax},
		{"dispatch.long_pause_min", d.LongPauseMin, &p.LongPauseMin},
		{"dispatch.long_pause_max", d.LongPauseMax, &p.LongPauseMax},
		{"dispatch.cooldown", d.Cooldown, &p.Cooldown},
	}
	for _, f := range durations {
		v, err := config.ParseDurationOrDefault(f.path, f.raw, *f.dst)
		if err != nil {
			return dispatch.Pacing{}, err
		}
		*f.dst = v
	}
	if d.LongPauseEvery > 0 {
		p.LongPauseEvery = d.LongPauseEvery
	}
	if d.MaxConsecutiveFailures > 0 {
		p.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	p.MaxPerHour = d.MaxPerHour
	if err := p.Validate(); err != nil {
		return dispatch.Pacing{}, err
	}
	return p, nil
}

func mapRender(cfg *config.Config) render.Options {
	return render.Options{Token: cfg.Dispatch.Placeholder, DefaultName: cfg.Dispatch.DefaultName}
}

// mapRewriter returns nil when rewriting is off or has no keys.
func mapRewriter(cfg *config.Config, log logx.Logger) (dispatch.Rewriter, error) {
	r := cfg.Rewrite
	if !r.Enabled {
		return nil, nil
	}
	timeout, err := config.ParseDurationOrDefault("rewrite.timeout", r.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	pool := rewrite.NewKeyPool(r.Keys...)
	if pool.Len() == 0 {
		log.Warn("rewrite enabled without keys; messages are sent unchanged")
		return nil, nil
	}
	gen := &rewrite.Gemini{Endpoint: r.Endpoint, Model: r.Model, Timeout: timeout}
	opts := []rewrite.Option{rewrite.WithLogger(log)}
	if r.Tries > 0 {
		opts = append(opts, rewrite.WithTries(r.Tries))
	}
	return rewrite.New(pool, gen, opts...), nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         1,
		QueueSize:       64,
		RatePerSec:      1,
		RetryMax:        3,
		RetryBase:       time.Second,
		RetryMaxDelay:   30 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 256,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.Enabled = n.Enabled
	if n.Workers > 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax > 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries > 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func reclaimAfter(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationField("dispatch.reclaim_after", cfg.Dispatch.ReclaimAfter)
	if err != nil {
		return 0
	}
	return d
}

// StoreConfig maps the store section for tools that open the work list
// without starting the bot.
func StoreConfig(cfg *config.Config) (leads.Config, error) { return mapStoreConfig(cfg) }

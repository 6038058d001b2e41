package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks values that would otherwise fail later at runtime.
// It never touches the network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		add(errors.New("telegram.owner_user_ids must list at least one user"))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if n := cfg.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "memory", "sqlite", "sqlite3":
	case "firebase", "rtdb":
		if strings.TrimSpace(cfg.Store.URL) == "" {
			add(errors.New("store.url is required for the firebase driver"))
		}
	default:
		add(fmt.Errorf("store.driver: unknown driver %q", cfg.Store.Driver))
	}
	dur("store.busy_timeout", cfg.Store.BusyTimeout)
	dur("store.timeout", cfg.Store.Timeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Mail.Provider)) {
	case "", "relay", "gas", "smtp", "brevo":
	default:
		add(fmt.Errorf("mail.provider: unknown provider %q", cfg.Mail.Provider))
	}
	dur("mail.timeout", cfg.Mail.Timeout)
	if p := cfg.Mail.SMTP.Port; p < 0 || p > 65535 {
		add(fmt.Errorf("mail.smtp.port: %d out of range", p))
	}

	if cfg.Rewrite.Tries < 0 {
		add(errors.New("rewrite.tries must be >= 0"))
	}
	dur("rewrite.timeout", cfg.Rewrite.Timeout)

	d := cfg.Dispatch
	for path, raw := range map[string]string{
		"dispatch.delay_min":      d.DelayMin,
		"dispatch.delay_max":      d.DelayMax,
		"dispatch.long_pause_min": d.LongPauseMin,
		"dispatch.long_pause_max": d.LongPauseMax,
		"dispatch.cooldown":       d.Cooldown,
		"dispatch.reclaim_after":  d.ReclaimAfter,
	} {
		dur(path, raw)
	}
	if d.LongPauseEvery < 0 || d.MaxConsecutiveFailures < 0 || d.MaxPerHour < 0 {
		add(errors.New("dispatch: counts must be >= 0"))
	}
	for path, spec := range map[string]string{
		"dispatch.schedule":         d.Schedule,
		"dispatch.reclaim_schedule": d.ReclaimSchedule,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			add(fmt.Errorf("%s: %w", path, err))
		}
	}
	if strings.TrimSpace(d.ReclaimSchedule) != "" && strings.TrimSpace(d.ReclaimAfter) == "" {
		add(errors.New("dispatch.reclaim_after is required with dispatch.reclaim_schedule"))
	}
	return errors.Join(errs...)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJSON = `{
  "telegram": {"token": "t", "owner_user_ids": [42], "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "telegram": {"enabled": false, "min_level": "warn", "rate_per_sec": 1}},
  "store": {"driver": "sqlite", "path": "./data/leads.db"},
  "mail": {"provider": "relay", "relay_url": "https://script.example.test/exec"},
  "rewrite": {"enabled": false},
  "dispatch": {"delay_min": "45s", "delay_max": "90s", "schedule": "0 9 * * *"}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func newManager(path string) *ConfigManager {
	m := NewConfigManager(path)
	m.SetEnvOverlay(false)
	return m
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	cfg, err := newManager(writeFile(t, "config.json", validJSON)).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.OwnerUserIDs[0] != 42 || cfg.Store.Driver != "sqlite" || cfg.Dispatch.DelayMax != "90s" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: t
  owner_user_ids: [42]
store:
  driver: firebase
  url: https://db.example.test
  collection: scraped_emails
mail:
  provider: smtp
  smtp:
    host: smtp.example.test
    port: 587
    from: me@example.test
dispatch:
  long_pause_every: 10
  placeholder: "{app_name}"
`
	cfg, err := newManager(writeFile(t, "config.yaml", body)).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Collection != "scraped_emails" || cfg.Mail.SMTP.Port != 587 || cfg.Dispatch.Placeholder != "{app_name}" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown field":  strings.Replace(validJSON, `"rewrite"`, `"rewriter"`, 1),
		"trailing data":  validJSON + `{}`,
		"bad duration":   strings.Replace(validJSON, `"45s"`, `"soon"`, 1),
		"bad cron":       strings.Replace(validJSON, `0 9 * * *`, `every day`, 1),
		"unknown driver": strings.Replace(validJSON, `"sqlite"`, `"mongo"`, 1),
		"no owners":      strings.Replace(validJSON, `[42]`, `[]`, 1),
	}
	for name, body := range cases {
		if _, err := newManager(writeFile(t, "config.json", body)).Load(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSecretsOverlay(t *testing.T) {
	t.Setenv("EMAIL_BOT_TOKEN", "from-env")
	t.Setenv("BOT_OWNER_ID", "7")
	t.Setenv("GAS_URL", "https://relay.example.test")
	t.Setenv("GEMINI_API_KEYS", "k1, ,k2")

	m := NewConfigManager(writeFile(t, "config.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Mail.RelayURL != "https://relay.example.test" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 7 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if strings.Join(cfg.Rewrite.Keys, ",") != "k1,k2" {
		t.Fatalf("keys = %v", cfg.Rewrite.Keys)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("d=%s err=%v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: d=%s err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration should fail")
	}
	if d, err := ParseDurationField("x", "2d"); err != nil || d != 48*time.Hour {
		t.Fatalf("2d = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "1.5d"); err == nil {
		t.Fatal("fractional days should be rejected")
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("default = %s", d)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", validJSON)
	m := newManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Dispatch.MaxPerHour == 13 {
			return os.ErrInvalid
		}
		return nil
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	next := strings.Replace(validJSON, `"90s"`, `"120s"`, 1)
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Dispatch.DelayMax != "120s" || m.Get().Dispatch.DelayMax != "120s" {
			t.Fatalf("published %+v", cfg.Dispatch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestRevisionTracksContent(t *testing.T) {
	t.Parallel()
	m := newManager(writeFile(t, "config.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	rev := m.Revision()
	if len(rev) != 12 {
		t.Fatalf("revision = %q", rev)
	}
	next := *cfg
	next.Dispatch.MaxPerHour++
	m.Commit(&next)
	if m.Revision() == rev {
		t.Fatal("revision should change with content")
	}
	m.Commit(cfg)
	if m.Revision() != rev {
		t.Fatal("revision should be a pure function of content")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := newManager(writeFile(t, "config.json", validJSON+"{}"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

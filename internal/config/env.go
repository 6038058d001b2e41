package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// Secrets are read from the environment and override the file values when
// set. Names match the variables the bot has always been deployed with.
type Secrets struct {
	TelegramToken string   `env:"EMAIL_BOT_TOKEN"`
	OwnerID       int64    `env:"BOT_OWNER_ID"`
	FirebaseURL   string   `env:"FIREBASE_DATABASE_URL"`
	FirebaseAuth  string   `env:"FIREBASE_AUTH_TOKEN"`
	RelayURL      string   `env:"GAS_URL"`
	SMTPPassword  string   `env:"SMTP_PASSWORD"`
	BrevoAPIKey   string   `env:"BREVO_API_KEY"`
	RewriteKeys   []string `env:"GEMINI_API_KEYS" envSeparator:","`
}

func LoadSecrets() (Secrets, error) {
	var s Secrets
	err := env.Parse(&s)
	return s, err
}

// Apply overlays non-empty secrets onto cfg.
func (s Secrets) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, s.TelegramToken)
	if s.OwnerID != 0 && !containsID(cfg.Telegram.OwnerUserIDs, s.OwnerID) {
		cfg.Telegram.OwnerUserIDs = append(cfg.Telegram.OwnerUserIDs, s.OwnerID)
	}
	set(&cfg.Store.URL, s.FirebaseURL)
	set(&cfg.Store.AuthToken, s.FirebaseAuth)
	set(&cfg.Mail.RelayURL, s.RelayURL)
	set(&cfg.Mail.SMTP.Password, s.SMTPPassword)
	set(&cfg.Mail.Brevo.APIKey, s.BrevoAPIKey)

	keys := make([]string, 0, len(s.RewriteKeys))
	for _, k := range s.RewriteKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		cfg.Rewrite.Keys = keys
	}
}

// ApplyEnv reads the environment and overlays it onto cfg.
func ApplyEnv(cfg *Config) error {
	s, err := LoadSecrets()
	if err != nil {
		return err
	}
	s.Apply(cfg)
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

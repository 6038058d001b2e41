package mail

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Provider string
	Timeout  time.Duration

	RelayURL string
	SMTP     SMTPConfig
	Brevo    BrevoConfig
}

// Open returns the transport named by cfg.Provider. An empty provider
// selects the relay.
func Open(cfg Config) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "relay", "gas":
		return NewRelay(cfg.RelayURL, cfg.Timeout, nil), nil
	case "smtp":
		sc := cfg.SMTP
		if sc.Timeout <= 0 {
			sc.Timeout = cfg.Timeout
		}
		return NewSMTP(sc), nil
	case "brevo":
		b := cfg.Brevo
		if b.Timeout <= 0 {
			b.Timeout = cfg.Timeout
		}
		return NewBrevo(b, nil), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// Configured reports whether t has the minimum settings to attempt a send.
func Configured(t Transport) bool {
	switch v := t.(type) {
	case nil:
		return false
	case *Relay:
		return v.url != ""
	case *SMTP:
		return strings.TrimSpace(v.cfg.Host) != "" && strings.TrimSpace(v.cfg.From) != ""
	case *Brevo:
		return v.cfg.APIKey != "" && v.cfg.Sender != ""
	default:
		return true
	}
}

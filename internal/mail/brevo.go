package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

type BrevoConfig struct {
	APIKey     string
	Sender     string
	SenderName string
	Endpoint   string
	Timeout    time.Duration
}

// Brevo sends through the Brevo transactional email API.
type Brevo struct {
	cfg  BrevoConfig
	http *http.Client
}

var _ Transport = (*Brevo)(nil)

func NewBrevo(cfg BrevoConfig, client *http.Client) *Brevo {
	if cfg.Endpoint == "" {
		cfg.Endpoint = brevoEndpoint
	}
	if client == nil {
		if cfg.Timeout <= 0 {
			cfg.Timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Brevo{cfg: cfg, http: client}
}

func (b *Brevo) Name() string { return "brevo" }

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoEmail struct {
	To          []brevoAddress `json:"to"`
	Sender      brevoAddress   `json:"sender"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

func (b *Brevo) Send(ctx context.Context, to, subject, htmlBody string) Result {
	if b.cfg.APIKey == "" || b.cfg.Sender == "" {
		return fail(ConfigurationError, fmt.Errorf("brevo: %w", ErrNotConfigured))
	}
	buf, _ := json.Marshal(brevoEmail{
		To:          []brevoAddress{{Email: to}},
		Sender:      brevoAddress{Email: b.cfg.Sender, Name: b.cfg.SenderName},
		Subject:     subject,
		HTMLContent: htmlBody,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return fail(ConfigurationError, fmt.Errorf("brevo: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.cfg.APIKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return fail(TransientError, fmt.Errorf("brevo: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	switch {
	case resp.StatusCode/100 == 2:
		var out struct {
			MessageID string `json:"messageId"`
		}
		_ = json.Unmarshal(raw, &out)
		return ok(out.MessageID)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fail(RateLimited, fmt.Errorf("brevo: %s", resp.Status))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fail(ConfigurationError, fmt.Errorf("brevo: %s: %s", resp.Status, strings.TrimSpace(string(raw))))
	default:
		return fail(TransientError, fmt.Errorf("brevo: %s: %s", resp.Status, strings.TrimSpace(string(raw))))
	}
}

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

// Relay posts messages to a script web app that sends on the operator's
// behalf. Request {to, subject, body}; response {status, message}.
type Relay struct {
	url  string
	http *http.Client
}

var _ Transport = (*Relay)(nil)

func NewRelay(url string, timeout time.Duration, client *http.Client) *Relay {
	if client == nil {
		if timeout <= 0 {
			timeout = 40 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Relay{url: strings.TrimSpace(url), http: client}
}

func (r *Relay) Name() string { return "relay" }

type relayRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type relayResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	MessageID string `json:"id,omitempty"`
}

func (r *Relay) Send(ctx context.Context, to, subject, htmlBody string) Result {
	if r.url == "" {
		return fail(ConfigurationError, fmt.Errorf("relay: %w: empty url", ErrNotConfigured))
	}
	buf, err := json.Marshal(relayRequest{To: to, Subject: subject, Body: htmlBody})
	if err != nil {
		return fail(TransientError, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(buf))
	if err != nil {
		return fail(ConfigurationError, fmt.Errorf("relay: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fail(TransientError, fmt.Errorf("relay: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusTooManyRequests {
		return fail(RateLimited, fmt.Errorf("relay: %s", resp.Status))
	}
	var out relayResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && quotaWording(out.Message) {
			return fail(RateLimited, fmt.Errorf("relay: %s: %s", resp.Status, out.Message))
		}
		return fail(TransientError, fmt.Errorf("relay: %s", resp.Status))
	}
	if decodeErr != nil {
		return fail(TransientError, fmt.Errorf("relay: decode response: %w", decodeErr))
	}
	if strings.EqualFold(out.Status, "success") {
		return ok(out.MessageID)
	}
	if quotaWording(out.Message) {
		return fail(RateLimited, fmt.Errorf("relay: %s", out.Message))
	}
	return fail(TransientError, fmt.Errorf("relay: status %q: %s", out.Status, out.Message))
}

// Package rewrite varies the wording of a message through a text generation
// service. Rewrite never fails: any problem yields the original pair.
package rewrite

import (
	"context"
	"strings"

	logx "dispatchbot/pkg/logx"
	"dispatchbot/pkg/tgui"
)

const (
	Separator      = "|||"
	DefaultTries   = 3
	defaultPreview = 120
)

// Generator produces text for one prompt using one credential.
type Generator interface {
	Generate(ctx context.Context, key, prompt string) (string, error)
}

type GeneratorFunc func(ctx context.Context, key, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, key, prompt string) (string, error) {
	return f(ctx, key, prompt)
}

type Adapter struct {
	pool  *KeyPool
	gen   Generator
	tries int
	log   logx.Logger
}

type Option func(*Adapter)

func WithTries(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.tries = n
		}
	}
}

func WithLogger(l logx.Logger) Option { return func(a *Adapter) { a.log = l } }

func New(pool *KeyPool, gen Generator, opts ...Option) *Adapter {
	a := &Adapter{pool: pool, gen: gen, tries: DefaultTries, log: logx.Nop()}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	return a
}

// Enabled reports whether Rewrite would call the generator at all.
func (a *Adapter) Enabled() bool {
	return a != nil && a.gen != nil && a.pool.Len() > 0
}

type attempt struct {
	key     int
	subject string
	body    string
	err     error
}

// Rewrite returns a reworded (subject, body) or the inputs unchanged.
func (a *Adapter) Rewrite(ctx context.Context, subject, body string) (string, string) {
	if !a.Enabled() {
		return subject, body
	}
	prompt := buildPrompt(subject, body)

	attempts := make([]attempt, 0, a.tries)
	for i := 0; i < a.tries; i++ {
		if ctx.Err() != nil {
			break
		}
		key, idx, ok := a.pool.Next()
		if !ok {
			break
		}
		at := attempt{key: idx}
		text, err := a.gen.Generate(ctx, key, prompt)
		if err == nil {
			at.subject, at.body, err = parseReply(text)
		}
		at.err = err
		attempts = append(attempts, at)
		if err == nil {
			a.log.Debug("content rewritten", logx.Int("key", idx), logx.Int("attempt", i+1))
			return at.subject, at.body
		}
		a.log.Debug("rewrite attempt failed", logx.Int("key", idx), logx.Int("attempt", i+1), logx.Err(err))
	}

	var last error
	if n := len(attempts); n > 0 {
		last = attempts[n-1].err
	}
	a.log.Warn("rewrite unavailable, using original content",
		logx.Int("attempts", len(attempts)),
		logx.Err(last),
	)
	return subject, body
}

func buildPrompt(subject, body string) string {
	var b strings.Builder
	b.WriteString("Rewrite the following email so it keeps the same meaning but uses different wording.\n")
	b.WriteString("Keep every link, every HTML tag and every placeholder in curly braces exactly as written.\n")
	b.WriteString("Do not add commentary. Reply with the subject, then ")
	b.WriteString(Separator)
	b.WriteString(", then the HTML body.\n\n")
	b.WriteString("Subject: ")
	b.WriteString(subject)
	b.WriteString("\n\nBody:\n")
	b.WriteString(body)
	return b.String()
}

type parseError string

func (e parseError) Error() string { return "rewrite: " + string(e) }

func parseReply(text string) (string, string, error) {
	i := strings.Index(text, Separator)
	if i < 0 {
		return "", "", parseError("separator missing in reply: " + preview(text))
	}
	subject := strings.TrimSpace(text[:i])
	body := strings.TrimSpace(text[i+len(Separator):])
	subject = strings.TrimSpace(strings.TrimPrefix(subject, "Subject:"))
	if subject == "" || body == "" {
		return "", "", parseError("empty subject or body")
	}
	if strings.ContainsAny(subject, "\r\n") {
		return "", "", parseError("subject spans lines: " + preview(subject))
	}
	return subject, body, nil
}

func preview(s string) string {
	return tgui.TruncRunes(strings.TrimSpace(s), defaultPreview)
}

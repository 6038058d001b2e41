package tgui

import (
	"html"
	"strings"
)

// H is text already safe for ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + string(inner) + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Pre renders a preformatted block. Keep it short: each Telegram message
// must carry balanced tags, so a split Pre breaks rendering.
func Pre(s string) H { return H("<pre>" + html.EscapeString(s) + "</pre>") }

// Lines joins non-empty parts with newlines.
func Lines(parts ...H) H {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		out = append(out, string(p))
	}
	return H(strings.Join(out, "\n"))
}

// KV renders "<b>key:</b> value" with value escaped.
func KV(key, value string) H {
	return H("<b>" + html.EscapeString(key) + ":</b> " + html.EscapeString(value))
}

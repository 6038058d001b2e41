package render

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		subject     string
		body        string
		display     string
		opt         Options
		wantSubject string
		wantBody    string
	}{
		{name: "greeting", subject: "Hi {name}", body: "Hello {name}!", display: "Rafiq", wantSubject: "Hi Rafiq", wantBody: "Hello Rafiq!"},
		{name: "no token", subject: "Plain", body: "<p>Body</p>", display: "Rafiq", wantSubject: "Plain", wantBody: "<p>Body</p>"},
		{name: "fallback label", subject: "Hi {name}", body: "{name}, {name}", display: "  ", wantSubject: "Hi there", wantBody: "there, there"},
		{name: "custom fallback", subject: "Hi {name}", body: "", opt: Options{DefaultName: "Developer"}, wantSubject: "Hi Developer"},
		{name: "unknown token kept", subject: "{app} {name}", body: "{other}", display: "Ana", wantSubject: "{app} Ana", wantBody: "{other}"},
		{name: "custom token", subject: "Hi {app_name}", body: "{name}", display: "Notes", opt: Options{Token: "{app_name}"}, wantSubject: "Hi Notes", wantBody: "{name}"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, b := Render(tt.subject, tt.body, tt.display, tt.opt)
			if s != tt.wantSubject || b != tt.wantBody {
				t.Fatalf("Render() = (%q, %q), want (%q, %q)", s, b, tt.wantSubject, tt.wantBody)
			}
		})
	}
}

func TestRenderNeverLeavesToken(t *testing.T) {
	t.Parallel()
	names := []string{"a", "Rafiq", "Ünïcode", "x y z", "{nam"}
	for _, n := range names {
		s, b := Render("{name}{name}", "pre {name} post", n, Options{})
		if strings.Contains(s, DefaultToken) || strings.Contains(b, DefaultToken) {
			t.Fatalf("token left for %q: (%q, %q)", n, s, b)
		}
		if !strings.Contains(b, n) {
			t.Fatalf("name %q missing from body %q", n, b)
		}
	}
}

package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	log.Info("item sent", Int("sent", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if m["comp"] != "dispatch" || m["message"] != "item sent" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["sent"] != float64(3) {
		t.Fatalf("sent = %v, want 3", m["sent"])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped")
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	got := formatLine([]byte(`{"level":"warn","message":"quota","b":2,"a":"x","time":"t"}`))
	want := "[WARN] quota\n- a=x\n- b=2"
	if got != want {
		t.Fatalf("formatLine = %q, want %q", got, want)
	}
	if raw := formatLine([]byte("  plain text \n")); raw != "plain text" {
		t.Fatalf("non-JSON line = %q", raw)
	}
	if long := truncate(strings.Repeat("x", 50), 20); len(long) != 20 || !strings.HasSuffix(long, "...") {
		t.Fatalf("truncate = %q", long)
	}
}

func TestMaskAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"alice@example.com": "a***@example.com",
		" Émile@x.io ":      "É***@x.io",
		"@nolocal.com":      "***",
		"":                  "",
	}
	for in, want := range cases {
		if got := MaskAddr(in); got != want {
			t.Fatalf("MaskAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

package adapter

import (
	"strings"
	"testing"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := SplitText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}
	if got := SplitText("", 10, ""); len(got) != 1 {
		t.Fatalf("empty = %q", got)
	}

	got := SplitText("aaaa\nbbbb\ncccc", 10, "")
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Fatalf("newline split = %q", got)
	}

	long := strings.Repeat("x", 25)
	got = SplitText(long, 10, "")
	if len(got) != 3 || strings.Join(got, "") != long {
		t.Fatalf("hard split = %q", got)
	}

	got = SplitText("abcdef<b>bold</b>", 10, "HTML")
	if got[0] != "abcdef" || !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("html split = %q", got)
	}

	for _, part := range SplitText(strings.Repeat("é", 9000), TextLimit, "") {
		if n := len([]rune(part)); n > TextLimit {
			t.Fatalf("part has %d runes", n)
		}
	}
}

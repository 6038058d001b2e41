package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"dispatchbot/pkg/tgui"
)

// Text renders the notice for a chat. Output is plain text.
func (n Notice) Text() string {
	r := n.Report
	switch n.Kind {
	case NoticeRunStarted:
		return "🚀 Dispatch started."
	case NoticeAlreadyRunning:
		return fmt.Sprintf("⚠️ Already sending (%s so far).", humanize.Comma(int64(r.Sent)))
	case NoticeFirstSuccess:
		return fmt.Sprintf("✅ First message delivered to %s.", n.Email)
	case NoticeCheckpoint:
		return fmt.Sprintf("✅ %s messages sent. Taking a %s break.", humanize.Comma(int64(r.Sent)), roundPause(n.Pause))
	case NoticeRateLimited:
		return "🚨 The mail channel reports its sending limit is reached. " +
			"Update the relay or wait for the quota to reset, then start again."
	case NoticeTransportConfig:
		return "⚙️ The mail channel rejected the configuration: " + errText(n.Err)
	case NoticeFailureAbort:
		return fmt.Sprintf("❌ Stopping after %d consecutive failures. Last error: %s", r.Consecutive, errText(n.Err))
	case NoticeSummary:
		return summaryText(r)
	default:
		return n.Kind.String()
	}
}

func summaryText(r Report) string {
	var b strings.Builder
	b.WriteString("🏁 Run finished: ")
	b.WriteString(reasonText(r.Reason))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Sent: %s\nFailed: %s\n", humanize.Comma(int64(r.Sent)), humanize.Comma(int64(r.Failed)))
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(&b, "Took: %s\n", d.Round(time.Second))
	}
	if r.Err != nil && r.Reason != ReasonStopped {
		fmt.Fprintf(&b, "Error: %s\n", errText(r.Err))
	}
	return strings.TrimRight(b.String(), "\n")
}

func reasonText(r StopReason) string {
	switch r {
	case ReasonExhausted:
		return "no recipients left"
	case ReasonStopped:
		return "stopped"
	case ReasonRateLimited:
		return "channel limit reached"
	case ReasonTooManyFailures:
		return "too many failures"
	case ReasonStoreUnavailable:
		return "store unavailable"
	case ReasonConfigMissing:
		return "configuration missing"
	default:
		return string(r)
	}
}

func roundPause(d time.Duration) time.Duration {
	if d >= time.Minute {
		return d.Round(time.Second)
	}
	return d.Round(time.Millisecond)
}

func errText(err error) string {
	if err == nil {
		return "unknown"
	}
	return tgui.TruncRunes(err.Error(), 300)
}

package projector

import (
	"fmt"
	"strings"

	"github.com/nicebartender/relay-server/agentwire"
)

// statusMarker maps a tool status to the one-glyph prefix readers see.
func statusMarker(status string) string {
	switch status {
	case agentwire.ToolStatusCompleted:
		return "✓"
	case agentwire.ToolStatusFailed:
		return "✗"
	case agentwire.ToolStatusCanceled:
		return "⊘"
	default:
		return "⏳"
	}
}

// renderToolCall builds the bounded one-line summary for a tool event.
func renderToolCall(ev agentwire.ToolCall, limit int) string {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = "tool call"
	}
	var b strings.Builder
	b.WriteString(statusMarker(ev.Status))
	b.WriteString(" ")
	b.WriteString(title)
	if detail := condense(ev.Text); detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	return truncateRunes(b.String(), limit)
}

// renderStatus formats a non-text notice, bounded to limit runes.
// An empty result means there is nothing worth delivering.
func renderStatus(ev agentwire.Status, limit int) string {
	text := condense(ev.Text)
	switch ev.Tag {
	case agentwire.TagUsage:
		if ev.Used != nil && ev.Size != nil {
			return truncateRunes(fmt.Sprintf("usage: %d/%d tokens", *ev.Used, *ev.Size), limit)
		}
		if text == "" {
			return ""
		}
		return truncateRunes("usage: "+text, limit)
	case agentwire.TagModeUpdate:
		if text == "" {
			return ""
		}
		return truncateRunes("mode: "+text, limit)
	case agentwire.TagConfigUpdate:
		if text == "" {
			return ""
		}
		return truncateRunes("config: "+text, limit)
	default:
		return truncateRunes(text, limit)
	}
}

// condense collapses whitespace runs to single spaces so multi-line
// tool output reads as one line.
func condense(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes hard-cuts s to at most limit runes, marking the cut.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}

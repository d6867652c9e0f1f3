package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
)

// eventPayload is the subset of the extraction payload used for display.
type eventPayload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func payloadText(ev storage.Event) string {
	var p eventPayload
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &p)
	}
	if s := strings.TrimSpace(p.Title); s != "" {
		return s
	}
	if s := strings.TrimSpace(p.Text); s != "" {
		return s
	}
	return "(no details)"
}

// EventTitle returns a one-line label for list-style renderings.
func EventTitle(ev storage.Event) string {
	return payloadText(ev)
}

func typeLabel(t storage.EventType) string {
	switch t {
	case storage.TypeMeeting:
		return "📅 Meeting"
	case storage.TypePromiseByMe:
		return "🤝 You promised"
	case storage.TypePromiseByThem:
		return "📌 They promised"
	case storage.TypeTask:
		return "✅ Task"
	case storage.TypeFact:
		return "💡 Fact"
	case storage.TypeCancellation:
		return "❌ Cancelled"
	default:
		return "🔔 Event"
	}
}

// FormatEvent renders a single-event notification.
func FormatEvent(ev storage.Event, contactName string) string {
	var b strings.Builder
	b.WriteString(typeLabel(ev.Type))
	if contactName != "" {
		b.WriteString(" — ")
		b.WriteString(contactName)
	}
	b.WriteString("\n")
	b.WriteString(payloadText(ev))
	if ev.Type == storage.TypeMeeting && ev.StartAt != nil {
		b.WriteString("\n🕐 starts ")
		b.WriteString(ev.StartAt.Format("Mon 15:04"))
	}
	if strings.TrimSpace(ev.Deadline) != "" {
		b.WriteString("\n⏳ due ")
		b.WriteString(strings.TrimSpace(ev.Deadline))
	}
	return b.String()
}

// FormatDigest renders one message summarizing many events, in the order
// given. names maps chat id to display name (missing entries are fine).
func FormatDigest(pri Priority, events []storage.Event, names map[int64]string) string {
	var b strings.Builder
	switch pri {
	case PriorityHigh:
		b.WriteString("🔥 Needs attention now")
	case PriorityMedium:
		b.WriteString("🗂 Pending items")
	default:
		b.WriteString("📭 For later")
	}
	fmt.Fprintf(&b, " (%d)\n", len(events))
	for i, ev := range events {
		fmt.Fprintf(&b, "\n%d. %s", i+1, typeLabel(ev.Type))
		if name := names[ev.ChatID]; name != "" {
			b.WriteString(" — ")
			b.WriteString(name)
		}
		b.WriteString("\n   ")
		b.WriteString(payloadText(ev))
	}
	return b.String()
}

// FormatMorningBrief renders the daily brief header for a heterogeneous set
// of items; the items themselves are rendered by the brief service.
func FormatMorningBrief(day time.Time, count int) string {
	return fmt.Sprintf("☀️ Morning brief for %s — %d item(s) to review", day.Format("Mon, Jan 2"), count)
}

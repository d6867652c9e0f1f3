package notify

import (
	"strings"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Thresholds are live configuration; they may change between calls, which is
// why classification is recomputed on every use and never stored.
type Thresholds struct {
	// ConfidenceFloor gates the urgent-meeting rule.
	ConfidenceFloor float64
	// UrgentMeetingWindow promotes meetings starting within (0, window)
	// from now.
	UrgentMeetingWindow time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{ConfidenceFloor: 0.7, UrgentMeetingWindow: 2 * time.Hour}
}

// Classify maps an event to exactly one priority. Pure and deterministic:
// same inputs, same answer. Rules apply in order; the first match wins.
func Classify(ev storage.Event, now time.Time, th Thresholds) Priority {
	if ev.Type == storage.TypeCancellation {
		return PriorityHigh
	}
	if ev.Type == storage.TypeMeeting && ev.Confidence >= th.ConfidenceFloor && ev.StartAt != nil {
		until := ev.StartAt.Sub(now)
		if until > 0 && until < th.UrgentMeetingWindow {
			return PriorityHigh
		}
	}
	if ev.Type == storage.TypeTask {
		return PriorityMedium
	}
	if isPromise(ev.Type) && strings.TrimSpace(ev.Deadline) != "" {
		return PriorityMedium
	}
	return PriorityLow
}

func isPromise(t storage.EventType) bool {
	return t == storage.TypePromiseByMe || t == storage.TypePromiseByThem
}

package notify

import (
	"testing"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
)

func TestClassifyRules(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	th := Thresholds{ConfidenceFloor: 0.7, UrgentMeetingWindow: 2 * time.Hour}
	in := func(d time.Duration) *time.Time {
		t := now.Add(d)
		return &t
	}

	tests := []struct {
		name string
		ev   storage.Event
		want Priority
	}{
		{name: "cancellation always high", ev: storage.Event{Type: storage.TypeCancellation, Confidence: 0}, want: PriorityHigh},
		{name: "meeting soon confident", ev: storage.Event{Type: storage.TypeMeeting, Confidence: 0.9, StartAt: in(30 * time.Minute)}, want: PriorityHigh},
		{name: "meeting soon low confidence", ev: storage.Event{Type: storage.TypeMeeting, Confidence: 0.5, StartAt: in(30 * time.Minute)}, want: PriorityLow},
		{name: "meeting at floor", ev: storage.Event{Type: storage.TypeMeeting, Confidence: 0.7, StartAt: in(30 * time.Minute)}, want: PriorityHigh},
		{name: "meeting far away", ev: storage.Event{Type: storage.TypeMeeting, Confidence: 0.9, StartAt: in(5 * time.Hour)}, want: PriorityLow},
		{name: "meeting already started", ev: storage.Event{Type: storage.TypeMeeting, Confidence: 0.9, StartAt: in(-10 * time.Minute)}, want: PriorityLow},
		{name: "meeting without start time", ev: storage.Event{Type: storage.TypeMeeting, Confidence: 0.9}, want: PriorityLow},
		{name: "task", ev: storage.Event{Type: storage.TypeTask}, want: PriorityMedium},
		{name: "promise by me with deadline", ev: storage.Event{Type: storage.TypePromiseByMe, Deadline: "by friday"}, want: PriorityMedium},
		{name: "promise by them with deadline", ev: storage.Event{Type: storage.TypePromiseByThem, Deadline: "2025-06-05"}, want: PriorityMedium},
		{name: "promise without deadline", ev: storage.Event{Type: storage.TypePromiseByMe}, want: PriorityLow},
		{name: "promise with blank deadline", ev: storage.Event{Type: storage.TypePromiseByThem, Deadline: "   "}, want: PriorityLow},
		{name: "fact", ev: storage.Event{Type: storage.TypeFact, Confidence: 1}, want: PriorityLow},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.ev, now, th); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

// Classification is a total function: any type/confidence/timing combination
// maps to exactly one of the three priorities.
func TestClassifyTotal(t *testing.T) {
	t.Parallel()
	now := time.Now()
	th := DefaultThresholds()
	types := []storage.EventType{
		storage.TypeMeeting, storage.TypePromiseByMe, storage.TypePromiseByThem,
		storage.TypeTask, storage.TypeFact, storage.TypeCancellation,
		storage.EventType("unknown"),
	}
	starts := []*time.Time{nil}
	for _, d := range []time.Duration{-time.Hour, 30 * time.Minute, 48 * time.Hour} {
		t := now.Add(d)
		starts = append(starts, &t)
	}

	for _, typ := range types {
		for _, conf := range []float64{0, 0.4, 0.7, 1} {
			for _, st := range starts {
				for _, dl := range []string{"", "tomorrow"} {
					ev := storage.Event{Type: typ, Confidence: conf, StartAt: st, Deadline: dl}
					got := Classify(ev, now, th)
					switch got {
					case PriorityHigh, PriorityMedium, PriorityLow:
					default:
						t.Fatalf("Classify(%s, %v, %v, %q) = %q", typ, conf, st, dl, got)
					}
					if typ == storage.TypeCancellation && got != PriorityHigh {
						t.Fatalf("cancellation classified %s", got)
					}
				}
			}
		}
	}
}

// Thresholds are configuration: changing them must change the verdict
// without any stored state getting in the way.
func TestClassifyRespectsLiveThresholds(t *testing.T) {
	t.Parallel()
	now := time.Now()
	start := now.Add(90 * time.Minute)
	ev := storage.Event{Type: storage.TypeMeeting, Confidence: 0.8, StartAt: &start}

	if got := Classify(ev, now, Thresholds{ConfidenceFloor: 0.7, UrgentMeetingWindow: 2 * time.Hour}); got != PriorityHigh {
		t.Fatalf("wide window: %s", got)
	}
	if got := Classify(ev, now, Thresholds{ConfidenceFloor: 0.7, UrgentMeetingWindow: time.Hour}); got != PriorityLow {
		t.Fatalf("narrow window: %s", got)
	}
	if got := Classify(ev, now, Thresholds{ConfidenceFloor: 0.9, UrgentMeetingWindow: 2 * time.Hour}); got != PriorityLow {
		t.Fatalf("raised floor: %s", got)
	}
}

package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/brief"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/config"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
)

func payload(title string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"title": title})
	return b
}

func TestBuildBriefItems(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)
	today := now.Add(3 * time.Hour)
	tomorrow := now.Add(26 * time.Hour)

	pending := []storage.Event{
		{ID: "m-today", Type: storage.TypeMeeting, StartAt: &today, Payload: payload("standup")},
		{ID: "m-later", Type: storage.TypeMeeting, StartAt: &tomorrow, Payload: payload("planning")},
		{ID: "m-undated", Type: storage.TypeMeeting, Payload: payload("sometime")},
		{ID: "t-1", Type: storage.TypeTask, Deadline: "friday", Payload: payload("send report")},
		{ID: "p-due", Type: storage.TypePromiseByMe, Deadline: "tomorrow", Payload: payload("call back")},
		{ID: "p-open", Type: storage.TypePromiseByThem, Payload: payload("no deadline")},
		{ID: "f-1", Type: storage.TypeFact, Payload: payload("birthday")},
		{ID: "sys", Type: storage.TypeTask, Source: storage.SourceSystem, Payload: payload("internal")},
		{ID: "c-1", Type: storage.TypeCancellation, Payload: payload("cancelled")},
	}

	items := buildBriefItems(pending, now)

	want := map[string]brief.ItemKind{
		"m-today": brief.KindEvent,
		"t-1":     brief.KindTask,
		"p-due":   brief.KindEvent,
		"f-1":     brief.KindFact,
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items: %+v", len(items), items)
	}
	for _, it := range items {
		kind, ok := want[it.SourceID]
		if !ok {
			t.Fatalf("unexpected item %q", it.SourceID)
		}
		if it.Kind != kind {
			t.Fatalf("%s kind = %q, want %q", it.SourceID, it.Kind, kind)
		}
		if it.Title == "" {
			t.Fatalf("%s has empty title", it.SourceID)
		}
	}
}

func TestSameDay(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 10, 23, 30, 0, 0, time.Local)
	if !sameDay(base, base.Add(-20*time.Hour)) {
		t.Fatal("same calendar day not recognized")
	}
	if sameDay(base, base.Add(time.Hour)) {
		t.Fatal("midnight rollover treated as same day")
	}
}

func TestMapJobsConfig(t *testing.T) {
	t.Parallel()
	got, err := mapJobsConfig(config.JobsConfig{
		Workers:       4,
		QueueSize:     128,
		RetryMax:      2,
		RetryBase:     "250ms",
		RetryMaxDelay: "10s",
		RetryJitter:   0.3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Workers != 4 || got.Queue != 128 || got.RetryBase != 250*time.Millisecond {
		t.Fatalf("mapped config %+v", got)
	}
	if _, err := mapJobsConfig(config.JobsConfig{RetryBase: "soon"}); err == nil {
		t.Fatal("bad duration accepted")
	}
}

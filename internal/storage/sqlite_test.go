package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

func openTestStore(t *testing.T) EventStore {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "events.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedEvent(t *testing.T, st EventStore, id string, created time.Time) {
	t.Helper()
	err := st.InsertEvent(context.Background(), Event{
		ID:         id,
		ChatID:     100,
		Type:       TypeTask,
		Confidence: 0.9,
		CreatedAt:  created,
	})
	if err != nil {
		t.Fatalf("InsertEvent(%s): %v", id, err)
	}
}

func TestMarkNotifiedIsOneShot(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedEvent(t, st, "ev-1", time.Now())

	first, err := st.MarkNotified(ctx, "ev-1", time.Now())
	if err != nil {
		t.Fatalf("first MarkNotified: %v", err)
	}
	if !first {
		t.Fatal("first MarkNotified must win")
	}

	second, err := st.MarkNotified(ctx, "ev-1", time.Now())
	if err != nil {
		t.Fatalf("second MarkNotified: %v", err)
	}
	if second {
		t.Fatal("second MarkNotified must affect zero rows")
	}

	ev, err := st.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ev.NotificationSentAt == nil {
		t.Fatal("notification_sent_at not set")
	}
}

func TestMarkNotifiedConcurrent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedEvent(t, st, "ev-race", time.Now())

	const workers = 8
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			ok, err := st.MarkNotified(ctx, "ev-race", time.Now())
			if err != nil {
				wins <- false
				return
			}
			wins <- ok
		}()
	}

	won := 0
	for i := 0; i < workers; i++ {
		if <-wins {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("exactly one worker must win the conditional update, got %d", won)
	}
}

func TestMarkNotifiedBatchIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	ids := []string{"b1", "b2", "b3"}
	for i, id := range ids {
		seedEvent(t, st, id, time.Now().Add(time.Duration(i)*time.Millisecond))
	}

	n, err := st.MarkNotifiedBatch(ctx, ids, time.Now())
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if n != 3 {
		t.Fatalf("first batch marked %d, want 3", n)
	}

	n, err = st.MarkNotifiedBatch(ctx, ids, time.Now())
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if n != 0 {
		t.Fatalf("retried batch marked %d additional rows, want 0", n)
	}

	if n, err := st.MarkNotifiedBatch(ctx, nil, time.Now()); err != nil || n != 0 {
		t.Fatalf("empty batch: n=%d err=%v", n, err)
	}
}

func TestListPendingWindowAndOrder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		seedEvent(t, st, fmt.Sprintf("p-%02d", i), base.Add(time.Duration(i)*time.Minute))
	}

	got, err := st.ListPending(ctx, 4)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("window not applied, got %d events", len(got))
	}
	// Window keeps the newest rows but preserves creation order inside it.
	want := []string{"p-06", "p-07", "p-08", "p-09"}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("order mismatch at %d: got %s want %s", i, got[i].ID, want[i])
		}
	}

	// Notified events leave the pending scan.
	if _, err := st.MarkNotified(ctx, "p-09", time.Now()); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	got, err = st.ListPending(ctx, 100)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	for _, e := range got {
		if e.ID == "p-09" {
			t.Fatal("notified event still listed as pending")
		}
	}
}

func TestListPendingSubSecondOrder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	// Fractional seconds that are string-prefixes of each other must still
	// sort numerically (".12" vs ".125").
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	seedEvent(t, st, "late", base.Add(125*time.Millisecond))
	seedEvent(t, st, "early", base.Add(120*time.Millisecond))

	got, err := st.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(got) != 2 || got[0].ID != "early" || got[1].ID != "late" {
		ids := make([]string, len(got))
		for i, e := range got {
			ids[i] = e.ID
		}
		t.Fatalf("creation order violated: %v", ids)
	}
	if !got[0].CreatedAt.Equal(base.Add(120 * time.Millisecond)) {
		t.Fatalf("created_at round-trip lost precision: %v", got[0].CreatedAt)
	}
}

func TestExpirePendingOffsetCutoff(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	zone := time.FixedZone("UTC+5", 5*3600)
	now := time.Now()
	seedEvent(t, st, "stale", now.Add(-8*24*time.Hour).In(zone))
	seedEvent(t, st, "live", now.In(zone))

	// A cutoff expressed in a different zone refers to the same instant and
	// must classify rows identically.
	n, err := st.ExpirePending(ctx, now.Add(-7*24*time.Hour).In(zone))
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	if ev, _ := st.GetEvent(ctx, "live"); ev.Status != StatusPending {
		t.Fatalf("live event status = %s, want pending", ev.Status)
	}
}

func TestExpirePending(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	seedEvent(t, st, "old", time.Now().Add(-8*24*time.Hour))
	seedEvent(t, st, "fresh", time.Now())

	n, err := st.ExpirePending(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}

	ev, err := st.GetEvent(ctx, "old")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ev.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", ev.Status)
	}
	ev, _ = st.GetEvent(ctx, "fresh")
	if ev.Status != StatusPending {
		t.Fatalf("fresh event status = %s, want pending", ev.Status)
	}
}

func TestSetStatusStampsResponse(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedEvent(t, st, "ev-ok", time.Now())

	if err := st.SetStatus(ctx, "ev-ok", StatusConfirmed); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	ev, err := st.GetEvent(ctx, "ev-ok")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ev.Status != StatusConfirmed || ev.UserResponseAt == nil {
		t.Fatalf("status=%s responseAt=%v", ev.Status, ev.UserResponseAt)
	}

	if err := st.SetStatus(ctx, "ghost", StatusRejected); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetStatus(ghost) = %v, want ErrNotFound", err)
	}
}

func TestContactLookup(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	name, err := st.ContactName(ctx, 42)
	if err != nil || name != "" {
		t.Fatalf("unknown contact: %q, %v", name, err)
	}

	type upserter interface {
		UpsertContact(ctx context.Context, c Contact) error
	}
	u, ok := st.(upserter)
	if !ok {
		t.Fatal("store does not support contact upsert")
	}
	if err := u.UpsertContact(ctx, Contact{ChatID: 42, DisplayName: "Ann"}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	name, err = st.ContactName(ctx, 42)
	if err != nil || name != "Ann" {
		t.Fatalf("contact: %q, %v", name, err)
	}
}

package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

func newTestBatcher(store storage.EventStore, adapter *fakeAdapter) (*Batcher, *ephemeral.ShortRefStore) {
	refs := ephemeral.NewShortRefStore(ephemeral.NewStore())
	b := NewBatcher(Config{ScanWindow: 200}, store, refs, adapter, DefaultThresholds, logx.Nop())
	return b, refs
}

func seedPending(t *testing.T, store *fakeStore, id string, typ storage.EventType, age time.Duration, source string) {
	t.Helper()
	err := store.InsertEvent(context.Background(), storage.Event{
		ID:         id,
		ChatID:     1,
		Type:       typ,
		Confidence: 0.9,
		Source:     source,
		CreatedAt:  time.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestBuildDigestFiltersAndOrders(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	adapter := newFakeAdapter(7)
	b, _ := newTestBatcher(store, adapter)
	ctx := context.Background()

	seedPending(t, store, "t1", storage.TypeTask, 3*time.Hour, "")
	seedPending(t, store, "f1", storage.TypeFact, 2*time.Hour, "")
	seedPending(t, store, "t2", storage.TypeTask, 1*time.Hour, "")
	seedPending(t, store, "sys", storage.TypeTask, 30*time.Minute, storage.SourceSystem)

	got, err := b.BuildDigest(ctx, PriorityMedium, 10)
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}
	if len(got) != 2 || got[0].ID != "t1" || got[1].ID != "t2" {
		ids := make([]string, 0, len(got))
		for _, e := range got {
			ids = append(ids, e.ID)
		}
		t.Fatalf("digest = %v, want [t1 t2] (system events skipped, creation order)", ids)
	}

	// limit truncates but keeps order.
	got, _ = b.BuildDigest(ctx, PriorityMedium, 1)
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("limited digest = %v", got)
	}

	// A different priority sees different events.
	got, _ = b.BuildDigest(ctx, PriorityLow, 10)
	if len(got) != 1 || got[0].ID != "f1" {
		t.Fatalf("low digest = %v", got)
	}
}

func TestSendDigestMarksBatchOnce(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	adapter := newFakeAdapter(7)
	b, refs := newTestBatcher(store, adapter)
	ctx := context.Background()

	seedPending(t, store, "d1", storage.TypeTask, 2*time.Hour, "")
	seedPending(t, store, "d2", storage.TypeTask, 1*time.Hour, "")

	events, err := b.BuildDigest(ctx, PriorityMedium, 10)
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}

	n, err := b.SendDigest(ctx, PriorityMedium, events)
	if err != nil {
		t.Fatalf("SendDigest: %v", err)
	}
	if n != 2 {
		t.Fatalf("newly marked %d, want 2", n)
	}

	// A retried job with the same batch re-sends but counts zero new marks.
	n, err = b.SendDigest(ctx, PriorityMedium, events)
	if err != nil {
		t.Fatalf("retried SendDigest: %v", err)
	}
	if n != 0 {
		t.Fatalf("retry marked %d, want 0", n)
	}

	// The digest button token resolves to the batch ids in order.
	msg, ok := adapter.lastSent()
	if !ok || len(msg.Buttons) == 0 {
		t.Fatal("digest message missing buttons")
	}
	data := msg.Buttons[0][0].Data
	token := strings.TrimPrefix(data, ActionConfirm+":")
	ids, err := refs.Get(token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if len(ids) != 2 || ids[0] != "d1" || ids[1] != "d2" {
		t.Fatalf("token ids = %v", ids)
	}
}

func TestSendDigestEmptyIsNoop(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	adapter := newFakeAdapter(7)
	b, _ := newTestBatcher(store, adapter)

	n, err := b.SendDigest(context.Background(), PriorityMedium, nil)
	if err != nil || n != 0 {
		t.Fatalf("empty digest: n=%d err=%v", n, err)
	}
	if adapter.sentCount() != 0 {
		t.Fatal("empty digest must not send")
	}
}

func TestSendDigestFailureLeavesEventsPending(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	adapter := newFakeAdapter(7)
	adapter.sendErr = errSendBoom
	b, _ := newTestBatcher(store, adapter)
	ctx := context.Background()

	seedPending(t, store, "d1", storage.TypeTask, time.Hour, "")
	events, _ := b.BuildDigest(ctx, PriorityMedium, 10)

	if _, err := b.SendDigest(ctx, PriorityMedium, events); !errors.Is(err, errSendBoom) {
		t.Fatalf("err = %v, want send failure", err)
	}
	got, _ := store.GetEvent(ctx, "d1")
	if got.NotificationSentAt != nil {
		t.Fatal("failed digest must not mark events")
	}
}

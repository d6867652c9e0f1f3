package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

func newTestDispatcher(store storage.EventStore, adapter *fakeAdapter) *Dispatcher {
	refs := ephemeral.NewShortRefStore(ephemeral.NewStore())
	return NewDispatcher(Config{RatePerSec: 1000}, store, refs, adapter, logx.Nop())
}

func TestNotifySendsAndMarks(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	adapter := newFakeAdapter(7)
	d := newTestDispatcher(store, adapter)
	ctx := context.Background()

	ev := storage.Event{ID: "ev-1", ChatID: 5, Type: storage.TypeTask, CreatedAt: time.Now()}
	_ = store.InsertEvent(ctx, ev)
	store.names[5] = "Bob"

	if err := d.Notify(ctx, ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if adapter.sentCount() != 1 {
		t.Fatalf("sent %d messages, want 1", adapter.sentCount())
	}
	msg, _ := adapter.lastSent()
	if msg.To.ChatID != 7 {
		t.Fatalf("sent to %d, want owner chat 7", msg.To.ChatID)
	}
	if !strings.Contains(msg.Text, "Bob") {
		t.Fatalf("contact name missing from message: %q", msg.Text)
	}
	if len(msg.Buttons) != 1 || len(msg.Buttons[0]) != 2 {
		t.Fatalf("expected one confirm/reject row, got %v", msg.Buttons)
	}
	for _, b := range msg.Buttons[0] {
		if len(b.Data) > 64 {
			t.Fatalf("callback data %q exceeds the 64-byte budget", b.Data)
		}
	}

	got, _ := store.GetEvent(ctx, "ev-1")
	if got.NotificationSentAt == nil {
		t.Fatal("event not marked notified")
	}
}

// Two concurrent Notify calls for the same event may both send, but exactly
// one durably records the notification; the loser still reports success.
func TestNotifyConcurrentSingleCommit(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	adapter := newFakeAdapter(7)
	d := newTestDispatcher(store, adapter)
	ctx := context.Background()

	ev := storage.Event{ID: "ev-race", ChatID: 5, Type: storage.TypeTask, CreatedAt: time.Now()}
	_ = store.InsertEvent(ctx, ev)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.Notify(ctx, ev)
		}(i)
	}
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("both calls must succeed: %v, %v", errs[0], errs[1])
	}
	got, _ := store.GetEvent(ctx, "ev-race")
	if got.NotificationSentAt == nil {
		t.Fatal("event not marked notified")
	}
	// The second commit must have been a no-op: calling MarkNotified again
	// affects zero rows.
	ok, err := store.MarkNotified(ctx, "ev-race", time.Now())
	if err != nil || ok {
		t.Fatalf("mark after race: ok=%v err=%v", ok, err)
	}
}

func TestNotifySendFailureSkipsMark(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	adapter := newFakeAdapter(7)
	adapter.sendErr = errSendBoom
	d := newTestDispatcher(store, adapter)
	ctx := context.Background()

	ev := storage.Event{ID: "ev-fail", ChatID: 5, Type: storage.TypeTask, CreatedAt: time.Now()}
	_ = store.InsertEvent(ctx, ev)

	err := d.Notify(ctx, ev)
	if !errors.Is(err, errSendBoom) {
		t.Fatalf("Notify error = %v, want send failure", err)
	}
	got, _ := store.GetEvent(ctx, "ev-fail")
	if got.NotificationSentAt != nil {
		t.Fatal("failed send must not mark the event, retry would be suppressed")
	}

	// Retry after the transient failure goes through.
	adapter.sendErr = nil
	if err := d.Notify(ctx, ev); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ = store.GetEvent(ctx, "ev-fail")
	if got.NotificationSentAt == nil {
		t.Fatal("retry did not mark the event")
	}
}

func TestNotifyAdapterNotReady(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	adapter := newFakeAdapter(0) // no owner chat
	d := newTestDispatcher(store, adapter)

	err := d.Notify(context.Background(), storage.Event{ID: "x", Type: storage.TypeTask})
	if !errors.Is(err, ErrAdapterNotReady) {
		t.Fatalf("err = %v, want ErrAdapterNotReady", err)
	}
	if adapter.sentCount() != 0 {
		t.Fatal("nothing should be sent without an owner chat")
	}
}

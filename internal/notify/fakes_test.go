package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
)

// fakeStore is an in-memory storage.EventStore with the same conditional
// mark-notified semantics as the sqlite implementation.
type fakeStore struct {
	mu     sync.Mutex
	events map[string]*storage.Event
	names  map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[string]*storage.Event{}, names: map[int64]string{}}
}

func (f *fakeStore) InsertEvent(_ context.Context, e storage.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Status == "" {
		e.Status = storage.StatusPending
	}
	cp := e
	f.events[e.ID] = &cp
	return nil
}

func (f *fakeStore) GetEvent(_ context.Context, id string) (storage.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return storage.Event{}, storage.ErrNotFound
	}
	return *e, nil
}

func (f *fakeStore) ListPending(_ context.Context, window int) ([]storage.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []storage.Event
	for _, e := range f.events {
		if e.Status == storage.StatusPending && e.NotificationSentAt == nil {
			all = append(all, *e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if window > 0 && len(all) > window {
		all = all[len(all)-window:]
	}
	return all, nil
}

func (f *fakeStore) MarkNotified(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok || e.NotificationSentAt != nil {
		return false, nil
	}
	cp := at
	e.NotificationSentAt = &cp
	return true, nil
}

func (f *fakeStore) MarkNotifiedBatch(ctx context.Context, ids []string, at time.Time) (int, error) {
	n := 0
	for _, id := range ids {
		ok, err := f.MarkNotified(ctx, id, at)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetStatus(_ context.Context, id string, st storage.EventStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.Status = st
	now := time.Now()
	e.UserResponseAt = &now
	return nil
}

func (f *fakeStore) ExpirePending(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Status == storage.StatusPending && e.CreatedAt.Before(cutoff) {
			e.Status = storage.StatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ContactName(_ context.Context, chatID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[chatID], nil
}

func (f *fakeStore) Close() error { return nil }

type sentMessage struct {
	To      kit.ChatTarget
	Text    string
	Buttons [][]kit.Button
}

// fakeAdapter records outbound sends and can be told to fail.
type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentMessage
	edits   []kit.MessageRef
	sendErr error
	ready   bool
	owner   int64
	nextID  int
}

func newFakeAdapter(owner int64) *fakeAdapter {
	return &fakeAdapter{ready: true, owner: owner}
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return kit.MessageRef{}, a.sendErr
	}
	var buttons [][]kit.Button
	if opt != nil {
		buttons = opt.Buttons
	}
	a.sent = append(a.sent, sentMessage{To: to, Text: text, Buttons: buttons})
	a.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: a.nextID}, nil
}

func (a *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, _ string, _ *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.edits = append(a.edits, ref)
	return nil
}

func (a *fakeAdapter) SendAsUser(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, error) {
	return a.SendText(ctx, to, text, nil)
}

func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *fakeAdapter) Status() kit.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return kit.Status{Ready: a.ready, OwnerChatID: a.owner}
}

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func (a *fakeAdapter) lastSent() (sentMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return sentMessage{}, false
	}
	return a.sent[len(a.sent)-1], true
}

var errSendBoom = errors.New("send boom")

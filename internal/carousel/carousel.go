// Package carousel implements a one-at-a-time paginated review flow over a
// fixed set of events, with skip-processed and wraparound navigation.
package carousel

import (
	"context"
	"errors"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

var (
	ErrEmpty = errors.New("carousel: no items")
	// ErrNotFound means the carousel state expired or was deleted.
	ErrNotFound = ephemeral.ErrNotFound
)

// State is the full JSON snapshot kept in the ephemeral store. Every
// mutation rewrites it completely and refreshes the TTL.
//
// Invariants: Processed ⊆ EventIDs; CurrentIdx always indexes into EventIDs
// (it may transiently point at an already-processed item).
type State struct {
	EventIDs   []string        `json:"eventIds"`
	CurrentIdx int             `json:"currentIndex"`
	Processed  map[string]bool `json:"processedIds"`
	ChatID     int64           `json:"chatId"`
	MessageID  int             `json:"messageId"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (s *State) isProcessed(id string) bool { return s.Processed[id] }

func (s *State) complete() bool { return len(s.Processed) >= len(s.EventIDs) }

// EventGetter is the slice of the domain store the engine needs: existence
// checks for dangling-id handling plus display data.
type EventGetter interface {
	GetEvent(ctx context.Context, id string) (storage.Event, error)
}

// Engine drives carousel navigation over ephemeral state.
type Engine struct {
	store  *ephemeral.Store
	events EventGetter
	log    logx.Logger
}

func NewEngine(store *ephemeral.Store, events EventGetter, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: store, events: events, log: log}
}

// Create starts a carousel over items and returns its key. An empty item
// list is rejected at the boundary and never produces a state record.
func (e *Engine) Create(items []string, ref kit.MessageRef) (string, error) {
	if len(items) == 0 {
		return "", ErrEmpty
	}
	st := State{
		EventIDs:   append([]string(nil), items...),
		CurrentIdx: 0,
		Processed:  map[string]bool{},
		ChatID:     ref.ChatID,
		MessageID:  ref.MessageID,
		CreatedAt:  time.Now(),
	}
	return e.store.Put(ephemeral.NamespaceCarousel, st)
}

// Get returns the raw state snapshot.
func (e *Engine) Get(key string) (State, error) {
	var st State
	if err := e.store.Get(ephemeral.NamespaceCarousel, key, &st); err != nil {
		return State{}, err
	}
	if st.Processed == nil {
		st.Processed = map[string]bool{}
	}
	return st, nil
}

// Current returns the first unprocessed event at or after the cursor.
// ok=false means the carousel is complete in the forward direction.
func (e *Engine) Current(ctx context.Context, key string) (storage.Event, bool, error) {
	st, err := e.Get(key)
	if err != nil {
		return storage.Event{}, false, err
	}
	return e.scan(ctx, key, &st, st.CurrentIdx, len(st.EventIDs)-1, +1, false)
}

// Next advances to the next unprocessed event. If none exists after the
// cursor it wraps to the start and scans once more; each direction is
// scanned at most once, so completion can never loop.
func (e *Engine) Next(ctx context.Context, key string) (storage.Event, bool, error) {
	st, err := e.Get(key)
	if err != nil {
		return storage.Event{}, false, err
	}
	return e.scan(ctx, key, &st, st.CurrentIdx+1, len(st.EventIDs)-1, +1, true)
}

// Prev moves backward, wrapping to the end when nothing remains before the
// cursor.
func (e *Engine) Prev(ctx context.Context, key string) (storage.Event, bool, error) {
	st, err := e.Get(key)
	if err != nil {
		return storage.Event{}, false, err
	}
	return e.scan(ctx, key, &st, st.CurrentIdx-1, 0, -1, true)
}

// scan walks from `from` toward `to` (inclusive) in direction dir, then
// wraps once to the opposite end if wrap is true. Dangling ids (deleted from
// the domain store) are marked processed in passing so navigation never gets
// stuck on a missing item.
func (e *Engine) scan(ctx context.Context, key string, st *State, from, to, dir int, wrap bool) (storage.Event, bool, error) {
	dirty := false
	defer func() {
		if dirty {
			if err := e.store.Set(ephemeral.NamespaceCarousel, key, *st); err != nil {
				e.log.Warn("carousel state write failed", logx.String("key", key), logx.Err(err))
			}
		}
	}()

	legs := [][2]int{{from, to}}
	if wrap {
		if dir > 0 {
			legs = append(legs, [2]int{0, st.CurrentIdx})
		} else {
			legs = append(legs, [2]int{len(st.EventIDs) - 1, st.CurrentIdx})
		}
	}

	for _, leg := range legs {
		for i := leg[0]; dir > 0 && i <= leg[1] || dir < 0 && i >= leg[1]; i += dir {
			if i < 0 || i >= len(st.EventIDs) {
				break
			}
			id := st.EventIDs[i]
			if st.isProcessed(id) {
				continue
			}
			ev, err := e.events.GetEvent(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				// Dangling id: skip it permanently instead of surfacing
				// an error to the user.
				st.Processed[id] = true
				dirty = true
				continue
			}
			if err != nil {
				return storage.Event{}, false, err
			}
			if st.CurrentIdx != i {
				st.CurrentIdx = i
				dirty = true
			}
			return ev, true, nil
		}
	}
	return storage.Event{}, false, nil
}

// MarkProcessed records id as handled. Idempotent: marking an id twice is a
// no-op and does not rewrite state (no needless TTL churn). Ids outside the
// carousel are ignored.
func (e *Engine) MarkProcessed(key, id string) error {
	st, err := e.Get(key)
	if err != nil {
		return err
	}
	if st.isProcessed(id) {
		return nil
	}
	known := false
	for _, x := range st.EventIDs {
		if x == id {
			known = true
			break
		}
	}
	if !known {
		return nil
	}
	st.Processed[id] = true
	return e.store.Set(ephemeral.NamespaceCarousel, key, st)
}

// IsComplete reports whether every item has been processed. A missing
// (expired) carousel counts as complete: there is nothing left to act on.
func (e *Engine) IsComplete(key string) bool {
	st, err := e.Get(key)
	if err != nil {
		return true
	}
	return st.complete()
}

// Delete drops the carousel, normally once the review finished.
func (e *Engine) Delete(key string) {
	e.store.Delete(ephemeral.NamespaceCarousel, key)
}

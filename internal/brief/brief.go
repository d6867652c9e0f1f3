// Package brief implements the morning-brief accordion: an ordered list of
// heterogeneous review items where at most one is expanded at a time.
package brief

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

var (
	ErrEmpty    = errors.New("brief: no items")
	ErrBadIndex = errors.New("brief: index out of range")
	// ErrNotFound means the brief expired or was deleted.
	ErrNotFound = ephemeral.ErrNotFound
)

// ItemKind tags where a brief item came from, so user verdicts can be routed
// to the right status update. Adding a kind means extending the switch in
// applyVerdict; the default arm rejects unknown kinds instead of guessing.
type ItemKind string

const (
	KindEvent ItemKind = "event"
	KindTask  ItemKind = "task"
	KindFact  ItemKind = "fact"
)

// Item is one entry of the brief.
type Item struct {
	Kind     ItemKind `json:"kind"`
	SourceID string   `json:"sourceId"`
	Title    string   `json:"title"`
	Details  string   `json:"details,omitempty"`
}

// State is the full snapshot kept in the ephemeral store.
// Invariant: ExpandedIdx is nil or a valid index into Items; RemoveItem
// re-indexes or nulls it to preserve this.
type State struct {
	Items       []Item    `json:"items"`
	ExpandedIdx *int      `json:"expandedIndex"`
	ChatID      int64     `json:"chatId"`
	MessageID   int       `json:"messageId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StatusStore is the slice of the domain store the brief needs for verdict
// routing.
type StatusStore interface {
	SetStatus(ctx context.Context, id string, st storage.EventStatus) error
}

type Service struct {
	store  *ephemeral.Store
	status StatusStore
	log    logx.Logger
}

func NewService(store *ephemeral.Store, status StatusStore, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, status: status, log: log}
}

// Create starts a brief and returns its key. Zero items are rejected at the
// boundary and never produce a state record.
func (s *Service) Create(items []Item, ref kit.MessageRef) (string, error) {
	if len(items) == 0 {
		return "", ErrEmpty
	}
	st := State{
		Items:     append([]Item(nil), items...),
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		CreatedAt: time.Now(),
	}
	return s.store.Put(ephemeral.NamespaceBrief, st)
}

func (s *Service) Get(key string) (State, error) {
	var st State
	if err := s.store.Get(ephemeral.NamespaceBrief, key, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Expand opens item idx; any previously expanded item collapses implicitly.
func (s *Service) Expand(key string, idx int) (State, error) {
	st, err := s.Get(key)
	if err != nil {
		return State{}, err
	}
	if idx < 0 || idx >= len(st.Items) {
		return State{}, ErrBadIndex
	}
	st.ExpandedIdx = &idx
	return st, s.store.Set(ephemeral.NamespaceBrief, key, st)
}

// Collapse closes the expanded item, if any.
func (s *Service) Collapse(key string) (State, error) {
	st, err := s.Get(key)
	if err != nil {
		return State{}, err
	}
	st.ExpandedIdx = nil
	return st, s.store.Set(ephemeral.NamespaceBrief, key, st)
}

// RemoveItem drops item idx and restores the expanded-index invariant:
// indexes after the removed one shift left, removing the expanded item
// itself collapses the brief.
func (s *Service) RemoveItem(key string, idx int) (State, error) {
	st, err := s.Get(key)
	if err != nil {
		return State{}, err
	}
	if idx < 0 || idx >= len(st.Items) {
		return State{}, ErrBadIndex
	}
	st.Items = append(st.Items[:idx], st.Items[idx+1:]...)
	if st.ExpandedIdx != nil {
		switch {
		case *st.ExpandedIdx == idx:
			st.ExpandedIdx = nil
		case *st.ExpandedIdx > idx:
			shifted := *st.ExpandedIdx - 1
			st.ExpandedIdx = &shifted
		}
	}
	if len(st.Items) == 0 {
		st.ExpandedIdx = nil
	}
	return st, s.store.Set(ephemeral.NamespaceBrief, key, st)
}

// MarkDone records a positive verdict for item idx and removes it from the
// brief.
func (s *Service) MarkDone(ctx context.Context, key string, idx int) (State, error) {
	return s.resolve(ctx, key, idx, true)
}

// MarkDismissed records a negative verdict for item idx and removes it.
func (s *Service) MarkDismissed(ctx context.Context, key string, idx int) (State, error) {
	return s.resolve(ctx, key, idx, false)
}

func (s *Service) resolve(ctx context.Context, key string, idx int, done bool) (State, error) {
	st, err := s.Get(key)
	if err != nil {
		return State{}, err
	}
	if idx < 0 || idx >= len(st.Items) {
		return State{}, ErrBadIndex
	}
	if err := s.applyVerdict(ctx, st.Items[idx], done); err != nil {
		return State{}, err
	}
	return s.RemoveItem(key, idx)
}

// TriggerAction returns the item at idx so the caller can start its
// follow-up flow (e.g. drafting a reply for approval). The brief itself is
// not mutated; the item stays until a verdict lands.
func (s *Service) TriggerAction(key string, idx int) (Item, error) {
	st, err := s.Get(key)
	if err != nil {
		return Item{}, err
	}
	if idx < 0 || idx >= len(st.Items) {
		return Item{}, ErrBadIndex
	}
	return st.Items[idx], nil
}

// applyVerdict routes the verdict to the per-kind status update. The switch
// is exhaustive over ItemKind; a new kind fails loudly here until it gets
// its own arm.
func (s *Service) applyVerdict(ctx context.Context, it Item, done bool) error {
	switch it.Kind {
	case KindEvent:
		return s.markEvent(ctx, it.SourceID, done)
	case KindTask:
		return s.markTask(ctx, it.SourceID, done)
	case KindFact:
		return s.markFact(ctx, it.SourceID, done)
	default:
		return fmt.Errorf("brief: unknown source kind %q", it.Kind)
	}
}

func (s *Service) markEvent(ctx context.Context, id string, done bool) error {
	if done {
		return s.status.SetStatus(ctx, id, storage.StatusConfirmed)
	}
	return s.status.SetStatus(ctx, id, storage.StatusRejected)
}

func (s *Service) markTask(ctx context.Context, id string, done bool) error {
	if done {
		return s.status.SetStatus(ctx, id, storage.StatusAutoProcessed)
	}
	return s.status.SetStatus(ctx, id, storage.StatusRejected)
}

func (s *Service) markFact(ctx context.Context, id string, done bool) error {
	if done {
		return s.status.SetStatus(ctx, id, storage.StatusConfirmed)
	}
	return s.status.SetStatus(ctx, id, storage.StatusRejected)
}

// Delete drops the brief explicitly (all items handled).
func (s *Service) Delete(key string) {
	s.store.Delete(ephemeral.NamespaceBrief, key)
}

// Render formats the accordion view: collapsed items as one-liners, the
// expanded item with its details inline.
func Render(st State) string {
	if len(st.Items) == 0 {
		return "✨ All caught up."
	}
	var b strings.Builder
	for i, it := range st.Items {
		if i > 0 {
			b.WriteString("\n")
		}
		expanded := st.ExpandedIdx != nil && *st.ExpandedIdx == i
		if expanded {
			fmt.Fprintf(&b, "▼ %d. %s", i+1, it.Title)
			if strings.TrimSpace(it.Details) != "" {
				b.WriteString("\n   ")
				b.WriteString(it.Details)
			}
		} else {
			fmt.Fprintf(&b, "▶ %d. %s", i+1, it.Title)
		}
	}
	return b.String()
}

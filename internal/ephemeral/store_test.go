package ephemeral

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewStore()

	type payload struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}
	in := payload{Name: "x", Items: []string{"a", "b"}}

	key, err := s.Put("carousel", in)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key == "" || strings.Contains(key, ":") {
		t.Fatalf("key %q must be non-empty and colon-free", key)
	}

	var out payload
	if err := s.Get("carousel", key, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Name != in.Name || len(out.Items) != 2 || out.Items[0] != "a" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestGetMissingAndDeleted(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.Get("carousel", "nope", new(map[string]any)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: got %v, want ErrNotFound", err)
	}

	key, err := s.Put("carousel", map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Delete("carousel", key)
	if err := s.Get("carousel", key, new(map[string]int)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key: got %v, want ErrNotFound", err)
	}
}

func TestNamespaceTTLExpiry(t *testing.T) {
	t.Parallel()
	s := NewStore().WithNamespaceTTL("approval", 10*time.Millisecond)

	key, err := s.Put("approval", "pending")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	var v string
	if err := s.Get("approval", key, &v); err != nil {
		t.Fatalf("fresh Get: %v", err)
	}

	time.Sleep(25 * time.Millisecond)
	if err := s.Get("approval", key, &v); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired Get: got %v, want ErrNotFound", err)
	}
}

func TestSetRefreshesValueUnderSameKey(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.Set("brief", "k1", []int{1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("brief", "k1", []int{1, 2, 3}); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	var v []int
	if err := s.Get("brief", "k1", &v); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(v) != 3 {
		t.Fatalf("expected full-value rewrite, got %v", v)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.Set("carousel", "same", "carousel-value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("brief", "same", "brief-value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var v string
	if err := s.Get("carousel", "same", &v); err != nil || v != "carousel-value" {
		t.Fatalf("carousel read: %q, %v", v, err)
	}
	s.Delete("carousel", "same")
	if err := s.Get("brief", "same", &v); err != nil || v != "brief-value" {
		t.Fatalf("brief read after carousel delete: %q, %v", v, err)
	}
}

func TestCorruptValueDeletedOnRead(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.Set("brief", "bad", "just a string"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Decoding a string snapshot into a struct fails; the entry must be
	// dropped so the next read doesn't hit the same failure.
	var out struct{ A int }
	if err := s.Get("brief", "bad", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt Get: got %v, want ErrNotFound", err)
	}
	if s.Len() != 0 {
		t.Fatalf("corrupt entry still present, len=%d", s.Len())
	}
}

func TestMaxEntriesEviction(t *testing.T) {
	t.Parallel()
	s := NewStore().WithMax(10)

	for i := 0; i < 50; i++ {
		if _, err := s.Put("carousel", i); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if s.Len() > 10 {
		t.Fatalf("len=%d exceeds max", s.Len())
	}
}

func TestShortRefRoundTrip(t *testing.T) {
	t.Parallel()
	refs := NewShortRefStore(NewStore())

	ids := []string{"ev-a", "ev-b", "ev-c"}
	tok, err := refs.Put(ids)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len("c:"+tok) > 64 {
		t.Fatalf("token %q does not fit the callback budget", tok)
	}

	got, err := refs.Get(tok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("order not preserved: %v", got)
		}
	}

	refs.Delete(tok)
	if _, err := refs.Get(tok); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted token: got %v, want ErrNotFound", err)
	}
}

func TestShortRefExpiry(t *testing.T) {
	t.Parallel()
	store := NewStore().WithNamespaceTTL(NamespaceDigestRef, 10*time.Millisecond)
	refs := NewShortRefStore(store)

	tok, err := refs.Put([]string{"a"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := refs.Get(tok); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired token: got %v, want ErrNotFound", err)
	}
}

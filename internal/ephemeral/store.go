package ephemeral

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key is missing, expired, or its stored
// value could not be decoded (corrupt values are deleted on read).
var ErrNotFound = errors.New("ephemeral: not found")

// Store is an in-memory TTL store for short-lived conversation state.
//
// Keys live inside namespaces ("carousel", "approval", ...), each with its
// own fixed TTL. Values are full JSON snapshots: every write replaces the
// whole value and refreshes the TTL. There is no partial-field update and no
// optimistic-concurrency check; two concurrent writers to the same key race
// and the last writer wins.
type Store struct {
	mu sync.RWMutex

	max        int
	defaultTTL time.Duration
	ttls       map[string]time.Duration

	// cleanupInterval controls how often we run an O(n) sweep to drop
	// expired entries, instead of scanning the whole map on every Get/Put.
	cleanupInterval time.Duration
	nextCleanup     time.Time

	m map[string]entry
}

type entry struct {
	b   []byte
	exp time.Time
}

// NewStore creates a Store with sensible defaults.
// Defaults: ttl=15m, max=5000, cleanupInterval=1m.
func NewStore() *Store {
	return &Store{
		defaultTTL:      15 * time.Minute,
		max:             5000,
		cleanupInterval: 1 * time.Minute,
		ttls:            map[string]time.Duration{},
		m:               map[string]entry{},
	}
}

// WithNamespaceTTL fixes the TTL used for keys in the given namespace.
func (s *Store) WithNamespaceTTL(ns string, ttl time.Duration) *Store {
	if s == nil || ttl <= 0 || ns == "" {
		return s
	}
	s.mu.Lock()
	s.ttls[ns] = ttl
	s.mu.Unlock()
	return s
}

// WithDefaultTTL sets the TTL for namespaces without an explicit one.
func (s *Store) WithDefaultTTL(ttl time.Duration) *Store {
	if s == nil {
		return s
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	s.mu.Lock()
	s.defaultTTL = ttl
	s.mu.Unlock()
	return s
}

// WithMax sets the maximum number of live entries across all namespaces.
func (s *Store) WithMax(max int) *Store {
	if s == nil {
		return s
	}
	if max <= 0 {
		max = 5000
	}
	s.mu.Lock()
	s.max = max
	s.mu.Unlock()
	return s
}

func (s *Store) ttlFor(ns string) time.Duration {
	if d, ok := s.ttls[ns]; ok {
		return d
	}
	return s.defaultTTL
}

// Put marshals v and stores it under a fresh random key in ns.
// The returned key is safe for callback payloads (it never contains ':').
func (s *Store) Put(ns string, v any) (string, error) {
	if s == nil {
		return "", errors.New("ephemeral: nil store")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	now := time.Now()
	s.maybeCleanup(now)

	// key format: base64url(6 random bytes) => 8 chars
	var buf [6]byte
	for i := 0; i < 8; i++ {
		_, _ = rand.Read(buf[:])
		key := base64.RawURLEncoding.EncodeToString(buf[:])
		full := ns + ":" + key

		s.mu.Lock()
		if _, exists := s.m[full]; exists {
			s.mu.Unlock()
			continue
		}
		s.m[full] = entry{b: b, exp: now.Add(s.ttlFor(ns))}
		s.enforceMaxLocked()
		s.mu.Unlock()
		return key, nil
	}

	// Extremely unlikely collision fallback: include a time byte.
	_, _ = rand.Read(buf[:])
	key := base64.RawURLEncoding.EncodeToString(append(buf[:], byte(now.UnixNano())))
	s.mu.Lock()
	s.m[ns+":"+key] = entry{b: b, exp: now.Add(s.ttlFor(ns))}
	s.enforceMaxLocked()
	s.mu.Unlock()
	return key, nil
}

// Set writes v under an explicit key, replacing any previous value and
// refreshing the TTL.
func (s *Store) Set(ns, key string, v any) error {
	if s == nil {
		return errors.New("ephemeral: nil store")
	}
	if key == "" {
		return errors.New("ephemeral: empty key")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now()
	s.maybeCleanup(now)

	s.mu.Lock()
	s.m[ns+":"+key] = entry{b: b, exp: now.Add(s.ttlFor(ns))}
	s.enforceMaxLocked()
	s.mu.Unlock()
	return nil
}

// Get unmarshals the value under ns:key into out.
//
// A value that fails to decode is deleted so repeat reads don't keep
// failing, then reported as ErrNotFound like any other missing key.
func (s *Store) Get(ns, key string, out any) error {
	if s == nil || key == "" {
		return ErrNotFound
	}
	full := ns + ":" + key
	now := time.Now()
	s.maybeCleanup(now)

	s.mu.RLock()
	e, ok := s.m[full]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if !e.exp.IsZero() && now.After(e.exp) {
		s.deleteExpired(full, now)
		return ErrNotFound
	}
	if err := json.Unmarshal(e.b, out); err != nil {
		s.Delete(ns, key)
		return ErrNotFound
	}
	return nil
}

// Delete removes ns:key. Deleting a missing key is a no-op.
func (s *Store) Delete(ns, key string) {
	if s == nil || key == "" {
		return
	}
	s.mu.Lock()
	delete(s.m, ns+":"+key)
	s.mu.Unlock()
}

// Len returns the number of live entries (expired-but-unswept included).
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	n := len(s.m)
	s.mu.RUnlock()
	return n
}

func (s *Store) deleteExpired(full string, now time.Time) {
	s.mu.Lock()
	// Re-check under write lock.
	if e, ok := s.m[full]; ok && !e.exp.IsZero() && now.After(e.exp) {
		delete(s.m, full)
	}
	s.mu.Unlock()
}

func (s *Store) cleanupLocked(now time.Time) {
	for k, e := range s.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(s.m, k)
		}
	}
}

func (s *Store) maybeCleanup(now time.Time) {
	s.mu.RLock()
	interval := s.cleanupInterval
	next := s.nextCleanup
	s.mu.RUnlock()

	if interval <= 0 {
		interval = 1 * time.Minute
	}
	if next.IsZero() {
		s.mu.Lock()
		if s.nextCleanup.IsZero() {
			s.nextCleanup = now.Add(interval)
		}
		s.mu.Unlock()
		return
	}
	if now.Before(next) {
		return
	}

	s.mu.Lock()
	if s.nextCleanup.IsZero() || !now.Before(s.nextCleanup) {
		s.cleanupLocked(now)
		s.nextCleanup = now.Add(interval)
	}
	s.mu.Unlock()
}

func (s *Store) enforceMaxLocked() {
	if s.max <= 0 || len(s.m) <= s.max {
		return
	}
	// Best-effort eviction: remove arbitrary entries until within limit.
	over := len(s.m) - s.max
	for k := range s.m {
		delete(s.m, k)
		over--
		if over <= 0 {
			break
		}
	}
}

package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Topic string
	Time  time.Time
	Data  any
}

// Bus is a topic-based in-memory fanout.
//
// Topics are plain strings; a subscriber only receives events published to
// the exact topic it subscribed to. Per-request topics (e.g. one per pending
// approval) are expected to be short-lived: always call unsubscribe.
type Bus interface {
	Publish(e Event)
	Subscribe(topic string, buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory topic bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{topics: map[string]map[uint64]chan Event{}}
}

type memBus struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]chan Event
	seq    atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	subs := b.topics[e.Topic]
	chs := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; a slow subscriber drops the event.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(topic string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	subs := b.topics[topic]
	if subs == nil {
		subs = map[uint64]chan Event{}
		b.topics[topic] = subs
	}
	subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.topics[topic]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// HasSubscribers reports whether at least one live subscriber exists for the
// topic. Publishing to a dead topic is legal (events are dropped), so this is
// purely advisory, e.g. to short-circuit resolution of an already-abandoned
// request.
func HasSubscribers(b Bus, topic string) bool {
	mb, ok := b.(*memBus)
	if !ok {
		return true
	}
	mb.mu.RLock()
	n := len(mb.topics[topic])
	mb.mu.RUnlock()
	return n > 0
}

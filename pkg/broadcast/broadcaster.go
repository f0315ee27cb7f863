// Package broadcast fans session and message events out to real-time subscribers.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// DefaultQueueSize is the per-subscriber queue length used when none is configured.
const DefaultQueueSize = 256

// ErrClosed is returned by Subscriber.Next once the subscriber is removed and drained.
var ErrClosed = errors.New("subscriber closed")

// SnapshotFunc returns the current session status sent to new subscribers.
type SnapshotFunc func() types.SessionStatus

// Subscriber is one registered transport connection with its bounded queue.
type Subscriber struct {
	id          string
	kind        string
	connectedAt time.Time

	mu       sync.Mutex
	queue    []types.Event
	capacity int
	closed   bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newSubscriber(kind string, capacity int) *Subscriber {
	return &Subscriber{
		id:          uuid.New().String(),
		kind:        kind,
		connectedAt: time.Now(),
		queue:       make([]types.Event, 0, capacity),
		capacity:    capacity,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// ID returns the subscriber id.
func (s *Subscriber) ID() string { return s.id }

// Kind returns the transport name (websocket, sse, redis).
func (s *Subscriber) Kind() string { return s.kind }

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Done is closed when the subscriber is removed from the broadcaster.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// enqueue appends ev, discarding the oldest queued event when full.
// It reports whether an event was dropped.
func (s *Subscriber) enqueue(ev types.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	dropped := false
	if len(s.queue) >= s.capacity {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		dropped = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	if dropped {
		s.dropped.Add(1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Len returns the number of queued events.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next blocks until an event is available, the context ends or the subscriber is closed.
// Queued events are still delivered after close; ErrClosed follows once the queue is empty.
func (s *Subscriber) Next(ctx context.Context) (types.Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = types.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return types.Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return types.Event{}, ctx.Err()
		case <-s.notify:
		case <-s.done:
		}
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

// Diagnostic describes one subscriber for health reporting.
type Diagnostic struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Queued      int       `json:"queued"`
	Dropped     uint64    `json:"dropped"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Broadcaster keeps the subscriber registry. Publish never blocks on a subscriber.
type Broadcaster struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
	queueSize   int
	snapshot    SnapshotFunc
	log         *logging.Logger
}

// New creates a broadcaster. snapshot may be nil, in which case no status is sent on subscribe.
func New(queueSize int, snapshot SnapshotFunc, log *logging.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		queueSize:   queueSize,
		snapshot:    snapshot,
		log:         log,
	}
}

// Subscribe registers a subscriber and queues its welcome and status snapshot events.
// The snapshot is taken under the registry lock so no later publish can be missed.
// snapshot must not block or publish.
func (b *Broadcaster) Subscribe(kind string) *Subscriber {
	sub := newSubscriber(kind, b.queueSize)

	b.mu.Lock()
	sub.enqueue(types.NewWelcomeEvent(sub.id))
	if b.snapshot != nil {
		sub.enqueue(types.NewStatusEvent(b.snapshot()))
	}
	b.subscribers[sub.id] = sub
	total := len(b.subscribers)
	b.mu.Unlock()

	b.log.Debugf("subscriber added: id=%s kind=%s total=%d", sub.id, kind, total)
	return sub
}

// Unsubscribe removes a subscriber and closes it. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	total := len(b.subscribers)
	b.mu.Unlock()

	if ok {
		sub.close()
		b.log.Debugf("subscriber removed: id=%s dropped=%d total=%d", id, sub.Dropped(), total)
	}
}

// Publish queues ev for every subscriber, dropping each full subscriber's oldest event.
func (b *Broadcaster) Publish(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.enqueue(ev) {
			// First drop, then every 100th.
			if n := sub.Dropped(); n == 1 || n%100 == 0 {
				b.log.Warnf("dropped-event: subscriber=%s kind=%s type=%s total_dropped=%d", sub.id, sub.kind, ev.Type, n)
			}
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Diagnostics returns queue and drop counters per subscriber.
func (b *Broadcaster) Diagnostics() []Diagnostic {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Diagnostic, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		out = append(out, Diagnostic{
			ID:          sub.id,
			Kind:        sub.kind,
			Queued:      sub.Len(),
			Dropped:     sub.Dropped(),
			ConnectedAt: sub.connectedAt,
		})
	}
	return out
}

// Close removes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

package watchclient

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/metrics"
	"github.com/dgnsrekt/watchrelay/internal/stream"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 256

// Event is one change delivered to a subscriber. Type is ADDED, MODIFIED,
// DELETED or ERROR; an ERROR carries the upstream status object and means the
// item it names failed.
type Event struct {
	Type   stream.EventType
	Ref    collection.Ref
	Object *unstructured.Unstructured
}

type subscriber struct {
	ref collection.Ref
	ch  chan Event
}

// Broker fans events out to the subscribers of each collection.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]subscriber
	nextID      atomic.Int64
	bufSize     int
	log         *slog.Logger
}

func NewBroker(bufSize int, log *slog.Logger) *Broker {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broker{
		subscribers: make(map[int64]subscriber),
		bufSize:     bufSize,
		log:         log,
	}
}

// Subscribe registers a subscriber for ref. The channel is buffered; events
// for a subscriber that is not keeping up are dropped.
func (b *Broker) Subscribe(ref collection.Ref) (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.subscribers[id] = subscriber{ref: ref, ch: ch}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	s, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(s.ch)
	}
	b.mu.Unlock()
}

// Publish delivers evt to every subscriber of evt.Ref without blocking and
// returns the number of subscribers that received it.
func (b *Broker) Publish(evt Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for id, s := range b.subscribers {
		if s.ref != evt.Ref {
			continue
		}
		select {
		case s.ch <- evt:
			delivered++
		default:
			metrics.DroppedEvents.Inc()
			b.log.Warn("subscriber not keeping up, event dropped",
				"subscriber", id, "url", evt.Ref.URL(), "type", evt.Type)
		}
	}
	return delivered
}

// CloseAll removes every subscriber and closes their channels.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	for id, s := range b.subscribers {
		delete(b.subscribers, id)
		close(s.ch)
	}
	b.mu.Unlock()
}

// SubscriberCount returns the number of subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

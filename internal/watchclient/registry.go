// Package watchclient is the consumer side of the watch relay. It keeps one
// relay connection in sync with the collections its subscribers need, routes
// decoded records to them and recovers collections whose stream ends.
package watchclient

import (
	"slices"
	"strings"
	"sync"

	"github.com/dgnsrekt/watchrelay/internal/collection"
)

// Registry reference-counts the collections currently needed by subscribers.
// A collection is active while its count is positive.
type Registry struct {
	mu      sync.Mutex
	counts  map[collection.Ref]int
	changed chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		counts:  make(map[collection.Ref]int),
		changed: make(chan struct{}, 1),
	}
}

// Subscribe increments the count for ref and returns the function that
// decrements it again. The returned function may be called any number of
// times; only the first call has an effect.
func (r *Registry) Subscribe(ref collection.Ref) (unsubscribe func()) {
	r.mu.Lock()
	r.counts[ref]++
	added := r.counts[ref] == 1
	r.mu.Unlock()
	if added {
		r.notify()
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(ref) })
	}
}

func (r *Registry) release(ref collection.Ref) {
	r.mu.Lock()
	n := r.counts[ref] - 1
	if n <= 0 {
		delete(r.counts, ref)
	} else {
		r.counts[ref] = n
	}
	r.mu.Unlock()
	if n <= 0 {
		r.notify()
	}
}

func (r *Registry) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Changed receives a value after the active set changed. Several changes
// between two receives are reported once. The channel has a single consumer.
func (r *Registry) Changed() <-chan struct{} { return r.changed }

// Active returns the active collections ordered by URL.
func (r *Registry) Active() []collection.Ref {
	r.mu.Lock()
	refs := make([]collection.Ref, 0, len(r.counts))
	for ref := range r.counts {
		refs = append(refs, ref)
	}
	r.mu.Unlock()
	slices.SortFunc(refs, func(a, b collection.Ref) int { return strings.Compare(a.URL(), b.URL()) })
	return refs
}

// Has reports whether ref is active.
func (r *Registry) Has(ref collection.Ref) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[ref] > 0
}

// Count returns the number of live subscriptions to ref.
func (r *Registry) Count(ref collection.Ref) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[ref]
}

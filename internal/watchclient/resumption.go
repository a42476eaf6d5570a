package watchclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/metrics"
	"github.com/dgnsrekt/watchrelay/internal/rvcache"
)

// DefaultRetryDelay is the pause between failed token refreshes.
const DefaultRetryDelay = time.Second

// TokenSource looks up the current resource version of a collection without
// going through the relay stream.
type TokenSource interface {
	ResourceVersion(ctx context.Context, ref collection.Ref) (string, error)
}

// State is the resumption state of one collection.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateResuming
)

func (s State) String() string {
	switch s {
	case StateWatching:
		return "watching"
	case StateResuming:
		return "resuming"
	default:
		return "idle"
	}
}

// Resumer recovers collections whose stream ended. It refreshes the
// collection's resource version and asks for a reconnect, retrying the
// refresh for as long as the collection has subscribers.
type Resumer struct {
	tokens     TokenSource
	cache      *rvcache.Cache
	registry   *Registry
	reconnect  func()
	clock      clock.Clock
	retryDelay time.Duration
	log        *slog.Logger

	mu     sync.Mutex
	states map[collection.Ref]State
	wg     sync.WaitGroup
}

func newResumer(tokens TokenSource, cache *rvcache.Cache, registry *Registry, reconnect func(), clk clock.Clock, retryDelay time.Duration, log *slog.Logger) *Resumer {
	return &Resumer{
		tokens:     tokens,
		cache:      cache,
		registry:   registry,
		reconnect:  reconnect,
		clock:      clk,
		retryDelay: retryDelay,
		log:        log,
		states:     make(map[collection.Ref]State),
	}
}

// State returns the resumption state of ref.
func (r *Resumer) State(ref collection.Ref) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[ref]
}

// watching marks refs as served by a freshly opened connection. Refs that
// are still resuming keep that state.
func (r *Resumer) watching(refs []collection.Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, s := range r.states {
		if s == StateWatching {
			delete(r.states, ref)
		}
	}
	for _, ref := range refs {
		if r.states[ref] != StateResuming {
			r.states[ref] = StateWatching
		}
	}
}

// Resume starts recovering ref unless a recovery is already running. It
// returns immediately; the refresh runs until it succeeds, ref loses its
// last subscriber or ctx is done.
func (r *Resumer) Resume(ctx context.Context, ref collection.Ref) {
	r.mu.Lock()
	if r.states[ref] == StateResuming {
		r.mu.Unlock()
		return
	}
	r.states[ref] = StateResuming
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, ref)
	}()
}

func (r *Resumer) run(ctx context.Context, ref collection.Ref) {
	log := r.log.With("url", ref.URL())
	for attempt := 1; ; attempt++ {
		if !r.registry.Has(ref) {
			log.Debug("collection has no subscribers, resumption abandoned")
			r.setState(ref, StateIdle)
			return
		}

		rv, err := r.tokens.ResourceVersion(ctx, ref)
		if err == nil {
			metrics.TokenRefreshes.WithLabelValues("ok").Inc()
			r.cache.Observe(ref, rv)
			log.Info("resource version refreshed", "resource_version", rv, "attempt", attempt)
			r.setState(ref, StateWatching)
			r.reconnect()
			return
		}
		if ctx.Err() != nil {
			r.setState(ref, StateIdle)
			return
		}
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		log.Warn("resource version refresh failed", "attempt", attempt, "retry_in", r.retryDelay, "error", err)

		t := r.clock.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			r.setState(ref, StateIdle)
			return
		case <-t.C():
		}
	}
}

func (r *Resumer) setState(ref collection.Ref, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == StateIdle {
		delete(r.states, ref)
		return
	}
	r.states[ref] = s
}

// Wait blocks until every running recovery has returned.
func (r *Resumer) Wait() { r.wg.Wait() }

// Package relay is the server side of the watch relay: one relay connection
// fans a set of collections out to one Watcher each, and every Watcher writes
// onto the connection's single outbound stream.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/metrics"
	"github.com/dgnsrekt/watchrelay/internal/stream"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Options configures an Endpoint. Zero values pick the defaults.
type Options struct {
	FlushInterval time.Duration
	Clock         clock.WithTicker
	Logger        *slog.Logger
	Policy        *Policy
}

// Target is one validated collection of a relay request.
type Target struct {
	Ref             collection.Ref
	ResourceVersion string
}

// Endpoint accepts relay connection requests and owns their watchers.
type Endpoint struct {
	upstream Upstream
	interval time.Duration
	clock    clock.WithTicker
	log      *slog.Logger
	policy   *Policy

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool
}

func NewEndpoint(upstream Upstream, opts Options) *Endpoint {
	e := &Endpoint{
		upstream: upstream,
		interval: opts.FlushInterval,
		clock:    opts.Clock,
		log:      opts.Logger,
		policy:   opts.Policy,
		conns:    make(map[string]*Connection),
	}
	if e.interval <= 0 {
		e.interval = DefaultFlushInterval
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Prepare validates a relay request. It rejects an empty collection list,
// unparseable urls and collections outside the policy. Duplicate urls are
// collapsed.
func (e *Endpoint) Prepare(req stream.Request) ([]Target, error) {
	if len(req.APIs) == 0 {
		return nil, newError(CodeValidation, "apis must name at least one collection", nil)
	}
	seen := make(map[collection.Ref]bool, len(req.APIs))
	targets := make([]Target, 0, len(req.APIs))
	for _, raw := range req.APIs {
		ref, err := collection.Parse(raw)
		if err != nil {
			return nil, newError(CodeValidation, err.Error(), nil)
		}
		if !e.policy.Allows(ref) {
			return nil, newError(CodeForbidden, ref.URL()+" is not allowed by relay policy", nil)
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		rv := req.ResourceVersions[raw]
		if rv == "" {
			rv = req.ResourceVersions[ref.URL()]
		}
		targets = append(targets, Target{Ref: ref, ResourceVersion: rv})
	}
	return targets, nil
}

// Open starts one watcher per target, all writing to sink. The connection is
// closed when ctx is done or Close is called. A target whose upstream watch
// cannot be opened gets an immediate STREAM_END carrying the upstream status
// so the client can recover it without affecting the others. Watchers start
// concurrently; a ctx cancelled during startup aborts the pending starts.
func (e *Endpoint) Open(ctx context.Context, targets []Target, sink Sink) *Connection {
	// Started watches outlive ctx until their watcher is stopped, so a
	// transport close is reported as a stop rather than an upstream end.
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Connection{
		id:       uuid.NewString(),
		endpoint: e,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	log := e.log.With("connection_id", c.id)
	for _, t := range targets {
		c.watchers = append(c.watchers, newWatcher(t.Ref, e.upstream, sink, e.clock, e.interval, log))
	}

	e.mu.Lock()
	closed := e.closed
	e.conns[c.id] = c
	e.mu.Unlock()
	metrics.Connections.Inc()
	metrics.ActiveConnections.Inc()
	if closed {
		log.Info("relay is shutting down, connection refused", "collections", len(targets))
		c.Close()
		return c
	}
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	abortStart := context.AfterFunc(ctx, func() {
		for _, w := range c.watchers {
			w.expectStop()
		}
		cancel()
	})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []stream.Record
	)
	for i, t := range targets {
		w := c.watchers[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Start(watchCtx, t.ResourceVersion)
			if err == nil || watchCtx.Err() != nil || errors.Is(err, errWatcherStopped) {
				return
			}
			status := statusCode(err, http.StatusBadGateway)
			log.Warn("upstream watch failed to start", "url", t.Ref.URL(), "status", status, "error", err)
			metrics.StreamEnds.WithLabelValues(endStartFailed).Inc()
			mu.Lock()
			failed = append(failed, stream.StreamEnd{URL: t.Ref.URL(), Status: status})
			mu.Unlock()
		}()
	}
	wg.Wait()
	abortStart()

	if watchCtx.Err() != nil {
		log.Info("relay connection closed during startup", "collections", len(targets))
		return c
	}
	if len(failed) > 0 {
		if err := sink.WriteBatch(failed); err != nil {
			log.Debug("stream end write failed", "error", err)
		}
	}
	log.Info("relay connection opened", "collections", len(targets))
	return c
}

// ResourceVersion looks up the current resource version of a collection url.
func (e *Endpoint) ResourceVersion(ctx context.Context, raw string) (stream.VersionInfo, error) {
	ref, err := collection.Parse(raw)
	if err != nil {
		return stream.VersionInfo{}, newError(CodeValidation, err.Error(), nil)
	}
	if !e.policy.Allows(ref) {
		return stream.VersionInfo{}, newError(CodeForbidden, ref.URL()+" is not allowed by relay policy", nil)
	}
	rv, err := e.upstream.ResourceVersion(ctx, ref)
	if err != nil {
		return stream.VersionInfo{}, classify(err, ref)
	}
	return stream.VersionInfo{URL: ref.URL(), ResourceVersion: rv}, nil
}

// Stats reports the open connections and their live watchers: started and
// not yet ended.
type Stats struct {
	Connections int `json:"connections"`
	Watchers    int `json:"watchers"`
}

func (e *Endpoint) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{Connections: len(e.conns)}
	for _, c := range e.conns {
		for _, w := range c.watchers {
			if w.live() {
				s.Watchers++
			}
		}
	}
	return s
}

// CloseAll closes every open connection. Connections opened afterwards are
// closed immediately.
func (e *Endpoint) CloseAll() {
	e.mu.Lock()
	e.closed = true
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Connection is one relay connection: the watchers serving a single request.
type Connection struct {
	id       string
	endpoint *Endpoint
	watchers []*Watcher
	cancel   context.CancelFunc

	once sync.Once
	done chan struct{}
}

func (c *Connection) ID() string { return c.id }

// Refs returns the collections served by the connection.
func (c *Connection) Refs() []collection.Ref {
	refs := make([]collection.Ref, len(c.watchers))
	for i, w := range c.watchers {
		refs[i] = w.ref
	}
	return refs
}

// Close stops every watcher, releasing their upstream watches. It blocks
// until every watcher has written its final record and is safe to call from
// several goroutines.
func (c *Connection) Close() {
	c.once.Do(func() {
		var wg sync.WaitGroup
		for _, w := range c.watchers {
			wg.Add(1)
			go func(w *Watcher) {
				defer wg.Done()
				w.Stop()
			}(w)
		}
		wg.Wait()
		c.cancel()

		c.endpoint.mu.Lock()
		delete(c.endpoint.conns, c.id)
		c.endpoint.mu.Unlock()
		metrics.ActiveConnections.Dec()
		c.endpoint.log.Info("relay connection closed", "connection_id", c.id)
		close(c.done)
	})
}

// Done is closed once Close has finished.
func (c *Connection) Done() <-chan struct{} { return c.done }

package watchclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/metrics"
	"github.com/dgnsrekt/watchrelay/internal/rvcache"
	"github.com/dgnsrekt/watchrelay/internal/stream"
)

// DefaultDebounce is the quiet period after an active set change before the
// relay connection is rebuilt.
const DefaultDebounce = 500 * time.Millisecond

var errStreamClosed = errors.New("watchclient: relay closed the stream")

// Transport opens relay connections. Open sends req and returns the response
// stream; closing it ends the connection.
type Transport interface {
	Open(ctx context.Context, req stream.Request) (io.ReadCloser, error)
}

// ConnState is the lifecycle state of the relay connection.
type ConnState int

const (
	ConnAbsent ConnState = iota
	ConnConnecting
	ConnOpen
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	default:
		return "absent"
	}
}

type connection struct {
	refs   []collection.Ref
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Manager owns the single relay connection and keeps it serving the
// registry's active set. Changes are debounced: a burst of subscribe and
// unsubscribe calls produces one reconnect.
type Manager struct {
	registry  *Registry
	cache     *rvcache.Cache
	broker    *Broker
	transport Transport
	resumer   *Resumer
	clock     clock.Clock
	debounce  time.Duration
	log       *slog.Logger

	trigger chan struct{}

	mu     sync.Mutex
	state  ConnState
	served []collection.Ref
	opens  int
}

// Reconnect asks for the connection to be rebuilt after the debounce window
// even if the active set is unchanged.
func (m *Manager) Reconnect() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// State returns the connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Served returns the collections requested on the current connection.
func (m *Manager) Served() []collection.Ref {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.served)
}

// Opens returns how many connections have been opened.
func (m *Manager) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Run serves the active set until ctx is done. At most one connection exists
// at any time; the previous one is fully torn down before the next opens.
func (m *Manager) Run(ctx context.Context) error {
	var (
		conn  *connection
		timer clock.Timer
		fire  <-chan time.Time
		force bool
	)
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = m.clock.NewTimer(m.debounce)
		fire = timer.C()
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		m.teardown(conn)
		m.resumer.Wait()
	}()

	for {
		var lost <-chan struct{}
		if conn != nil {
			lost = conn.done
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.registry.Changed():
			arm()
		case <-m.trigger:
			force = true
			arm()
		case <-fire:
			fire = nil
			conn = m.apply(ctx, conn, force)
			force = false
		case <-lost:
			m.connectionLost(ctx, conn)
			conn = nil
		}
	}
}

func (m *Manager) apply(ctx context.Context, cur *connection, force bool) *connection {
	refs := m.registry.Active()
	if cur != nil && !force && slices.Equal(cur.refs, refs) {
		return cur
	}
	m.teardown(cur)
	if len(refs) == 0 {
		if cur != nil {
			m.log.Info("no active collections, relay connection closed")
		}
		return nil
	}
	return m.open(ctx, refs)
}

func (m *Manager) open(ctx context.Context, refs []collection.Ref) *connection {
	urls := make([]string, len(refs))
	for i, ref := range refs {
		urls[i] = ref.URL()
	}
	req := stream.Request{APIs: urls, ResourceVersions: m.cache.Snapshot(refs)}

	cctx, cancel := context.WithCancel(ctx)
	c := &connection{refs: refs, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.state = ConnConnecting
	m.served = refs
	m.opens++
	m.mu.Unlock()
	metrics.ClientReconnects.Inc()
	m.resumer.watching(refs)
	m.log.Info("opening relay connection", "collections", len(refs), "resuming", len(req.ResourceVersions))

	go m.serve(ctx, cctx, c, req)
	return c
}

// serve reads one connection until it ends. Records that arrive after the
// connection was cancelled are ignored.
func (m *Manager) serve(runCtx, ctx context.Context, c *connection, req stream.Request) {
	defer close(c.done)
	body, err := m.transport.Open(ctx, req)
	if err != nil {
		c.err = err
		return
	}
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer func() {
		stop()
		_ = body.Close()
	}()
	m.setState(ConnOpen)

	d := NewDispatcher(c.refs, m.cache, m.broker, func(ref collection.Ref, _ int) {
		m.resumer.Resume(runCtx, ref)
	}, m.log)
	buf := make([]byte, 32<<10)
	for {
		n, err := body.Read(buf)
		if n > 0 && ctx.Err() == nil {
			d.Feed(buf[:n])
		}
		if err != nil {
			if ctx.Err() == nil {
				d.Finish()
			}
			if errors.Is(err, io.EOF) {
				err = errStreamClosed
			}
			c.err = err
			return
		}
	}
}

func (m *Manager) teardown(c *connection) {
	if c == nil {
		return
	}
	c.cancel()
	<-c.done
	m.mu.Lock()
	m.state = ConnClosed
	m.served = nil
	m.mu.Unlock()
}

// connectionLost handles a connection that ended without being torn down:
// every active collection is recovered through the resumer.
func (m *Manager) connectionLost(ctx context.Context, c *connection) {
	c.cancel()
	m.mu.Lock()
	m.state = ConnClosed
	m.served = nil
	m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	active := m.registry.Active()
	m.log.Warn("relay connection lost", "error", c.err, "collections", len(active))
	for _, ref := range active {
		m.resumer.Resume(ctx, ref)
	}
}

func (m *Manager) setState(s ConnState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

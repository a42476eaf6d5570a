package watchclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/rvcache"
)

var (
	// ErrClosed is returned by a Client after Close.
	ErrClosed = errors.New("watchclient: client closed")

	errRunning = errors.New("watchclient: client already running")
)

// Options configures a Client. Transport and Tokens are required; zero
// values of the other fields pick the defaults.
type Options struct {
	Transport  Transport
	Tokens     TokenSource
	Debounce   time.Duration
	RetryDelay time.Duration
	BufferSize int
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Client is one relay consumer, scoped to a single relay. Subscribers share
// its one relay connection.
type Client struct {
	registry *Registry
	cache    *rvcache.Cache
	broker   *Broker
	manager  *Manager
	resumer  *Resumer

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Client {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		registry: NewRegistry(),
		cache:    rvcache.New(),
		broker:   NewBroker(opts.BufferSize, opts.Logger),
	}
	c.manager = &Manager{
		registry:  c.registry,
		cache:     c.cache,
		broker:    c.broker,
		transport: opts.Transport,
		clock:     opts.Clock,
		debounce:  opts.Debounce,
		log:       opts.Logger,
		trigger:   make(chan struct{}, 1),
	}
	c.resumer = newResumer(opts.Tokens, c.cache, c.registry, c.manager.Reconnect, opts.Clock, opts.RetryDelay, opts.Logger)
	c.manager.resumer = c.resumer
	return c
}

// Subscription is one consumer's interest in a collection.
type Subscription struct {
	ref         collection.Ref
	id          int64
	events      <-chan Event
	broker      *Broker
	unsubscribe func()
	once        sync.Once
}

func (s *Subscription) Ref() collection.Ref { return s.ref }

// Events delivers the collection's changes. It is closed by Close or when the
// client closes.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close ends the subscription. The collection stays on the relay connection
// while other subscriptions to it remain.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.unsubscribe()
		s.broker.Unsubscribe(s.id)
	})
}

// Subscribe starts receiving changes to ref.
func (c *Client) Subscribe(ref collection.Ref) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	id, events := c.broker.Subscribe(ref)
	return &Subscription{
		ref:         ref,
		id:          id,
		events:      events,
		broker:      c.broker,
		unsubscribe: c.registry.Subscribe(ref),
	}, nil
}

// Run keeps the relay connection in sync with the subscriptions until ctx is
// done or Close is called.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.done != nil {
		c.mu.Unlock()
		return errRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer close(done)
	defer cancel()
	return c.manager.Run(ctx)
}

// Close stops Run, closes the relay connection and every subscription.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.broker.CloseAll()
}

// ResourceVersion returns the last resource version seen for ref.
func (c *Client) ResourceVersion(ref collection.Ref) (string, bool) {
	return c.cache.Get(ref)
}

// State returns the relay connection state.
func (c *Client) State() ConnState { return c.manager.State() }

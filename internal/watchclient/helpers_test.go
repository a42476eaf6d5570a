package watchclient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/collection/collectiontest"
	"github.com/dgnsrekt/watchrelay/internal/stream"
)

var (
	pods     = collectiontest.MustParse("/api/v1/namespaces/default/pods")
	services = collectiontest.MustParse("/api/v1/namespaces/default/services")
	deploys  = collectiontest.MustParse("/apis/apps/v1/namespaces/default/deployments")
)

func object(kind, name, rv string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("v1")
	u.SetKind(kind)
	u.SetNamespace("default")
	u.SetName(name)
	u.SetResourceVersion(rv)
	return u
}

// line encodes rec as one wire record.
func line(t *testing.T, rec stream.Record) string {
	t.Helper()
	b, err := stream.Marshal(rec)
	require.NoError(t, err)
	return string(b)
}

type fakeConn struct {
	req stream.Request
	pw  *io.PipeWriter
}

// send writes lines to the client. It fails once the client has closed the
// connection.
func (c *fakeConn) send(lines ...string) error {
	_, err := c.pw.Write([]byte(strings.Join(lines, "")))
	return err
}

func (c *fakeConn) drop(err error) { _ = c.pw.CloseWithError(err) }

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (f *fakeTransport) Open(_ context.Context, req stream.Request) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, pw := io.Pipe()
	f.conns = append(f.conns, &fakeConn{req: req, pw: pw})
	if f.err != nil {
		pw.Close()
		return nil, f.err
	}
	return pr, nil
}

func (f *fakeTransport) requests() []stream.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := make([]stream.Request, len(f.conns))
	for i, c := range f.conns {
		reqs[i] = c.req
	}
	return reqs
}

func (f *fakeTransport) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeTokens struct {
	mu       sync.Mutex
	versions map[collection.Ref]string
	err      error
	calls    map[collection.Ref]int
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{versions: make(map[collection.Ref]string), calls: make(map[collection.Ref]int)}
}

func (f *fakeTokens) ResourceVersion(_ context.Context, ref collection.Ref) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ref]++
	if f.err != nil {
		return "", f.err
	}
	rv, ok := f.versions[ref]
	if !ok {
		return "", fmt.Errorf("no version for %s", ref)
	}
	return rv, nil
}

func (f *fakeTokens) set(ref collection.Ref, rv string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[ref] = rv
}

func (f *fakeTokens) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTokens) callCount(ref collection.Ref) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

type harness struct {
	t         *testing.T
	clk       *clocktesting.FakeClock
	transport *fakeTransport
	tokens    *fakeTokens
	client    *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		clk:       clocktesting.NewFakeClock(time.Now()),
		transport: &fakeTransport{},
		tokens:    newFakeTokens(),
	}
	h.client = New(Options{Transport: h.transport, Tokens: h.tokens, Clock: h.clk})
	go func() { _ = h.client.Run(context.Background()) }()
	t.Cleanup(h.client.Close)
	return h
}

// settle advances virtual time one debounce window at a time until cond
// holds.
func (h *harness) settle(cond func() bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.clk.Step(DefaultDebounce)
		return cond()
	}, 2*time.Second, 5*time.Millisecond)
}

// quiet advances virtual time well past the debounce window and the retry
// delay, giving the client every chance to act.
func (h *harness) quiet() {
	for i := 0; i < 6; i++ {
		h.clk.Step(DefaultDebounce)
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) subscribe(ref collection.Ref) *Subscription {
	h.t.Helper()
	sub, err := h.client.Subscribe(ref)
	require.NoError(h.t, err)
	return sub
}

func (h *harness) opens(n int) func() bool {
	return func() bool { return len(h.transport.requests()) == n }
}

func next(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/collection/collectiontest"
	"github.com/dgnsrekt/watchrelay/internal/stream"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
)

var (
	pods     = collectiontest.MustParse("/api/v1/namespaces/default/pods")
	services = collectiontest.MustParse("/api/v1/namespaces/default/services")
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

type fakeUpstream struct {
	mu       sync.Mutex
	watchers map[collection.Ref]*watch.FakeWatcher
	from     map[collection.Ref]string
	errs     map[collection.Ref]error
	versions map[collection.Ref]string
	// blocked refs hold Watch until its context is done.
	blocked map[collection.Ref]chan struct{}
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		watchers: make(map[collection.Ref]*watch.FakeWatcher),
		from:     make(map[collection.Ref]string),
		errs:     make(map[collection.Ref]error),
		versions: make(map[collection.Ref]string),
		blocked:  make(map[collection.Ref]chan struct{}),
	}
}

// block makes Watch for ref hang until its context is done. The returned
// channel is closed once Watch is waiting.
func (f *fakeUpstream) block(ref collection.Ref) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.blocked[ref] = ch
	return ch
}

func (f *fakeUpstream) Watch(ctx context.Context, ref collection.Ref, rv string) (watch.Interface, error) {
	f.mu.Lock()
	if waiting, ok := f.blocked[ref]; ok {
		f.mu.Unlock()
		close(waiting)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer f.mu.Unlock()
	if err := f.errs[ref]; err != nil {
		return nil, err
	}
	fw := watch.NewFake()
	f.watchers[ref] = fw
	f.from[ref] = rv
	return fw, nil
}

func (f *fakeUpstream) ResourceVersion(_ context.Context, ref collection.Ref) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[ref]; err != nil {
		return "", err
	}
	rv, ok := f.versions[ref]
	if !ok {
		return "", fmt.Errorf("no version for %s", ref)
	}
	return rv, nil
}

func (f *fakeUpstream) watcher(ref collection.Ref) *watch.FakeWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchers[ref]
}

func (f *fakeUpstream) startedFrom(ref collection.Ref) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.from[ref]
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]stream.Record
	err     error
}

func (s *recordingSink) WriteBatch(recs []stream.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]stream.Record(nil), recs...))
	return nil
}

func (s *recordingSink) snapshot() [][]stream.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]stream.Record(nil), s.batches...)
}

func (s *recordingSink) records() []stream.Record {
	var out []stream.Record
	for _, b := range s.snapshot() {
		out = append(out, b...)
	}
	return out
}

func (s *recordingSink) streamEnds() []stream.StreamEnd {
	var out []stream.StreamEnd
	for _, r := range s.records() {
		if end, ok := r.(stream.StreamEnd); ok {
			out = append(out, end)
		}
	}
	return out
}

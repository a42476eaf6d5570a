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
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/clock"
)

// DefaultFlushInterval is how often a watcher drains its buffer.
const DefaultFlushInterval = 50 * time.Millisecond

const (
	endStopped        = "stopped"
	endUpstreamClosed = "upstream_closed"
	endStartFailed    = "start_failed"
)

var errWatcherStopped = errors.New("relay: watcher stopped")

// Watcher bridges one upstream watch onto a connection's sink. Upstream
// events are buffered and written at most once per flush interval.
type Watcher struct {
	ref      collection.Ref
	upstream Upstream
	sink     Sink
	clock    clock.WithTicker
	interval time.Duration
	log      *slog.Logger

	mu          sync.Mutex
	buf         []stream.Record
	started     bool
	stopped     bool
	closing     bool
	wi          watch.Interface
	errorStatus int

	stopCh   chan struct{}
	loopDone chan struct{}
	recvDone chan struct{}
	finished chan struct{}
}

func newWatcher(ref collection.Ref, upstream Upstream, sink Sink, clk clock.WithTicker, interval time.Duration, log *slog.Logger) *Watcher {
	return &Watcher{
		ref:      ref,
		upstream: upstream,
		sink:     sink,
		clock:    clk,
		interval: interval,
		log:      log.With("url", ref.URL()),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		recvDone: make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start opens the upstream watch at fromRV ("" for latest) and begins
// buffering and flushing its events.
func (w *Watcher) Start(ctx context.Context, fromRV string) error {
	wi, err := w.upstream.Watch(ctx, w.ref, fromRV)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		wi.Stop()
		return errWatcherStopped
	}
	w.wi = wi
	w.started = true
	ticker := w.clock.NewTicker(w.interval)
	w.mu.Unlock()

	metrics.ActiveWatchers.Inc()
	w.log.Debug("watcher started", "resource_version", fromRV)
	go w.receive(wi)
	go w.flushLoop(ticker)
	return nil
}

// Stop cancels the upstream watch, drains the buffer and, if the watcher had
// started, writes a STREAM_END record. It is idempotent and returns once the
// watcher has written its last record.
func (w *Watcher) Stop() {
	w.terminate(endStopped, http.StatusGone)
}

// Done is closed after the watcher has written its last record.
func (w *Watcher) Done() <-chan struct{} { return w.finished }

// Pending returns the number of buffered, unflushed records.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// live reports whether the upstream watch is open.
func (w *Watcher) live() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// expectStop marks an imminent Stop, so an upstream watch that ends because
// its context was cancelled is not reported as an upstream end.
func (w *Watcher) expectStop() {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
}

func (w *Watcher) terminate(reason string, status int) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.finished
		return
	}
	w.stopped = true
	started := w.started
	wi := w.wi
	close(w.stopCh)
	w.mu.Unlock()

	defer close(w.finished)
	if !started {
		return
	}

	wi.Stop()
	<-w.recvDone
	<-w.loopDone
	w.flush()
	if err := w.sink.WriteBatch([]stream.Record{stream.StreamEnd{URL: w.ref.URL(), Status: status}}); err != nil {
		w.log.Debug("stream end write failed", "error", err)
	}
	metrics.ActiveWatchers.Dec()
	metrics.StreamEnds.WithLabelValues(reason).Inc()
	w.log.Debug("watcher stopped", "reason", reason, "status", status)
}

func (w *Watcher) receive(wi watch.Interface) {
	defer close(w.recvDone)
	for ev := range wi.ResultChan() {
		w.enqueue(ev)
	}

	w.mu.Lock()
	stopping := w.stopped || w.closing
	status := w.errorStatus
	w.mu.Unlock()
	if stopping {
		return
	}

	if status == 0 {
		status = http.StatusGone
	}
	w.log.Error("upstream watch ended", "status", status)
	go w.terminate(endUpstreamClosed, status)
}

func (w *Watcher) enqueue(ev watch.Event) {
	var t stream.EventType
	switch ev.Type {
	case watch.Added:
		t = stream.TypeAdded
	case watch.Modified:
		t = stream.TypeModified
	case watch.Deleted:
		t = stream.TypeDeleted
	case watch.Error:
		t = stream.TypeError
	default:
		return
	}

	obj, err := toUnstructured(ev.Object)
	if err != nil {
		w.log.Warn("dropping upstream event", "type", ev.Type, "error", err)
		return
	}

	w.mu.Lock()
	if t == stream.TypeError {
		if code := objectStatusCode(ev.Object); code != 0 {
			w.errorStatus = code
		}
	}
	w.buf = append(w.buf, stream.NewChange(t, w.ref.URL(), obj))
	w.mu.Unlock()
}

func (w *Watcher) flushLoop(ticker clock.Ticker) {
	defer close(w.loopDone)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C():
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := w.sink.WriteBatch(batch); err != nil {
		w.log.Debug("flush failed", "records", len(batch), "error", err)
		return
	}
	metrics.FlushedBatches.Inc()
	metrics.FlushedRecords.Add(float64(len(batch)))
}

func toUnstructured(obj runtime.Object) (*unstructured.Unstructured, error) {
	if obj == nil {
		return nil, errors.New("event without object")
	}
	if u, ok := obj.(*unstructured.Unstructured); ok {
		return u, nil
	}
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, err
	}
	return &unstructured.Unstructured{Object: m}, nil
}

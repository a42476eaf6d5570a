package watchclient

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/metrics"
	"github.com/dgnsrekt/watchrelay/internal/rvcache"
	"github.com/dgnsrekt/watchrelay/internal/stream"
)

// maxLoggedLine bounds how much of an undecodable line is logged.
const maxLoggedLine = 256

// Dispatcher decodes one relay connection's byte stream and routes its
// records: change records update the resource version cache and reach the
// collection's subscribers, STREAM_END records are handed to onEnd.
type Dispatcher struct {
	refs   []collection.Ref
	cache  *rvcache.Cache
	broker *Broker
	onEnd  func(ref collection.Ref, status int)
	log    *slog.Logger
	dec    stream.Decoder
}

// NewDispatcher returns a Dispatcher for a connection serving refs.
func NewDispatcher(refs []collection.Ref, cache *rvcache.Cache, broker *Broker, onEnd func(collection.Ref, int), log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{refs: refs, cache: cache, broker: broker, onEnd: onEnd, log: log}
}

// Feed consumes one chunk of the stream. Records may span chunks.
func (d *Dispatcher) Feed(chunk []byte) {
	d.dec.Feed(chunk, d.Dispatch, d.decodeFailed)
}

// Finish reports a trailing partial record once the stream has ended.
func (d *Dispatcher) Finish() {
	d.dec.Finish(d.decodeFailed)
}

func (d *Dispatcher) decodeFailed(line []byte, err error) {
	metrics.DecodeErrors.Inc()
	shown, truncated, size, sum := truncateLine(line, maxLoggedLine)
	if truncated {
		d.log.Warn("skipping undecodable record", "error", err, "line", string(shown), "line_bytes", size, "line_sha256", sum)
		return
	}
	d.log.Warn("skipping undecodable record", "error", err, "line", string(shown))
}

// truncateLine cuts line to maxBytes. A cut line also reports its full size
// and sha256 so it can be matched against a capture of the stream.
func truncateLine(line []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(line) <= maxBytes {
		return line, false, len(line), ""
	}
	sum := sha256.Sum256(line)
	return line[:maxBytes], true, len(line), hex.EncodeToString(sum[:])
}

// Dispatch routes one decoded record.
func (d *Dispatcher) Dispatch(rec stream.Record) {
	switch r := rec.(type) {
	case stream.StreamEnd:
		ref, err := collection.Parse(r.URL)
		if err != nil {
			d.log.Warn("stream end for unknown collection", "url", r.URL, "error", err)
			return
		}
		d.log.Info("collection stream ended", "url", ref.URL(), "status", r.Status)
		d.onEnd(ref, r.Status)
	case stream.Added, stream.Modified, stream.Deleted, stream.Error:
		obj := stream.ObjectOf(rec)
		ref, ok := d.resolve(rec.CollectionURL(), obj)
		if !ok {
			d.log.Warn("dropping record for unknown collection", "type", rec.Type(), "kind", obj.GetKind(), "name", obj.GetName())
			return
		}
		if rec.Type() == stream.TypeError {
			d.log.Warn("upstream error", "url", ref.URL(), "message", obj.Object["message"])
		} else {
			d.cache.Observe(ref, obj.GetResourceVersion())
		}
		d.broker.Publish(Event{Type: rec.Type(), Ref: ref, Object: obj})
	}
}

// resolve finds the collection a record belongs to. Records from relays that
// do not send the url field are matched on their object's kind and
// namespace.
func (d *Dispatcher) resolve(url string, obj *unstructured.Unstructured) (collection.Ref, bool) {
	if url != "" {
		if ref, err := collection.Parse(url); err == nil {
			return ref, true
		}
	}
	if obj != nil {
		if gvk := obj.GroupVersionKind(); gvk.Kind != "" {
			plural, _ := meta.UnsafeGuessKindToResource(gvk)
			for _, ref := range d.refs {
				if ref.Matches(plural, obj.GetNamespace()) {
					return ref, true
				}
			}
		}
	}
	if len(d.refs) == 1 {
		return d.refs[0], true
	}
	return collection.Ref{}, false
}

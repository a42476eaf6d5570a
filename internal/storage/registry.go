package storage

import (
	"log/slog"
	"sync"
	"time"
)

// Record is one recorded watch event.
type Record struct {
	Time   time.Time      `json:"time"`
	Type   string         `json:"type"`
	URL    string         `json:"url"`
	Object map[string]any `json:"object,omitempty"`
}

// WriterRegistry keeps one JSONLWriter per collection, so each collection's
// events land in their own directory.
type WriterRegistry struct {
	baseDir    string
	runID      string
	maxSizeMB  int
	bufferSize int
	log        *slog.Logger

	// segment -> writer
	writers map[string]*JSONLWriter
	mu      sync.RWMutex
}

func NewWriterRegistry(baseDir, runID string, bufferSize, maxSizeMB int, log *slog.Logger) *WriterRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &WriterRegistry{
		baseDir:    baseDir,
		runID:      runID,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		log:        log,
		writers:    make(map[string]*JSONLWriter),
	}
}

// Writer returns (or creates) the writer for a collection URL.
func (r *WriterRegistry) Writer(collectionURL string) (*JSONLWriter, error) {
	segment, err := CollectionSegment(collectionURL)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	w, ok := r.writers[segment]
	r.mu.RUnlock()
	if ok {
		return w, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[segment]; ok {
		return w, nil
	}

	w = NewJSONLWriter(r.baseDir, segment, r.runID, r.bufferSize, r.maxSizeMB, r.log)
	r.writers[segment] = w
	r.log.Info("Created new JSONL writer", "url", collectionURL, "segment", segment, "run_id", r.runID)
	return w, nil
}

// Record queues rec on its collection's writer.
func (r *WriterRegistry) Record(rec Record) error {
	w, err := r.Writer(rec.URL)
	if err != nil {
		return err
	}
	return w.Write(rec)
}

// Close closes all managed writers.
func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for segment, w := range r.writers {
		if err := w.Close(); err != nil {
			r.log.Error("Failed to close writer", "segment", segment, "error", err)
			lastErr = err
		}
	}
	r.writers = make(map[string]*JSONLWriter)
	return lastErr
}

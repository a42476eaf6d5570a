package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrWriterClosed = errors.New("writer is closed")
	ErrBufferFull   = errors.New("buffer full")
)

// JSONLWriter appends JSON lines asynchronously to
// baseDir/<date>/<segment>/<runID>.jsonl, rotating by size through lumberjack
// and by UTC date.
type JSONLWriter struct {
	baseDir   string
	segment   string
	runID     string
	maxSizeMB int
	log       *slog.Logger

	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup

	stateMu sync.RWMutex
	closed  bool

	mu          sync.Mutex
	currentDate string
	out         *lumberjack.Logger
	now         func() time.Time
}

// NewJSONLWriter starts the writer goroutine. An empty runID falls back to a
// unix timestamp for the file name.
func NewJSONLWriter(baseDir, segment, runID string, bufferSize, maxSizeMB int, log *slog.Logger) *JSONLWriter {
	if log == nil {
		log = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		segment:   segment,
		runID:     runID,
		maxSizeMB: maxSizeMB,
		log:       log,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Write queues a record. It never blocks: a full buffer drops the record and
// returns ErrBufferFull.
func (w *JSONLWriter) Write(record any) error {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		w.log.Warn("JSONL write buffer full, dropping record", "segment", w.segment)
		return ErrBufferFull
	}
}

// Close writes everything still queued and closes the current file.
func (w *JSONLWriter) Close() error {
	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.stateMu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out != nil {
		return w.out.Close()
	}
	return nil
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			for {
				select {
				case record := <-w.writeCh:
					w.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		w.log.Error("Failed to marshal record", "error", err, "segment", w.segment)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if w.out == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			w.log.Error("Failed to open JSONL file", "error", err, "segment", w.segment)
			return
		}
	}

	if _, err := w.out.Write(append(data, '\n')); err != nil {
		w.log.Error("Failed to write record", "error", err, "segment", w.segment)
	}
}

func (w *JSONLWriter) rotateForDate(date string) error {
	if w.out != nil {
		_ = w.out.Close()
		w.out = nil
	}

	dir := filepath.Join(w.baseDir, date, w.segment)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	name := w.runID
	if name == "" {
		name = strconv.FormatInt(w.now().Unix(), 10)
	}
	filename := filepath.Join(dir, name+".jsonl")

	w.out = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	w.currentDate = date
	w.log.Info("Opened new JSONL file", "file", filename, "segment", w.segment)
	return nil
}

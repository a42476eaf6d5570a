package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
)

// DefaultMaxLineBytes bounds the size of a single record on the decode side.
const DefaultMaxLineBytes = 64 << 20

var (
	ErrLineTooLong = errors.New("stream: record exceeds maximum line length")
	ErrTruncated   = errors.New("stream: stream ended inside a record")
)

type wireRecord struct {
	Type   EventType       `json:"type"`
	Object json.RawMessage `json:"object,omitempty"`
	URL    string          `json:"url,omitempty"`
	Status int             `json:"status,omitempty"`
}

// Marshal encodes rec as one newline-terminated line.
func Marshal(rec Record) ([]byte, error) {
	return Append(nil, rec)
}

// Append encodes rec onto buf.
func Append(buf []byte, rec Record) ([]byte, error) {
	w := wireRecord{Type: rec.Type(), URL: rec.CollectionURL()}
	switch r := rec.(type) {
	case StreamEnd:
		w.Status = r.Status
	default:
		obj := ObjectOf(rec)
		if obj == nil {
			return buf, fmt.Errorf("stream: %s record without object", rec.Type())
		}
		raw, err := json.Marshal(obj.Object)
		if err != nil {
			return buf, fmt.Errorf("stream: encode object: %w", err)
		}
		w.Object = raw
	}
	line, err := json.Marshal(w)
	if err != nil {
		return buf, fmt.Errorf("stream: encode record: %w", err)
	}
	buf = append(buf, line...)
	return append(buf, '\n'), nil
}

// AppendBatch encodes recs in order. Records that fail to encode are skipped
// and reported through the returned error; the others are still appended.
func AppendBatch(buf []byte, recs []Record) ([]byte, error) {
	var errs []error
	for _, rec := range recs {
		var err error
		buf, err = Append(buf, rec)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return buf, errors.Join(errs...)
}

// Unmarshal decodes a single line. A trailing newline is allowed.
func Unmarshal(line []byte) (Record, error) {
	line = bytes.TrimSpace(line)
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("stream: decode record: %w", err)
	}
	switch w.Type {
	case TypeStreamEnd:
		if w.URL == "" {
			return nil, errors.New("stream: STREAM_END record without url")
		}
		return StreamEnd{URL: w.URL, Status: w.Status}, nil
	case TypeAdded, TypeModified, TypeDeleted, TypeError:
		obj, err := decodeObject(w.Object)
		if err != nil {
			return nil, fmt.Errorf("stream: %s record: %w", w.Type, err)
		}
		return NewChange(w.Type, w.URL, obj), nil
	case "":
		return nil, errors.New("stream: record without type")
	default:
		return nil, fmt.Errorf("stream: unknown record type %q", w.Type)
	}
}

func decodeObject(raw json.RawMessage) (*unstructured.Unstructured, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("missing object")
	}
	var m map[string]interface{}
	if err := utiljson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return &unstructured.Unstructured{Object: m}, nil
}

// Decoder splits an incrementally delivered byte stream into records. A
// record may span any number of chunks; partial lines are buffered until
// their newline arrives.
type Decoder struct {
	MaxLineBytes int

	buf        []byte
	discarding bool
}

// Feed consumes one chunk. emit is called for every decoded record and fail
// for every line that could not be decoded; a bad line never stops decoding
// of the lines after it. The line passed to fail is only valid for the
// duration of the call.
func (d *Decoder) Feed(chunk []byte, emit func(Record), fail func(line []byte, err error)) {
	max := d.MaxLineBytes
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if d.discarding {
				return
			}
			d.buf = append(d.buf, chunk...)
			if len(d.buf) > max {
				fail(d.buf[:min(len(d.buf), 256)], ErrLineTooLong)
				d.buf = d.buf[:0]
				d.discarding = true
			}
			return
		}
		part := chunk[:i]
		chunk = chunk[i+1:]
		if d.discarding {
			d.discarding = false
			continue
		}
		var line []byte
		if len(d.buf) > 0 {
			d.buf = append(d.buf, part...)
			line = d.buf
		} else {
			line = part
		}
		if len(line) > max {
			fail(line[:min(len(line), 256)], ErrLineTooLong)
		} else if len(bytes.TrimSpace(line)) > 0 {
			rec, err := Unmarshal(line)
			if err != nil {
				fail(line, err)
			} else {
				emit(rec)
			}
		}
		d.buf = d.buf[:0]
	}
}

// Pending returns the number of buffered bytes of an unfinished line.
func (d *Decoder) Pending() int { return len(d.buf) }

// Finish reports an unterminated trailing line, if any, and resets the
// decoder.
func (d *Decoder) Finish(fail func(line []byte, err error)) {
	if len(bytes.TrimSpace(d.buf)) > 0 && !d.discarding {
		fail(d.buf, ErrTruncated)
	}
	d.buf = d.buf[:0]
	d.discarding = false
}

// Decode reads r until it fails, feeding every chunk through a fresh
// Decoder. It returns the read error; io.EOF means the peer closed the
// stream.
func Decode(r io.Reader, emit func(Record), fail func(line []byte, err error)) error {
	var d Decoder
	chunk := make([]byte, 32<<10)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			d.Feed(chunk[:n], emit, fail)
		}
		if err != nil {
			d.Finish(fail)
			return err
		}
	}
}

// Package stream implements the relay wire format: newline-delimited JSON
// records, one flushed unit per line.
package stream

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ContentType is the media type of a relay response body.
const ContentType = "application/x-ndjson"

// EventType is the "type" discriminator of a wire record.
type EventType string

const (
	TypeAdded     EventType = "ADDED"
	TypeModified  EventType = "MODIFIED"
	TypeDeleted   EventType = "DELETED"
	TypeError     EventType = "ERROR"
	TypeStreamEnd EventType = "STREAM_END"
)

// Record is one decoded wire record. The concrete type is one of Added,
// Modified, Deleted, Error or StreamEnd; the set is closed.
type Record interface {
	Type() EventType
	// CollectionURL is the collection the record belongs to. It may be empty
	// for change records produced by peers that do not send the url field.
	CollectionURL() string
	sealed()
}

// Added reports an object entering the collection.
type Added struct {
	URL    string
	Object *unstructured.Unstructured
}

// Modified reports a change to an object in the collection.
type Modified struct {
	URL    string
	Object *unstructured.Unstructured
}

// Deleted reports an object leaving the collection. Object is its last state.
type Deleted struct {
	URL    string
	Object *unstructured.Unstructured
}

// Error carries an upstream watch error, usually a metav1.Status.
type Error struct {
	URL    string
	Object *unstructured.Unstructured
}

// StreamEnd marks the end of one collection's stream within a relay
// connection. Other collections on the same connection are unaffected.
type StreamEnd struct {
	URL    string
	Status int
}

func (Added) Type() EventType     { return TypeAdded }
func (Modified) Type() EventType  { return TypeModified }
func (Deleted) Type() EventType   { return TypeDeleted }
func (Error) Type() EventType     { return TypeError }
func (StreamEnd) Type() EventType { return TypeStreamEnd }

func (r Added) CollectionURL() string     { return r.URL }
func (r Modified) CollectionURL() string  { return r.URL }
func (r Deleted) CollectionURL() string   { return r.URL }
func (r Error) CollectionURL() string     { return r.URL }
func (r StreamEnd) CollectionURL() string { return r.URL }

func (Added) sealed()     {}
func (Modified) sealed()  {}
func (Deleted) sealed()   {}
func (Error) sealed()     {}
func (StreamEnd) sealed() {}

// ObjectOf returns the object carried by rec, or nil for StreamEnd.
func ObjectOf(rec Record) *unstructured.Unstructured {
	switch r := rec.(type) {
	case Added:
		return r.Object
	case Modified:
		return r.Object
	case Deleted:
		return r.Object
	case Error:
		return r.Object
	default:
		return nil
	}
}

// WithURL returns rec with its collection url set.
func WithURL(rec Record, url string) Record {
	switch r := rec.(type) {
	case Added:
		r.URL = url
		return r
	case Modified:
		r.URL = url
		return r
	case Deleted:
		r.URL = url
		return r
	case Error:
		r.URL = url
		return r
	case StreamEnd:
		r.URL = url
		return r
	default:
		return rec
	}
}

// NewChange builds the change record for t. It returns nil for types that do
// not carry an object.
func NewChange(t EventType, url string, obj *unstructured.Unstructured) Record {
	switch t {
	case TypeAdded:
		return Added{URL: url, Object: obj}
	case TypeModified:
		return Modified{URL: url, Object: obj}
	case TypeDeleted:
		return Deleted{URL: url, Object: obj}
	case TypeError:
		return Error{URL: url, Object: obj}
	default:
		return nil
	}
}

// Request is the body of a relay connection request.
type Request struct {
	APIs []string `json:"apis"`
	// ResourceVersions optionally maps a collection url to the resource
	// version to resume from. Absent entries start from the latest state.
	ResourceVersions map[string]string `json:"resourceVersions,omitempty"`
}

// VersionInfo is the response of a resource-version lookup.
type VersionInfo struct {
	URL             string `json:"url"`
	ResourceVersion string `json:"resourceVersion"`
}

package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func pod(name, rv string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("v1")
	u.SetKind("Pod")
	u.SetNamespace("default")
	u.SetName(name)
	u.SetResourceVersion(rv)
	return u
}

type collected struct {
	recs  []Record
	fails []string
}

func (c *collected) emit(r Record) { c.recs = append(c.recs, r) }
func (c *collected) fail(line []byte, err error) {
	c.fails = append(c.fails, string(line)+" => "+err.Error())
}

func TestMarshalWireShapes(t *testing.T) {
	line, err := Marshal(StreamEnd{URL: "/api/v1/namespaces/default/pods", Status: 410})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"STREAM_END","url":"/api/v1/namespaces/default/pods","status":410}`+"\n", string(line))

	line, err = Marshal(Added{Object: pod("a", "10")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(line), `{"type":"ADDED","object":{`), string(line))
	assert.Equal(t, 1, bytes.Count(line, []byte("\n")))
	assert.True(t, bytes.HasSuffix(line, []byte("}\n")))
}

func TestMarshalRejectsMissingObject(t *testing.T) {
	_, err := Marshal(Modified{URL: "/api/v1/pods"})
	assert.Error(t, err)
}

func TestUnmarshalScenarioRecord(t *testing.T) {
	rec, err := Unmarshal([]byte(`{"type":"ADDED","object":{"kind":"Pod","apiVersion":"v1","metadata":{"name":"a","namespace":"default","resourceVersion":"10"}}}` + "\n"))
	require.NoError(t, err)
	added, ok := rec.(Added)
	require.True(t, ok, "got %T", rec)
	assert.Equal(t, "10", added.Object.GetResourceVersion())
	assert.Equal(t, "", added.CollectionURL())
}

func TestUnmarshalErrors(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`{"object":{}}`,
		`{"type":"RESYNC"}`,
		`{"type":"ADDED"}`,
		`{"type":"ADDED","object":null}`,
		`{"type":"STREAM_END","status":410}`,
	} {
		_, err := Unmarshal([]byte(line))
		assert.Error(t, err, line)
	}
}

func TestDecoderSpansChunks(t *testing.T) {
	var buf []byte
	var err error
	buf, err = AppendBatch(buf, []Record{
		Added{URL: "/api/v1/pods", Object: pod("a", "1")},
		Modified{URL: "/api/v1/pods", Object: pod("a", "2")},
		StreamEnd{URL: "/api/v1/pods", Status: 410},
	})
	require.NoError(t, err)

	// Feed one byte at a time: every record crosses chunk boundaries.
	var d Decoder
	var c collected
	for i := range buf {
		d.Feed(buf[i:i+1], c.emit, c.fail)
	}
	require.Empty(t, c.fails)
	require.Len(t, c.recs, 3)
	assert.Equal(t, TypeAdded, c.recs[0].Type())
	assert.Equal(t, "2", ObjectOf(c.recs[1]).GetResourceVersion())
	assert.Equal(t, StreamEnd{URL: "/api/v1/pods", Status: 410}, c.recs[2])
	assert.Equal(t, 0, d.Pending())
}

func TestDecoderSkipsBadLine(t *testing.T) {
	input := "{\"type\":\"ADDED\",\"object\":{\"metadata\":{\"resourceVersion\":\"1\"}}}\n" +
		"{garbage\n" +
		"\n" +
		"{\"type\":\"DELETED\",\"object\":{\"metadata\":{\"resourceVersion\":\"2\"}}}\n"
	var d Decoder
	var c collected
	d.Feed([]byte(input), c.emit, c.fail)
	require.Len(t, c.fails, 1)
	assert.Contains(t, c.fails[0], "{garbage")
	require.Len(t, c.recs, 2)
	assert.Equal(t, TypeDeleted, c.recs[1].Type())
}

func TestDecoderLineLimit(t *testing.T) {
	d := Decoder{MaxLineBytes: 16}
	var c collected
	d.Feed([]byte(strings.Repeat("x", 20)), c.emit, c.fail)
	d.Feed([]byte(strings.Repeat("x", 20)+"\n"), c.emit, c.fail)
	d.Feed([]byte(`{"type":"STREAM_END","url":"/api/v1/pods","status":1}`[:0]), c.emit, c.fail)
	require.Len(t, c.fails, 1)
	assert.Contains(t, c.fails[0], ErrLineTooLong.Error())
	assert.Empty(t, c.recs)

	d.MaxLineBytes = 0
	d.Feed([]byte(`{"type":"STREAM_END","url":"/api/v1/pods","status":1}`+"\n"), c.emit, c.fail)
	assert.Len(t, c.recs, 1)
}

func TestDecodeReportsTruncation(t *testing.T) {
	var c collected
	r := io.MultiReader(
		strings.NewReader(`{"type":"STREAM_END","url":"/api/v1/pods","status":410}`+"\n"),
		strings.NewReader(`{"type":"ADD`),
	)
	err := Decode(r, c.emit, c.fail)
	assert.True(t, errors.Is(err, io.EOF))
	assert.Len(t, c.recs, 1)
	require.Len(t, c.fails, 1)
	assert.Contains(t, c.fails[0], ErrTruncated.Error())
}

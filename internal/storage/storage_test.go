package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCollectionSegment(t *testing.T) {
	cases := map[string]string{
		"/api/v1/namespaces/default/pods":  "api_v1_namespaces_default_pods",
		"/apis/apps/v1/deployments/":       "apis_apps_v1_deployments",
		"/apis/cert-manager.io/v1/issuers": "apis_cert-manager-io_v1_issuers",
		"/":                                "root",
	}
	for in, want := range cases {
		got, err := CollectionSegment(in)
		if err != nil {
			t.Fatalf("CollectionSegment(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("CollectionSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShortRunID(t *testing.T) {
	if got := ShortRunID("b0d5a8e8-1c2d-4e5f-8a9b-0c1d2e3f4a5b"); got != "b0d5a8e8" {
		t.Fatalf("ShortRunID() = %q", got)
	}
	if got := ShortRunID("abc"); got != "abc" {
		t.Fatalf("ShortRunID() = %q", got)
	}
}

func readLines(t *testing.T, pattern string) []Record {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("glob %q matched %v", pattern, matches)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestWriterRegistryRecordsPerCollection(t *testing.T) {
	dir := t.TempDir()
	reg := NewWriterRegistry(dir, "run12345", 16, 1, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		{Time: now, Type: "ADDED", URL: "/api/v1/namespaces/default/pods", Object: map[string]any{"kind": "Pod"}},
		{Time: now, Type: "DELETED", URL: "/api/v1/namespaces/default/pods", Object: map[string]any{"kind": "Pod"}},
		{Time: now, Type: "ADDED", URL: "/api/v1/services"},
	}
	for _, rec := range recs {
		if err := reg.Record(rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	pods := readLines(t, filepath.Join(dir, "*", "api_v1_namespaces_default_pods", "run12345.jsonl"))
	if len(pods) != 2 || pods[0].Type != "ADDED" || pods[1].Type != "DELETED" {
		t.Fatalf("pods records = %+v", pods)
	}
	svcs := readLines(t, filepath.Join(dir, "*", "api_v1_services", "run12345.jsonl"))
	if len(svcs) != 1 || svcs[0].Object != nil {
		t.Fatalf("services records = %+v", svcs)
	}
}

func TestJSONLWriterRejectsAfterClose(t *testing.T) {
	w := NewJSONLWriter(t.TempDir(), "seg", "", 4, 1, nil)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Write(Record{Type: "ADDED"}); err != ErrWriterClosed {
		t.Fatalf("Write() after close = %v, want ErrWriterClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestJSONLWriterRotatesByDate(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLWriter(dir, "seg", "r", 4, 1, nil)

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w.mu.Lock()
	w.now = func() time.Time { return day }
	w.mu.Unlock()
	w.writeRecord(Record{Type: "ADDED"})

	w.mu.Lock()
	w.now = func() time.Time { return day.Add(2 * time.Minute) }
	w.mu.Unlock()
	w.writeRecord(Record{Type: "MODIFIED"})

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	first := readLines(t, filepath.Join(dir, "2026-03-01", "seg", "r.jsonl"))
	second := readLines(t, filepath.Join(dir, "2026-03-02", "seg", "r.jsonl"))
	if len(first) != 1 || len(second) != 1 || second[0].Type != "MODIFIED" {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
}

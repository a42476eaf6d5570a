package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dgnsrekt/watchrelay/internal/storage"
	"github.com/dgnsrekt/watchrelay/internal/stream"
	"github.com/dgnsrekt/watchrelay/internal/watchclient"
)

// printer writes one line per event. Lines from concurrent subscriptions
// never interleave.
type printer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, now: time.Now}
}

func (p *printer) print(evt watchclient.Event) {
	line := formatEvent(p.now(), evt)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.out, line)
}

func formatEvent(at time.Time, evt watchclient.Event) string {
	ts := at.UTC().Format(time.RFC3339)
	if evt.Object == nil {
		return fmt.Sprintf("%s %-8s %s\n", ts, evt.Type, evt.Ref.URL())
	}
	obj := evt.Object
	if evt.Type == stream.TypeError {
		msg, _ := obj.Object["message"].(string)
		return fmt.Sprintf("%s %-8s %s %q\n", ts, evt.Type, evt.Ref.URL(), msg)
	}
	name := obj.GetName()
	if ns := obj.GetNamespace(); ns != "" {
		name = ns + "/" + name
	}
	return fmt.Sprintf("%s %-8s %s %s %s rv=%s\n", ts, evt.Type, evt.Ref.URL(), obj.GetKind(), name, obj.GetResourceVersion())
}

func toRecord(evt watchclient.Event) storage.Record {
	rec := storage.Record{
		Time: time.Now().UTC(),
		Type: string(evt.Type),
		URL:  evt.Ref.URL(),
	}
	if evt.Object != nil {
		rec.Object = evt.Object.Object
	}
	return rec
}

// alertFor builds the ntfy title and body for an ERROR event.
func alertFor(evt watchclient.Event) (string, string) {
	title := "watchtail: " + evt.Ref.URL()
	msg := "stream error"
	if evt.Object != nil {
		if m, _ := evt.Object.Object["message"].(string); m != "" {
			msg = m
		}
		if code, ok := evt.Object.Object["code"]; ok {
			msg = fmt.Sprintf("%s (code %v)", msg, code)
		}
	}
	return title, msg
}

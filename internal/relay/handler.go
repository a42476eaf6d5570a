package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/watchrelay/internal/stream"
)

// maxCloseReason is the longest close reason a control frame can carry.
const maxCloseReason = 123

// WebSocketHandler serves relay connections over a websocket. The first
// client text frame is the JSON request; every server text frame carries one
// flushed batch of newline-delimited records. The connection ends when the
// socket is closed or fails.
func WebSocketHandler(e *Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("relay websocket upgrade failed", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		var wmu sync.Mutex
		writeClose := func(code ws.StatusCode, reason string) {
			if len(reason) > maxCloseReason {
				reason = reason[:maxCloseReason]
			}
			wmu.Lock()
			defer wmu.Unlock()
			_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
		}

		msg, err := wsutil.ReadClientText(conn)
		if err != nil {
			slog.Debug("relay websocket request read failed", "error", err)
			return
		}
		var req stream.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			writeClose(ws.StatusUnsupportedData, "invalid request: "+err.Error())
			return
		}
		targets, err := e.Prepare(req)
		if err != nil {
			code := ws.StatusUnsupportedData
			var coded *CodedError
			if errors.As(err, &coded) && coded.Code == CodeForbidden {
				code = ws.StatusPolicyViolation
			}
			writeClose(code, err.Error())
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			// Pongs and close echoes share wmu with the batch writes.
			rw := struct {
				io.Reader
				io.Writer
			}{conn, &lockedWriter{mu: &wmu, w: conn}}
			for {
				if _, _, err := wsutil.ReadClientData(rw); err != nil {
					return
				}
			}
		}()

		sink := NewWriterSink(func(p []byte) error {
			wmu.Lock()
			defer wmu.Unlock()
			return wsutil.WriteServerText(conn, p)
		})
		c := e.Open(ctx, targets, sink)
		<-ctx.Done()
		c.Close()
		sink.Close()
		writeClose(ws.StatusNormalClosure, "")
	}
}

// lockedWriter serializes control frame replies with the other writers of a
// connection. Each control reply is a single Write.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

package watchclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/watchrelay/internal/stream"
)

// WebSocketTransport opens relay connections over the relay's websocket
// endpoint. Each server text frame carries one flushed batch of records.
type WebSocketTransport struct {
	url    string
	dialer ws.Dialer
}

// NewWebSocketTransport returns a transport for the relay at baseURL. http
// and https base URLs are mapped to ws and wss.
func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WebSocketTransport{url: u + "/api/v1/watch/ws"}
}

func (t *WebSocketTransport) Open(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}
	conn, br, _, err := t.dialer.Dial(ctx, t.url)
	if err != nil {
		return nil, fmt.Errorf("dial relay websocket: %w", err)
	}
	s := &wsStream{conn: conn}
	var src io.Reader = conn
	if br != nil {
		src = io.MultiReader(br, conn)
	}
	s.rw = struct {
		io.Reader
		io.Writer
	}{bufio.NewReader(src), &s.wmu}
	s.wmu.w = conn

	if err := s.write(body); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send relay request: %w", err)
	}
	return s, nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// wsStream turns server text frames into a byte stream.
type wsStream struct {
	conn net.Conn
	rw   io.ReadWriter
	wmu  lockedWriter
	buf  []byte
	once sync.Once
}

func (s *wsStream) write(p []byte) error {
	s.wmu.mu.Lock()
	defer s.wmu.mu.Unlock()
	return wsutil.WriteClientText(s.conn, p)
}

func (s *wsStream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		data, op, err := wsutil.ReadServerData(s.rw)
		if err != nil {
			return 0, closeError(err)
		}
		if op == ws.OpText || op == ws.OpBinary {
			s.buf = data
		}
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		s.wmu.mu.Lock()
		_ = ws.WriteFrame(s.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		s.wmu.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// closeError maps a close frame from the relay onto the errors the HTTP
// transport reports for the same condition.
func closeError(err error) error {
	var closed wsutil.ClosedError
	if !errors.As(err, &closed) {
		return err
	}
	switch closed.Code {
	case ws.StatusNormalClosure, ws.StatusNoStatusRcvd, ws.StatusGoingAway:
		return io.EOF
	case ws.StatusPolicyViolation:
		return &StatusError{StatusCode: http.StatusForbidden, Message: closed.Reason}
	case ws.StatusUnsupportedData:
		return &StatusError{StatusCode: http.StatusBadRequest, Message: closed.Reason}
	default:
		return err
	}
}

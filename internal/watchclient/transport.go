package watchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/stream"
)

const maxErrorBody = 4 << 10

// StatusError is a relay response with an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// HTTPTransport talks to a relay over plain HTTP: relay connections are
// streaming POST requests and token refreshes are GET requests. It
// implements both Transport and TokenSource.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport returns a transport for the relay at baseURL, e.g.
// http://127.0.0.1:8190. A nil client uses http.DefaultClient; it must not
// set a Timeout, which would cut every relay connection short.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Open(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/watch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", stream.ContentType)

	resp, err := t.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readStatusError(resp)
	}
	return resp.Body, nil
}

func (t *HTTPTransport) ResourceVersion(ctx context.Context, ref collection.Ref) (string, error) {
	u := t.baseURL + "/api/v1/resource-version?url=" + url.QueryEscape(ref.URL())
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(hreq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", readStatusError(resp)
	}
	var info stream.VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode resource version: %w", err)
	}
	return info.ResourceVersion, nil
}

// readStatusError builds a StatusError from a non-200 response, preferring
// the detail of an RFC 9457 problem body.
func readStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &problem) == nil {
		switch {
		case problem.Detail != "":
			msg = problem.Detail
		case problem.Title != "":
			msg = problem.Title
		}
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

// Package notify posts plain-text alerts to an ntfy topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single alert post.
const DefaultTimeout = 5 * time.Second

var errNoEndpoint = errors.New("ntfy endpoint is required")

// Notifier sends alerts to one ntfy topic URL.
type Notifier struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
}

// New returns a Notifier for endpoint. A nil client uses http.DefaultClient.
func New(endpoint string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{client: client, endpoint: endpoint, timeout: DefaultTimeout}
}

// Notify posts message with an optional title.
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return Send(ctx, n.client, n.endpoint, title, message)
}

// Send posts message to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if endpoint == "" {
		return errNoEndpoint
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

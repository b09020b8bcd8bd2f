package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sender delivers a serialized payload to a webhook URL. Retry and signing
// policy live with the receiver's infrastructure, not here.
type Sender interface {
	Send(ctx context.Context, url string, body []byte) error
}

type httpSender struct {
	client *http.Client
}

// NewHTTPSender returns a Sender that POSTs JSON over the given client.
// A nil client gets a 30 second timeout default.
func NewHTTPSender(client *http.Client) Sender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpSender{client: client}
}

func (s *httpSender) Send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "importd-webhook/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

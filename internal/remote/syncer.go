// Package remote talks to the remote bookkeeping endpoint. The drainer
// only needs success or failure per invoice; the wire payload here is
// deliberately minimal.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type syncRequest struct {
	InvoiceID string `json:"invoice_id"`
}

// HTTPSyncer posts one invoice at a time to the configured endpoint.
// Implements drain.Syncer.
type HTTPSyncer struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSyncer(endpoint string, timeout time.Duration) *HTTPSyncer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSyncer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSyncer) SyncOne(ctx context.Context, invoiceID string) error {
	body, err := json.Marshal(syncRequest{InvoiceID: invoiceID})
	if err != nil {
		return fmt.Errorf("marshal sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sync %s: %w", invoiceID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sync %s: remote returned %s", invoiceID, resp.Status)
	}
	return nil
}

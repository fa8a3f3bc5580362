package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

var _ ports.CompletionNotifier = (*Webhook)(nil)

// CompletionEvent is the body posted by Webhook.
type CompletionEvent struct {
	Event    string          `json:"event"`
	Progress domain.Progress `json:"progress"`
}

// Webhook posts a CompletionEvent to URL whenever a playbook is completed.
type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// NewWebhook creates a notifier with a 10s client timeout.
func NewWebhook(url string, headers map[string]string) *Webhook {
	return &Webhook{URL: url, Headers: headers, Client: &http.Client{Timeout: 10 * time.Second}}
}

// NotifyCompletion implements ports.CompletionNotifier.
func (h *Webhook) NotifyCompletion(ctx context.Context, p domain.Progress) error {
	body, err := json.Marshal(CompletionEvent{Event: "playbook.completed", Progress: p})
	if err != nil {
		return fmt.Errorf("failed to encode completion event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s answered %s", h.URL, resp.Status)
	}
	return nil
}

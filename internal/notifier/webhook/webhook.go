// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/notifier"
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// New creates a new Webhook notifier
func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Init(cfg notifier.Config) error {
	if url := cfg.String("url"); url != "" {
		w.url = url
	}
	if headers := cfg.StringMap("headers"); len(headers) > 0 {
		w.headers = headers
	}

	if w.url == "" {
		return fmt.Errorf("webhook: url is required")
	}

	if w.client == nil {
		w.client = &http.Client{Timeout: 30 * time.Second}
	}

	return nil
}

type payload struct {
	Type     string          `json:"type"`
	RunID    string          `json:"run_id"`
	Strategy string          `json:"strategy"`
	Symbols  []string        `json:"symbols"`
	Start    string          `json:"start"`
	End      string          `json:"end"`
	Result   backtest.Result `json:"result"`
	Text     string          `json:"text"`
	Document string          `json:"document,omitempty"`
	Alerts   []string        `json:"alerts,omitempty"`
}

func (w *Webhook) Send(ctx context.Context, summary notifier.Summary) error {
	return w.post(ctx, payload{
		Type:     "backtest_result",
		RunID:    summary.RunID,
		Strategy: summary.Strategy,
		Symbols:  summary.Symbols,
		Start:    summary.Start.Format(time.DateOnly),
		End:      summary.End.Format(time.DateOnly),
		Result:   summary.Result,
		Text:     summary.Text,
		Document: summary.DocumentPath,
		Alerts:   summary.Alerts,
	})
}

func (w *Webhook) post(ctx context.Context, p any) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}

	return nil
}

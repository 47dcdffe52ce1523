package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hemostat/hemostat/internal/retry"
)

// Severity tags understood by the notification sink.
const (
	TagSuccess = "success"
	TagError   = "error"
	TagWarning = "warning"
	TagInfo    = "info"
	TagMuted   = "muted"
)

// Notification is the formatted message delivered to the sink.
type Notification struct {
	Title     string    `json:"title"`
	Severity  string    `json:"severity"`
	Kind      string    `json:"kind"`
	Container string    `json:"container"`
	Timestamp time.Time `json:"timestamp"`
	Fields    []Field   `json:"fields,omitempty"`
}

// Field is one key/value detail row of a notification.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Sink delivers notifications. The webhook client is the production
// implementation.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// WebhookClient POSTs notifications as JSON to a single webhook URL with
// bounded retries. A Retry-After header on 429/503 overrides the computed
// backoff.
type WebhookClient struct {
	url         string
	client      *http.Client
	maxAttempts int
}

// NewWebhookClient builds a webhook sink. timeout bounds each individual
// attempt (default 5s); maxAttempts defaults to 3.
func NewWebhookClient(url string, timeout time.Duration, maxAttempts int) *WebhookClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &WebhookClient{
		url:         url,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
	}
}

// Send delivers one notification, retrying transient failures.
func (w *WebhookClient) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	return retry.Do(ctx, func() error {
		return w.post(ctx, body)
	}, retry.Config{
		MaxAttempts:    w.maxAttempts,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	})
}

func (w *WebhookClient) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := fmt.Errorf("webhook returned status %d", resp.StatusCode)
	if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
		return &retry.AfterError{After: after, Err: statusErr}
	}
	return statusErr
}

// parseRetryAfter understands the delay-seconds form of the header.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

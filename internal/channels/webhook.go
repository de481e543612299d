package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// webhookTimeout is the timeout for an outbound webhook request.
var webhookTimeout = 30 * time.Second

// WebhookPoster forwards a plain-text message to a customer-configured
// endpoint.
type WebhookPoster interface {
	Post(ctx context.Context, out *WebhookOutbound) (externalID string, err error)
}

// HTTPWebhookPoster posts JSON payloads to webhook endpoints.
type HTTPWebhookPoster struct {
	client *http.Client
}

// NewHTTPWebhookPoster creates a webhook poster with a bounded timeout.
func NewHTTPWebhookPoster() *HTTPWebhookPoster {
	return &HTTPWebhookPoster{
		client: &http.Client{Timeout: webhookTimeout},
	}
}

type webhookPayload struct {
	CaseID    string `json:"case_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Post delivers the message to the endpoint. Any non-2xx status is a send
// failure; the response body is included for operators chasing delivery
// problems.
func (p *HTTPWebhookPoster) Post(ctx context.Context, out *WebhookOutbound) (string, error) {
	if out.URL == "" {
		return "", ErrNoConnection
	}

	body, err := json.Marshal(webhookPayload{
		CaseID:    out.CaseID,
		Text:      out.Text,
		Timestamp: out.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal webhook payload for %s: %w", out.URL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, out.URL, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to construct webhook request to %s: %w", out.URL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &ChannelError{Code: "SEND_FAILED", Message: "webhook endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read webhook response from %s: %w", out.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().
			Str("url", out.URL).
			Int("status", resp.StatusCode).
			Msg("outbound webhook rejected")
		return "", &ChannelError{
			Code:    "SEND_FAILED",
			Message: fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, respBody),
		}
	}

	// Webhook endpoints have no provider message id; the delivery receipt
	// is the HTTP status itself.
	return "", nil
}

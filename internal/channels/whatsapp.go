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

// WhatsAppSender delivers a plain-text message (plus at most one media item)
// to a customer's phone and returns the provider message id.
type WhatsAppSender interface {
	Send(ctx context.Context, out *WhatsAppOutbound) (externalID string, err error)
}

// WhatsAppBridgeClient communicates with the WhatsApp bridge service over
// HTTP. The bridge owns the session with the WhatsApp network; this client
// only submits outbound messages and reads back provider ids.
type WhatsAppBridgeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewWhatsAppBridgeClient creates a new client for the bridge.
func NewWhatsAppBridgeClient(bridgeURL, apiKey string) *WhatsAppBridgeClient {
	return &WhatsAppBridgeClient{
		baseURL: bridgeURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type bridgeSendRequest struct {
	To       string `json:"to"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

type bridgeSendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck verifies the bridge is reachable and has an active session.
func (b *WhatsAppBridgeClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// Send submits one outbound message to the bridge.
func (b *WhatsAppBridgeClient) Send(ctx context.Context, out *WhatsAppOutbound) (string, error) {
	if out.To == "" {
		return "", ErrNoRecipient
	}

	payload := bridgeSendRequest{
		To:   out.To,
		Text: out.Text,
		Type: "text",
	}
	if out.MediaURL != "" {
		payload.Type = out.MediaKind.String()
		payload.MediaURL = out.MediaURL
		payload.MimeType = out.MimeType
		payload.FileName = out.FileName
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bridge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to construct bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", &ChannelError{Code: "SEND_FAILED", Message: "bridge unreachable", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read bridge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("to", out.To).
			Msg("WhatsApp bridge rejected message")
		return "", &ChannelError{
			Code:    "SEND_FAILED",
			Message: fmt.Sprintf("bridge returned status %d: %s", resp.StatusCode, respBody),
		}
	}

	var parsed bridgeSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal bridge response: %w", err)
	}
	if parsed.Error != "" {
		return "", &ChannelError{Code: "SEND_FAILED", Message: parsed.Error}
	}

	return parsed.MessageID, nil
}

// SendTyping toggles the typing indicator for a chat. Best-effort: callers
// log failures and move on.
func (b *WhatsAppBridgeClient) SendTyping(ctx context.Context, to string, typing bool) error {
	body, _ := json.Marshal(map[string]any{"to": to, "typing": typing})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/typing", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("typing indicator failed: status %d", resp.StatusCode)
	}
	return nil
}

func (b *WhatsAppBridgeClient) setHeaders(req *http.Request) {
	if b.apiKey != "" {
		req.Header.Set("x-bridge-api-key", b.apiKey)
	}
}

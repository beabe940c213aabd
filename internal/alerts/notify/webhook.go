package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Channel delivers a rendered notification.
type Channel interface {
	Send(ctx context.Context, note Notification, content string) error
}

// webhookPayload is a chat-style text message plus the alert fields.
type webhookPayload struct {
	MsgType string       `json:"msgtype"`
	Text    webhookText  `json:"text"`
	Alert   webhookAlert `json:"alert"`
}

type webhookText struct {
	Content string `json:"content"`
}

type webhookAlert struct {
	Kind      string `json:"type"`
	MAC       string `json:"mac"`
	Device    string `json:"device,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	// State is "raised" for problem kinds, "cleared" for resolutions and
	// "info" for the rest.
	State string `json:"state"`
}

// WebhookChannel posts alert notifications to an HTTP endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the rendered content together with the alert fields.
func (w *WebhookChannel) Send(ctx context.Context, note Notification, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(newWebhookPayload(note, content))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Beacon-Alert-Type", string(note.Kind))
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: %s %s non-2xx response %d", note.Kind, note.MAC, resp.StatusCode)
	}
	return nil
}

func newWebhookPayload(note Notification, content string) webhookPayload {
	msg := note.WireMessage()
	state := "info"
	switch {
	case note.Kind.IsProblem():
		state = "raised"
	case note.Kind.IsResolution():
		state = "cleared"
	}
	return webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
		Alert: webhookAlert{
			Kind:      msg.Type,
			MAC:       msg.MAC,
			Device:    note.Name,
			Message:   msg.Message,
			Timestamp: msg.Timestamp,
			State:     state,
		},
	}
}

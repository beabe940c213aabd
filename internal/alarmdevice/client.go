package alarmdevice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client drives the physical alarm over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient constructs a client.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("alarmdevice: empty base url")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Blink starts the alarm.
func (c *Client) Blink(ctx context.Context) error {
	return c.get(ctx, "/blinkLED")
}

// Stop silences the alarm.
func (c *Client) Stop(ctx context.Context) error {
	return c.get(ctx, "/stopBlink")
}

func (c *Client) get(ctx context.Context, path string) error {
	if c == nil {
		return errors.New("alarmdevice: nil client")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alarmdevice: http %d", resp.StatusCode)
	}
	return nil
}

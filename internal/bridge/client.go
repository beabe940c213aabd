package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"beacon-guard/internal/observability/metrics"
)

const maxBodyBytes = 1 << 20

// Response is the training service reply.
type Response struct {
	Message    string   `json:"message"`
	TargetMACs []string `json:"target_macs,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Error is a failed training service call.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge: http %d", e.Status)
	}
	return fmt.Sprintf("bridge: http %d: %s", e.Status, e.Message)
}

// ErrMalformed marks an unreadable success body.
var ErrMalformed = errors.New("bridge: malformed response")

// Client is the external estimation/training service client.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient constructs a client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("bridge: empty base url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Train asks the service to start training for a device.
func (c *Client) Train(ctx context.Context, mac string) (Response, error) {
	if strings.TrimSpace(mac) == "" {
		return Response{}, errors.New("bridge: empty mac")
	}
	return c.get(ctx, "train", "/train/"+url.PathEscape(mac))
}

// Refresh asks the service to reload its device list.
func (c *Client) Refresh(ctx context.Context) (Response, error) {
	return c.get(ctx, "refresh", "/refresh_devices")
}

func (c *Client) get(ctx context.Context, action, path string) (Response, error) {
	if c == nil {
		return Response{}, errors.New("bridge: nil client")
	}
	start := time.Now()
	resp, err := c.doJSON(ctx, path)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveBridge(action, result, time.Since(start))
	return resp, err
}

func (c *Client) doJSON(ctx context.Context, path string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, err
	}

	var out Response
	decodeErr := json.Unmarshal(body, &out)
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(out.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return Response{}, &Error{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, decodeErr)
	}
	if out.Error != "" {
		return Response{}, &Error{Status: resp.StatusCode, Message: out.Error}
	}
	return out, nil
}

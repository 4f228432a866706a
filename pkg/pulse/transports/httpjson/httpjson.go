// Package httpjson provides a transport that POSTs JSON bodies to a collector
// over HTTP. It also implements pulse.UnloadSender.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/farmared/pulse/pkg/pulse"
)

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector %s returned status %d", e.Endpoint, e.StatusCode)
}

// Option configures the transport.
type Option func(*config)

type config struct {
	client        *http.Client
	headers       map[string]string
	unloadTimeout time.Duration
}

// WithHTTPClient sets the HTTP client (default: a client with a 10s timeout).
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		if client != nil {
			c.client = client
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *config) {
		c.headers[key] = value
	}
}

// WithUnloadTimeout bounds the detached unload request (default: 5s).
func WithUnloadTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.unloadTimeout = d
		}
	}
}

// Transport posts JSON to <baseURL><endpoint>.
type Transport struct {
	baseURL       string
	client        *http.Client
	headers       map[string]string
	unloadTimeout time.Duration
}

var (
	_ pulse.Transport    = (*Transport)(nil)
	_ pulse.UnloadSender = (*Transport)(nil)
)

// New creates a Transport for the collector at baseURL, e.g.
// "https://site.example".
func New(baseURL string, opts ...Option) *Transport {
	cfg := &config{
		client:        &http.Client{Timeout: 10 * time.Second},
		headers:       make(map[string]string),
		unloadTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Transport{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		client:        cfg.client,
		headers:       cfg.headers,
		unloadTimeout: cfg.unloadTimeout,
	}
}

// FromConfig creates a Transport for cfg.Endpoint whose client times out
// after cfg.RequestTimeout. The endpoint is required here and nowhere else.
func FromConfig(cfg pulse.Config, opts ...Option) (*Transport, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("httpjson: endpoint is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := []Option{WithHTTPClient(&http.Client{Timeout: timeout})}
	return New(cfg.Endpoint, append(base, opts...)...), nil
}

// Send posts payload as JSON. The response body is drained and ignored.
func (t *Transport) Send(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	return nil
}

// SendOnUnload encodes payload on the caller's goroutine and posts it from a
// detached one, so teardown never waits on the network. It reports false only
// when the body cannot be encoded.
func (t *Transport) SendOnUnload(endpoint string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	go func() {
		defer func() { _ = recover() }()
		ctx, cancel := context.WithTimeout(context.Background(), t.unloadTimeout)
		defer cancel()
		_ = t.Send(ctx, endpoint, json.RawMessage(body))
	}()
	return true
}

// Package etraffic fetches raw incident payloads from the DGT eTraffic
// endpoint. It only moves bytes; decoding lives in the domain package.
package etraffic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Joboufra/v16-tracker-ingestor/internal/config"
)

// maxBodyPreview bounds the response excerpt included in status errors.
const maxBodyPreview = 500

// Client performs the upstream HTTP requests. The underlying http.Client is
// reused across polls and closed at shutdown.
type Client struct {
	endpoint   string
	method     string
	body       []byte
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client from validated configuration. Endpoint scheme and
// host allow-listing are enforced by config.Load before this point.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	var body []byte
	if cfg.Method == http.MethodPost {
		body = cfg.PayloadBody()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		method:   cfg.Method,
		body:     body,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger,
	}
}

// Fetch performs one upstream request and returns the raw body with the
// declared content type. Non-2xx responses are errors carrying a bounded
// body preview for diagnosis.
func (c *Client) Fetch(ctx context.Context) ([]byte, string, error) {
	var reqBody io.Reader
	if c.body != nil {
		reqBody = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.endpoint, reqBody)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview := body
		if len(preview) > maxBodyPreview {
			preview = preview[:maxBodyPreview]
		}
		return nil, "", fmt.Errorf("upstream status %d: %s", resp.StatusCode, preview)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// setHeaders applies the descriptive headers the SPA sends; without them the
// endpoint intermittently rejects requests.
func setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; V16Tracker/0.1)")
	req.Header.Set("Origin", "https://etraffic.dgt.es")
	req.Header.Set("Referer", "https://etraffic.dgt.es/etrafficWEB/")
}

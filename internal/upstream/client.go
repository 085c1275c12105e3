// Package upstream holds the client for the token-generation provider. The
// provider speaks a streaming HTTP API: one POST per question, answered with a
// newline-delimited `data: ` event stream.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/mogeko6347/rocket-search-gateway/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// maxErrorBodyBytes caps how much of a failed response is read for the error
// message.
const maxErrorBodyBytes = 2048

// Client issues streaming generation requests to the configured provider.
// The configuration is swappable at runtime for hot reload.
type Client struct {
	cfg        atomic.Pointer[config.Config]
	httpClient *http.Client
}

// NewClient builds a provider client. The HTTP client carries no timeout of
// its own; per-request deadlines come from the caller's context so that an
// in-flight stream is not cut off mid-answer by a transport-level timer.
func NewClient(cfg *config.Config) *Client {
	c := &Client{httpClient: &http.Client{}}
	c.cfg.Store(cfg)
	return c
}

// UpdateConfig swaps the active configuration. In-flight requests keep the
// snapshot they started with.
func (c *Client) UpdateConfig(cfg *config.Config) {
	c.cfg.Store(cfg)
}

// buildPayload assembles the provider request body. The instruction prefix is
// prepended server-side so clients cannot override it.
func (c *Client) buildPayload(cfg *config.Config, text string) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", cfg.Upstream.Model); err != nil {
		return nil, err
	}
	prompt := cfg.Upstream.PromptPrefix + text
	if body, err = sjson.SetBytes(body, "messages.0.role", "user"); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "messages.0.content", prompt); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "stream", true); err != nil {
		return nil, err
	}
	return body, nil
}

// Generate sends the question upstream and returns the raw event stream. The
// caller owns the returned reader and must close it; closing it is also how a
// canceled request releases the upstream connection.
func (c *Client) Generate(ctx context.Context, text string) (io.ReadCloser, error) {
	cfg := c.cfg.Load()
	payload, err := c.buildPayload(cfg, text)
	if err != nil {
		return nil, fmt.Errorf("upstream: build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Upstream.URL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if cfg.Upstream.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Upstream.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		log.WithField("status", resp.StatusCode).Errorf("upstream rejected request: %.200s", detail)
		return nil, fmt.Errorf("upstream: provider returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

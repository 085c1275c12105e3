// Package client is the consumer-side counterpart to the gateway: it holds
// the stored login credentials, calls the generation endpoint, decodes the
// event stream, and transparently refreshes an expired identity token with
// exactly one retry.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrLoginRequired signals that no usable credential remains; the user has to
// go through the interactive login again.
var ErrLoginRequired = errors.New("client: login required")

// QuotaError carries the gateway's quota-exceeded message verbatim. It is
// terminal for the day; retrying does not help.
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string { return e.Message }

// Fragment is one decoded unit of the answer stream. Err is set on the final
// fragment when the stream ended with an in-band error.
type Fragment struct {
	Text string
	Err  error
}

// Client calls the gateway on behalf of a logged-in user.
type Client struct {
	endpoint   string
	store      CredentialStore
	refresher  Refresher
	httpClient *http.Client
}

// New builds a gateway client.
func New(endpoint string, store CredentialStore, refresher Refresher) *Client {
	return &Client{
		endpoint:   endpoint,
		store:      store,
		refresher:  refresher,
		httpClient: &http.Client{},
	}
}

// Ask sends the question and returns a channel of answer fragments. The
// channel is closed when the stream completes.
//
// Failure handling on a non-2xx response: a 429 is returned verbatim as a
// QuotaError with no retry; anything else triggers one token refresh and one
// retry. A failure after the retry clears the stored identity token, keeps
// the refresh token, and returns ErrLoginRequired.
func (c *Client) Ask(ctx context.Context, text string) (<-chan Fragment, error) {
	creds, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if creds.RefreshToken == "" {
		// Nothing to refresh with; do not waste a network round-trip.
		return nil, ErrLoginRequired
	}

	if creds.IDToken != "" {
		resp, errPost := c.post(ctx, text, creds.IDToken)
		if errPost != nil {
			return nil, errPost
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return c.stream(ctx, resp.Body), nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, quotaError(resp)
		default:
			drain(resp)
		}
	}

	// The stored token is missing or was rejected: refresh and retry once.
	newToken, err := c.refresher.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return nil, c.loginRequired(ctx, creds, fmt.Errorf("token refresh failed: %w", err))
	}
	creds.IDToken = newToken
	if err = c.store.Save(ctx, creds); err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, text, creds.IDToken)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return c.stream(ctx, resp.Body), nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, quotaError(resp)
	default:
		drain(resp)
		return nil, c.loginRequired(ctx, creds, fmt.Errorf("gateway returned status %d after refresh", resp.StatusCode))
	}
}

// loginRequired clears the short-lived token so the next Ask goes straight to
// a refresh attempt, then surfaces ErrLoginRequired.
func (c *Client) loginRequired(ctx context.Context, creds *Credentials, cause error) error {
	creds.IDToken = ""
	if err := c.store.Save(ctx, creds); err != nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLoginRequired, cause)
}

func (c *Client) post(ctx context.Context, text, idToken string) (*http.Response, error) {
	payload, err := sjson.Set(`{}`, "text", text)
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+idToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: request failed: %w", err)
	}
	return resp, nil
}

// stream decodes the gateway's event protocol into fragments.
func (c *Client) stream(ctx context.Context, body io.ReadCloser) <-chan Fragment {
	out := make(chan Fragment, 64)
	go func() {
		defer close(out)
		defer func() { _ = body.Close() }()

		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := line[len("data: "):]
			if payload == "[DONE]" {
				return
			}
			parsed := gjson.Parse(payload)
			if errField := parsed.Get("error"); errField.Exists() {
				emit(ctx, out, Fragment{Err: fmt.Errorf("client: stream error: %s", errField.String())})
				return
			}
			if result := parsed.Get("result"); result.Exists() {
				if !emit(ctx, out, Fragment{Text: result.String()}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			emit(ctx, out, Fragment{Err: fmt.Errorf("client: read stream: %w", err)})
		}
	}()
	return out
}

func emit(ctx context.Context, out chan<- Fragment, f Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func quotaError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &QuotaError{Message: strings.TrimSpace(string(body))}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

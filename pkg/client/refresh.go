package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Refresher exchanges a long-lived refresh credential for a fresh short-lived
// identity token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (idToken string, err error)
}

// TokenRefresher talks to a securetoken-style refresh endpoint: a form-encoded
// grant_type=refresh_token POST answered with a JSON body carrying id_token.
type TokenRefresher struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewTokenRefresher builds a refresher for the given endpoint. apiKey is
// appended as the key query parameter when non-empty.
func NewTokenRefresher(endpoint, apiKey string) *TokenRefresher {
	return &TokenRefresher{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Refresh implements Refresher.
func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	endpoint := r.endpoint
	if r.apiKey != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "key=" + url.QueryEscape(r.apiKey)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("client: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("client: refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("client: read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("client: refresh endpoint returned status %d", resp.StatusCode)
	}
	idToken := gjson.GetBytes(body, "id_token").String()
	if idToken == "" {
		return "", fmt.Errorf("client: refresh response has no id_token")
	}
	return idToken, nil
}

package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mogeko6347/rocket-search-gateway/internal/config"
	"github.com/tidwall/gjson"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			URL:          url,
			APIToken:     "provider-token",
			Model:        "@cf/meta/llama-4-scout-17b-16e-instruct",
			PromptPrefix: "Answer briefly: ",
		},
	}
}

func TestGenerate_SendsExpectedRequest(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte("data: {\"response\":\"hi\"}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	stream, err := c.Generate(context.Background(), "what is Go?")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer func() { _ = stream.Close() }()

	raw, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("reading stream failed: %v", err)
	}
	if !strings.Contains(string(raw), "[DONE]") {
		t.Errorf("expected the raw stream to pass through untouched, got %q", raw)
	}

	if gotAuth != "Bearer provider-token" {
		t.Errorf("expected provider bearer token, got %q", gotAuth)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("expected event-stream accept header, got %q", gotAccept)
	}
	body := gjson.ParseBytes(gotBody)
	if got := body.Get("model").String(); got != "@cf/meta/llama-4-scout-17b-16e-instruct" {
		t.Errorf("unexpected model %q", got)
	}
	if got := body.Get("messages.0.role").String(); got != "user" {
		t.Errorf("unexpected role %q", got)
	}
	if got := body.Get("messages.0.content").String(); got != "Answer briefly: what is Go?" {
		t.Errorf("prompt prefix was not prepended, got %q", got)
	}
	if !body.Get("stream").Bool() {
		t.Error("stream flag must be set")
	}
}

func TestGenerate_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	if _, err := c.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestGenerate_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(testConfig(srv.URL))
	if _, err := c.Generate(ctx, "hello"); err == nil {
		t.Fatal("expected an error for a canceled context")
	}
}

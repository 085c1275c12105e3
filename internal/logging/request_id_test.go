package logging

import (
	"context"
	"encoding/hex"
	"testing"
)

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	if len(id) != 8 {
		t.Fatalf("expected an 8-character ID, got %q", id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Errorf("ID %q is not hex: %v", id, err)
	}
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "cafe0123")
	if got := RequestIDFromContext(ctx); got != "cafe0123" {
		t.Errorf("expected cafe0123, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("a bare context must yield no ID, got %q", got)
	}
}

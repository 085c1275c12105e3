package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// requestIDContextKey keys the request ID attached to a generation request's
// context so every log line produced while relaying its stream can be
// correlated.
type requestIDContextKey struct{}

// NewRequestID returns a short random hex identifier for one generation
// request. It is a log correlation handle, not a security token, so the
// degenerate fallback on a broken entropy source is acceptable.
func NewRequestID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "--------"
	}
	return hex.EncodeToString(b[:])
}

// ContextWithRequestID attaches a request ID to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the request ID carried by ctx, or the empty
// string when the request never received one.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

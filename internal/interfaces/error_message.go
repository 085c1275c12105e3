// Package interfaces defines small shared contracts used across the gateway,
// such as the HTTP-facing error envelope carried between components and handlers.
package interfaces

import "net/http"

// ErrorMessage encapsulates an error with an associated HTTP status code.
// Handlers use it to decide the response status before headers are committed;
// once a stream has started it is downgraded to a terminal SSE error event.
type ErrorMessage struct {
	// StatusCode is the HTTP status code to surface for the error.
	StatusCode int

	// Error is the underlying error that occurred.
	Error error

	// Addon contains additional headers to attach to the response.
	Addon http.Header
}

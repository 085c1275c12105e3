// Package relay converts an upstream token-generation byte stream into the
// gateway's normalized downstream event protocol. The upstream is assumed to
// emit newline-delimited `data: ` records carrying JSON payloads or the
// literal `[DONE]` sentinel; chunk boundaries are arbitrary and may split a
// record anywhere, including mid-rune of the framing.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/mogeko6347/rocket-search-gateway/internal/interfaces"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// dataPrefix is the SSE record framing expected from the upstream provider.
const dataPrefix = "data: "

// doneSentinel marks normal upstream completion.
const doneSentinel = "[DONE]"

// readChunkSize is the upstream read buffer size.
const readChunkSize = 4096

// Session is one relay invocation, scoped to a single request. It owns the
// upstream reader, the line-reassembly buffer, and the ended flag; nothing is
// shared across requests.
type Session struct {
	id       string
	upstream io.Reader
	buf      []byte
	ended    bool
}

// NewSession wraps an upstream byte stream in a relay session.
func NewSession(upstream io.Reader) *Session {
	return &Session{
		id:       uuid.NewString(),
		upstream: upstream,
	}
}

// ID returns the session identifier used in log correlation.
func (s *Session) ID() string { return s.id }

// Run pumps the upstream stream in a goroutine and returns the downstream
// channels: data carries one JSON payload (`{"result":"<unit>"}`) per emitted
// text unit and is closed on completion; errs delivers at most one terminal
// error. Completion without a terminal error means the `[DONE]` sentinel was
// seen or the upstream closed cleanly, which the relay treats the same way.
//
// The relay stops pulling as soon as ctx is canceled; the caller remains the
// owner of the upstream reader and must close it to release the connection.
func (s *Session) Run(ctx context.Context) (<-chan []byte, <-chan *interfaces.ErrorMessage) {
	out := make(chan []byte, 64)
	errs := make(chan *interfaces.ErrorMessage, 1)

	go func() {
		defer close(out)
		defer close(errs)
		s.pump(ctx, out, errs)
	}()

	return out, errs
}

// pump is the Reading state loop: pull a chunk, reassemble lines, process each
// complete line, retain the trailing partial line for the next read.
func (s *Session) pump(ctx context.Context, out chan<- []byte, errs chan<- *interfaces.ErrorMessage) {
	chunk := make([]byte, readChunkSize)
	for {
		if s.contextFinished(ctx, errs) {
			return
		}
		n, errRead := s.upstream.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
			if !s.drainCompleteLines(ctx, out, errs) {
				return
			}
		}
		if errRead != nil {
			if errRead == io.EOF {
				// Implicit closure counts as completion: flush whatever is
				// buffered, then finish as if [DONE] had been seen.
				s.flushTail(ctx, out, errs)
				return
			}
			if s.contextFinished(ctx, errs) {
				return
			}
			log.WithField("session", s.id).Errorf("upstream read failed: %v", errRead)
			s.fail(errs, http.StatusBadGateway, fmt.Errorf("relay: upstream read: %w", errRead))
			return
		}
	}
}

// contextFinished reports whether the session context is done. The cause
// matters: a client disconnect ends the session silently, while an expired
// upstream deadline is a failure the client must see as a terminal error
// event, never as the success sentinel.
func (s *Session) contextFinished(ctx context.Context, errs chan<- *interfaces.ErrorMessage) bool {
	err := ctx.Err()
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.WithField("session", s.id).Error("upstream stream timed out")
		s.fail(errs, http.StatusGatewayTimeout, fmt.Errorf("relay: upstream timed out: %w", err))
	}
	return true
}

// drainCompleteLines processes every complete line in the buffer. It reports
// false when the session reached a terminal state.
func (s *Session) drainCompleteLines(ctx context.Context, out chan<- []byte, errs chan<- *interfaces.ErrorMessage) bool {
	for {
		idx := bytes.IndexByte(s.buf, '\n')
		if idx < 0 {
			return true
		}
		line := s.buf[:idx]
		s.buf = s.buf[idx+1:]
		if !s.processLine(ctx, line, out, errs) {
			return false
		}
	}
}

// flushTail handles end-of-stream: the buffer may still hold a final record
// that was never newline-terminated.
func (s *Session) flushTail(ctx context.Context, out chan<- []byte, errs chan<- *interfaces.ErrorMessage) {
	if s.ended {
		return
	}
	if len(s.buf) > 0 {
		line := s.buf
		s.buf = nil
		if !s.processLine(ctx, line, out, errs) {
			return
		}
	}
	s.ended = true
}

// processLine handles one complete upstream record. It reports false when the
// session transitioned to a terminal state.
func (s *Session) processLine(ctx context.Context, line []byte, out chan<- []byte, errs chan<- *interfaces.ErrorMessage) bool {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 || !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return true
	}
	payload := line[len(dataPrefix):]

	if string(payload) == doneSentinel {
		s.ended = true
		return false
	}

	if !gjson.ValidBytes(payload) {
		// One malformed record must not abort the session.
		log.WithField("session", s.id).Warnf("skipping malformed upstream payload: %.120s", payload)
		return true
	}
	parsed := gjson.ParseBytes(payload)

	if errField := parsed.Get("error"); errField.Exists() {
		s.fail(errs, http.StatusBadGateway, fmt.Errorf("relay: upstream error: %s", errField.String()))
		return false
	}

	fragment := parsed.Get("response").String()
	// Re-chunk one character at a time so the downstream typing cadence does
	// not depend on the provider's chunk granularity.
	for _, r := range fragment {
		event, err := sjson.SetBytes([]byte(`{}`), "result", string(r))
		if err != nil {
			log.WithField("session", s.id).Warnf("failed to encode result event: %v", err)
			continue
		}
		select {
		case out <- event:
		case <-ctx.Done():
			s.contextFinished(ctx, errs)
			return false
		}
	}
	return true
}

// fail transitions the session to the Failed state and queues the terminal
// error event. The error channel holds one slot and a session fails at most
// once, so the send never blocks.
func (s *Session) fail(errs chan<- *interfaces.ErrorMessage, status int, err error) {
	s.ended = true
	select {
	case errs <- &interfaces.ErrorMessage{StatusCode: status, Error: err}:
	default:
	}
}

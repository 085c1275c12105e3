package relay

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mogeko6347/rocket-search-gateway/internal/interfaces"
	"github.com/tidwall/gjson"
)

// chunkedReader yields its input in fixed-size pieces so tests can force
// record boundaries to land mid-line.
type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// collect drains a session's channels and returns the decoded result units
// and the terminal error, if any.
func collect(t *testing.T, out <-chan []byte, errs <-chan *interfaces.ErrorMessage) ([]string, *interfaces.ErrorMessage) {
	t.Helper()
	var units []string
	var failure *interfaces.ErrorMessage
	timeout := time.After(5 * time.Second)
	for out != nil || errs != nil {
		select {
		case event, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			result := gjson.GetBytes(event, "result")
			if !result.Exists() {
				t.Errorf("event %s has no result field", event)
				continue
			}
			units = append(units, result.String())
		case msg, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			failure = msg
		case <-timeout:
			t.Fatal("relay session did not finish")
		}
	}
	return units, failure
}

func runOn(t *testing.T, input string, chunkSize int) ([]string, *interfaces.ErrorMessage) {
	t.Helper()
	s := NewSession(&chunkedReader{data: []byte(input), size: chunkSize})
	out, errs := s.Run(context.Background())
	return collect(t, out, errs)
}

func TestRun_ReemitsOneCharacterPerEvent(t *testing.T) {
	input := "data: {\"response\":\"Hi!\"}\n\ndata: [DONE]\n\n"
	units, failure := runOn(t, input, len(input))
	if failure != nil {
		t.Fatalf("unexpected terminal error: %v", failure.Error)
	}
	want := []string{"H", "i", "!"}
	if len(units) != len(want) {
		t.Fatalf("expected %d events, got %d (%q)", len(want), len(units), units)
	}
	for i, u := range units {
		if u != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], u)
		}
	}
}

func TestRun_ReassemblesRecordsAcrossChunkBoundaries(t *testing.T) {
	input := "data: {\"response\":\"ab\"}\n\ndata: {\"response\":\"cd\"}\n\ndata: [DONE]\n\n"
	for _, chunkSize := range []int{1, 3, 7, len(input)} {
		units, failure := runOn(t, input, chunkSize)
		if failure != nil {
			t.Fatalf("chunk size %d: unexpected error: %v", chunkSize, failure.Error)
		}
		if got := strings.Join(units, ""); got != "abcd" {
			t.Errorf("chunk size %d: expected abcd, got %q", chunkSize, got)
		}
	}
}

func TestRun_MultiByteRunesStayIntact(t *testing.T) {
	input := "data: {\"response\":\"héllo 世界\"}\n\ndata: [DONE]\n\n"
	// One-byte chunks split the UTF-8 sequences inside the transport framing.
	units, failure := runOn(t, input, 1)
	if failure != nil {
		t.Fatalf("unexpected error: %v", failure.Error)
	}
	want := []string{"h", "é", "l", "l", "o", " ", "世", "界"}
	if len(units) != len(want) {
		t.Fatalf("expected %d events, got %d (%q)", len(want), len(units), units)
	}
	for i, u := range units {
		if u != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], u)
		}
	}
}

func TestRun_UpstreamErrorBecomesTerminalEvent(t *testing.T) {
	input := "data: {\"response\":\"a\"}\n\ndata: {\"error\":\"model overloaded\"}\n\ndata: {\"response\":\"never\"}\n\n"
	units, failure := runOn(t, input, len(input))
	if failure == nil {
		t.Fatal("expected a terminal error event")
	}
	if !strings.Contains(failure.Error.Error(), "model overloaded") {
		t.Errorf("terminal error should carry the upstream message, got %v", failure.Error)
	}
	// Everything before the error still went out; nothing after it did.
	if got := strings.Join(units, ""); got != "a" {
		t.Errorf("expected only pre-error output, got %q", got)
	}
}

func TestRun_MalformedRecordIsSkipped(t *testing.T) {
	input := "data: {not json\ndata: {\"response\":\"ok\"}\n\ndata: [DONE]\n\n"
	units, failure := runOn(t, input, len(input))
	if failure != nil {
		t.Fatalf("malformed record should not abort the session: %v", failure.Error)
	}
	if got := strings.Join(units, ""); got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
}

func TestRun_IgnoresNonDataLines(t *testing.T) {
	input := ": keep-alive comment\nevent: message\ndata: {\"response\":\"x\"}\n\ndata: [DONE]\n\n"
	units, failure := runOn(t, input, len(input))
	if failure != nil {
		t.Fatalf("unexpected error: %v", failure.Error)
	}
	if got := strings.Join(units, ""); got != "x" {
		t.Errorf("expected x, got %q", got)
	}
}

func TestRun_EOFWithoutSentinelCompletesCleanly(t *testing.T) {
	input := "data: {\"response\":\"end\"}\n"
	units, failure := runOn(t, input, len(input))
	if failure != nil {
		t.Fatalf("EOF without sentinel must complete cleanly, got %v", failure.Error)
	}
	if got := strings.Join(units, ""); got != "end" {
		t.Errorf("expected end, got %q", got)
	}
}

func TestRun_FlushesUnterminatedTailOnEOF(t *testing.T) {
	// Final record is missing its trailing newline entirely.
	input := "data: {\"response\":\"tail\"}"
	units, failure := runOn(t, input, len(input))
	if failure != nil {
		t.Fatalf("unexpected error: %v", failure.Error)
	}
	if got := strings.Join(units, ""); got != "tail" {
		t.Errorf("expected tail, got %q", got)
	}
}

// blockedReader hangs until its context finishes, mimicking an upstream that
// stops producing mid-stream.
type blockedReader struct {
	ctx context.Context
}

func (r *blockedReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func TestRun_DeadlineExpiryBecomesTerminalEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := NewSession(&blockedReader{ctx: ctx})
	out, errs := s.Run(ctx)

	_, failure := collect(t, out, errs)
	if failure == nil {
		t.Fatal("an expired deadline must surface a terminal error, not silent completion")
	}
	if failure.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("expected status %d, got %d", http.StatusGatewayTimeout, failure.StatusCode)
	}
	if !strings.Contains(failure.Error.Error(), "timed out") {
		t.Errorf("terminal error should name the timeout, got %v", failure.Error)
	}
}

func TestRun_CancellationStopsTheSession(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(pr)
	out, errs := s.Run(ctx)

	if _, err := pw.Write([]byte("data: {\"response\":\"a\"}\n\n")); err != nil {
		t.Fatalf("pipe write failed: %v", err)
	}
	select {
	case <-out:
	case <-time.After(5 * time.Second):
		t.Fatal("expected an event before cancellation")
	}

	cancel()
	// The caller owns the reader and tears it down on cancellation.
	_ = pr.CloseWithError(context.Canceled)

	units, failure := collect(t, out, errs)
	if failure != nil {
		t.Errorf("cancellation must not surface a terminal error, got %v", failure.Error)
	}
	_ = units
}

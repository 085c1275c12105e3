package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mogeko6347/rocket-search-gateway/internal/auth"
	"github.com/mogeko6347/rocket-search-gateway/internal/config"
	"github.com/mogeko6347/rocket-search-gateway/internal/interfaces"
	"github.com/mogeko6347/rocket-search-gateway/internal/logging"
	"github.com/mogeko6347/rocket-search-gateway/internal/ratelimit"
	"github.com/mogeko6347/rocket-search-gateway/internal/relay"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// Generator produces the raw upstream event stream for one question.
type Generator interface {
	Generate(ctx context.Context, text string) (io.ReadCloser, error)
}

// GatewayHandler serves the generation endpoint: authenticate, meter, relay.
// The configuration is swappable at runtime for hot reload.
type GatewayHandler struct {
	cfg      atomic.Pointer[config.Config]
	verifier auth.Verifier
	limiter  *ratelimit.Limiter
	provider Generator
}

// NewGatewayHandler wires the gateway pipeline.
func NewGatewayHandler(cfg *config.Config, verifier auth.Verifier, limiter *ratelimit.Limiter, provider Generator) *GatewayHandler {
	h := &GatewayHandler{
		verifier: verifier,
		limiter:  limiter,
		provider: provider,
	}
	h.cfg.Store(cfg)
	return h
}

// UpdateConfig swaps the active configuration. In-flight requests keep the
// snapshot they started with.
func (h *GatewayHandler) UpdateConfig(cfg *config.Config) {
	h.cfg.Store(cfg)
}

type askRequest struct {
	Text string `json:"text"`
}

// Ask handles POST /. The order of the guards matters: a request that fails
// authentication or validation must not consume quota.
func (h *GatewayHandler) Ask(c *gin.Context) {
	cfg := h.cfg.Load()
	ctx := c.Request.Context()
	if timeout := cfg.UpstreamTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		writeJSONError(c, http.StatusUnauthorized, "authorization header is missing")
		return
	}
	uid, err := h.verifier.Verify(ctx, token)
	if err != nil {
		if !auth.IsUnauthenticated(err) {
			log.Errorf("token verification failed: %v", err)
			writeJSONError(c, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSONError(c, http.StatusUnauthorized, "invalid or expired credential")
		return
	}

	var req askRequest
	if err = c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.String(http.StatusBadRequest, "Text is required")
		return
	}

	allowed, err := h.limiter.CheckAndIncrement(ctx, uid)
	if err != nil {
		log.WithField("uid", uid).Errorf("quota check failed: %v", err)
		writeJSONError(c, http.StatusInternalServerError, "internal error")
		return
	}
	if !allowed {
		limit := h.limiter.Limit()
		c.String(http.StatusTooManyRequests,
			fmt.Sprintf("Request limit exceeded. You can make up to %d requests per day.\n\nPlease wait a while and try again.", limit))
		return
	}

	stream, err := h.provider.Generate(ctx, req.Text)
	if err != nil {
		log.WithFields(log.Fields{"uid": uid}).Errorf("upstream request failed: %v", err)
		writeJSONError(c, http.StatusInternalServerError, "upstream request failed")
		return
	}
	defer func() { _ = stream.Close() }()

	session := relay.NewSession(stream)
	log.WithFields(log.Fields{
		"uid":        uid,
		"session":    session.ID(),
		"request_id": logging.RequestIDFromContext(ctx),
	}).Debug("stream session started")
	data, errs := session.Run(ctx)
	h.forward(c, data, errs)
}

// forward drains the relay channels into the response as server-sent events.
// Headers are committed before the first select, so any failure past this
// point is reported in-band as an error event.
func (h *GatewayHandler) forward(c *gin.Context, data <-chan []byte, errs <-chan *interfaces.ErrorMessage) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	// Disables proxy-side response buffering, which would defeat streaming.
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		log.Error("response writer does not support flushing")
		return
	}
	flusher.Flush()

	var keepAliveC <-chan time.Time
	if interval := h.cfg.Load().KeepAliveInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		keepAliveC = ticker.C
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case chunk, chOpen := <-data:
			if !chOpen {
				// Prefer surfacing a pending terminal error over the done marker.
				select {
				case errMsg, errOpen := <-errs:
					if errOpen && errMsg != nil {
						writeErrorEvent(c, errMsg)
						flusher.Flush()
						return
					}
				default:
				}
				_, _ = c.Writer.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				return
			}
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(chunk)
			_, _ = c.Writer.Write([]byte("\n\n"))
			flusher.Flush()
		case errMsg, chOpen := <-errs:
			if !chOpen {
				errs = nil
				continue
			}
			if errMsg != nil {
				writeErrorEvent(c, errMsg)
				flusher.Flush()
				return
			}
		case <-keepAliveC:
			_, _ = c.Writer.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		}
	}
}

// writeErrorEvent emits an in-band terminal error in the downstream protocol.
func writeErrorEvent(c *gin.Context, errMsg *interfaces.ErrorMessage) {
	message := "stream failed"
	if errMsg.Error != nil {
		message = errMsg.Error.Error()
	}
	payload, err := sjson.SetBytes([]byte(`{}`), "error", message)
	if err != nil {
		log.Errorf("failed to encode error event: %v", err)
		return
	}
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
}

// writeJSONError sends a pre-stream failure as a JSON error body.
func writeJSONError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

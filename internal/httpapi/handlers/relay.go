package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/assistant-relay/internal/common"
	"github.com/suPer8Hu/assistant-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/assistant-relay/internal/metrics"
	"github.com/suPer8Hu/assistant-relay/internal/relay"
)

const streamChunk = 32 * 1024

// AssistantRelay streams an assistant run for the caller's active assistant.
func (h *Handler) AssistantRelay(c *gin.Context) {
	st, err := h.Relay.Open(c.Request.Context(), relay.Call{
		RequestID:     middleware.RequestIDFrom(c),
		Authorization: c.GetHeader("Authorization"),
		Body:          c.Request.Body,
	})
	if err != nil {
		writeRelayError(c, err)
		return
	}
	defer st.Body.Close()

	c.Header("X-Thread-Id", st.ThreadID)
	h.pipe(c, st.Body)
}

// ChatRelay streams a plain chat completion.
func (h *Handler) ChatRelay(c *gin.Context) {
	body, err := h.Completions.Open(c.Request.Context(), relay.Call{
		RequestID:     middleware.RequestIDFrom(c),
		Authorization: c.GetHeader("Authorization"),
		Body:          c.Request.Body,
	})
	if err != nil {
		writeRelayError(c, err)
		return
	}
	defer body.Close()

	h.pipe(c, body)
}

func writeRelayError(c *gin.Context, err error) {
	e := relay.AsError(err)
	common.Fail(c, e.Kind.Status(), e.Kind.Code(), e.Message)
}

// pipe copies the upstream stream as it arrives, flushing after every chunk.
func (h *Handler) pipe(c *gin.Context, body io.Reader) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	buf := make([]byte, streamChunk)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				h.Log.Debug().Err(werr).Str("request_id", middleware.RequestIDFrom(c)).Msg("client went away")
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.Request.Context().Err() == nil {
				h.Log.Warn().Err(err).Str("request_id", middleware.RequestIDFrom(c)).Msg("upstream stream interrupted")
			}
			return
		}
	}
}

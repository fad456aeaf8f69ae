package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devhub-community/reputation-engine/internal/presence"
)

// Stream opens a Server-Sent Events stream for the user named by UserIDHeader.
// A newer stream for the same user replaces this one.
// GET /api/v1/stream.
func (h *Handler) Stream(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
	if userID == "" {
		h.errorResponse(c, http.StatusUnauthorized, UserIDHeader+" header is required")
		return
	}

	ch := presence.NewChannel(userID, h.stream.Buffer)
	if prev := h.registry.Register(ch); prev != nil {
		prev.Close()
	}
	defer func() {
		h.registry.Unregister(ch)
		ch.Close()
		h.log.Debug().Str("user_id", userID).Str("connection_id", ch.ID()).Msg("Live connection closed")
	}()

	h.log.Debug().Str("user_id", userID).Str("connection_id", ch.ID()).Msg("Live connection opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("connected", gin.H{"connection_id": ch.ID()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.stream.Heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ch.Done():
			return false
		case ev := <-ch.Events():
			c.SSEvent(ev.EventName(), ev)
			return true
		case t := <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": t.UTC()})
			return true
		}
	})
}

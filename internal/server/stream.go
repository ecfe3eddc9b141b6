package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/spacestate/statusd/internal/actions"
)

const (
	streamFormatNewline = "newline"
	streamFormatSSE     = "sse"
)

// handleStream serves GET /api/v0/{type}/stream. On connect the most recent
// matching action is replayed, then live actions follow in append order.
// Missed actions are not backfilled beyond that single replay; a stalled
// subscriber loses its oldest queued actions (broker policy).
//
// Public callers may only stream status, and only see actions on
// public-visible transitions, redacted.
func (h *httpHandler) handleStream(c *gin.Context) {
	sel, err := actions.ParseSelector(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	format := c.DefaultQuery("format", streamFormatNewline)
	if format != streamFormatNewline && format != streamFormatSSE {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad parameter: format"})
		return
	}

	authenticated := isAuthenticated(c)
	if !authenticated && sel != actions.Selector(actions.TypeStatus) {
		c.Header("WWW-Authenticate", "Basic")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	stream, cancelSub := h.actions.Subscribe(ctx, sel)
	defer cancelSub()

	writer := newStreamWriter(c, format)

	// replay the last known matching action before going live
	var lastPublicStatus actions.Status
	if authenticated {
		if last, ok, err := h.actions.LastMatching(sel); err != nil {
			h.writeActionError(c, err)
			return
		} else if ok {
			if !writer.write(last) {
				return
			}
		}
	} else {
		changed, ok := h.actions.PublicChangedStatus()
		if ok {
			lastPublicStatus = actions.PublicStatus(changed.Status)
			redacted, _ := actions.Redact(changed)
			if !writer.write(redacted) {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-stream:
			if !ok {
				return
			}
			if !authenticated {
				if a.Type != actions.TypeStatus {
					continue
				}
				mapped := actions.PublicStatus(a.Status)
				if mapped == lastPublicStatus {
					continue
				}
				lastPublicStatus = mapped
				redacted, redactOK := actions.Redact(a)
				if !redactOK {
					continue
				}
				a = redacted
			}
			if !writer.write(a) {
				return
			}
		}
	}
}

// streamWriter frames actions as newline-delimited JSON or SSE events and
// flushes after each one.
type streamWriter struct {
	c      *gin.Context
	format string
}

func newStreamWriter(c *gin.Context, format string) *streamWriter {
	if format == streamFormatSSE {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
	} else {
		c.Header("Content-Type", "application/json")
	}
	return &streamWriter{c: c, format: format}
}

// write frames one action; false means the connection is gone.
func (w *streamWriter) write(a actions.Action) bool {
	var err error
	switch w.format {
	case streamFormatSSE:
		err = sse.Encode(w.c.Writer, sse.Event{
			Event: string(a.Type),
			Data:  a,
		})
	default:
		err = json.NewEncoder(w.c.Writer).Encode(a)
	}
	if err != nil {
		return false
	}
	w.c.Writer.Flush()
	return true
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/response"
)

// Notifications streams events for ?session_id=, or for every session when
// it is omitted.
func (h *Handler) Notifications(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, http.StatusServiceUnavailable, "notifications are disabled")
		return
	}
	sessionID := c.Query("session_id")
	if err := h.hub.ServeWS(c.Writer, c.Request, sessionID); err != nil {
		// The upgrader has already answered the request.
		h.log.Debug("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

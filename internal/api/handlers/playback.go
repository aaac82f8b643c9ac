package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/response"
)

// StartPlayback replays the session's last recording and answers when the
// run finishes or is stopped. Progress is pushed over the websocket.
func (h *Handler) StartPlayback(c *gin.Context) {
	res, err := h.sessions.Play(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	msg := "playback completed"
	if !res.Completed {
		msg = "playback stopped"
	}
	response.SuccessWithMessage(c, msg, res)
}

func (h *Handler) StopPlayback(c *gin.Context) {
	stopped, err := h.sessions.StopPlayback(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"stopped": stopped})
}

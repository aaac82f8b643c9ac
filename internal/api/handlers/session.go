package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/chrome"
	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/response"
)

func (h *Handler) StartSession(c *gin.Context) {
	var req struct {
		URL       string `json:"url" binding:"required"`
		SessionID string `json:"session_id" binding:"max=64"`
		Device    string `json:"device"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	info, err := h.sessions.Start(c.Request.Context(), req.URL, req.SessionID, req.Device)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, "session started", info)
}

func (h *Handler) GetSessions(c *gin.Context) {
	response.Success(c, h.sessions.List())
}

func (h *Handler) GetSession(c *gin.Context) {
	info, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, info)
}

func (h *Handler) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Close(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "session closed", gin.H{"session_id": id})
}

// GetDevices lists the emulation presets accepted as a session device.
func (h *Handler) GetDevices(c *gin.Context) {
	response.Success(c, chrome.DeviceNames())
}

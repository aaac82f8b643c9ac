package handlers

import (
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/response"
)

const maxTraceSize = 64 << 20

func (h *Handler) StartRecording(c *gin.Context) {
	var req struct {
		Source     string `json:"source"`
		ScriptText string `json:"script_text"`
		TracePath  string `json:"trace_path"`
		Name       string `json:"name" binding:"max=200"`
	}
	// An empty body selects the manual source.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	src, err := models.ParseSource(req.Source)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cfg := models.SourceConfig{Source: src, ScriptText: req.ScriptText, TracePath: req.TracePath}
	info, err := h.sessions.StartRecording(c.Request.Context(), c.Param("id"), cfg, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "recording started", info)
}

func (h *Handler) StopRecording(c *gin.Context) {
	res, err := h.sessions.StopRecording(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "recording stopped", res)
}

// RecordEvent accepts one raw event captured outside the server, for
// example by a browser extension.
func (h *Handler) RecordEvent(c *gin.Context) {
	var ev models.RawEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	step, err := h.sessions.RecordStep(c.Param("id"), ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	if step == nil {
		response.SuccessWithMessage(c, "edit committed", nil)
		return
	}
	response.Success(c, step)
}

// PerformAction drives the session browser. During an automation recording
// the action is captured as a step.
func (h *Handler) PerformAction(c *gin.Context) {
	var ev models.RawEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	step, err := h.sessions.PerformAction(c.Request.Context(), c.Param("id"), ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, step)
}

// ImportTrace records an uploaded trace archive (multipart field "file").
func (h *Handler) ImportTrace(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "trace file is required")
		return
	}
	if fh.Size > maxTraceSize {
		response.BadRequest(c, fmt.Sprintf("trace file exceeds %d bytes", maxTraceSize))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxTraceSize))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := h.sessions.ImportTrace(c.Request.Context(), c.Param("id"), data, c.PostForm("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "trace imported", res)
}

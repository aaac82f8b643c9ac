package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/capture"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/steps"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/synth"
	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/response"
)

// ParseScript turns generated automation script text into steps.
func (h *Handler) ParseScript(c *gin.Context) {
	var req struct {
		ScriptText string `json:"script_text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	list, errs := steps.Build(capture.ParseScript(req.ScriptText), models.SourceGeneratedScript, steps.NewNormalizer())
	if list == nil {
		list = []models.Step{}
	}
	skipped := make([]string, len(errs))
	for i, err := range errs {
		skipped[i] = err.Error()
	}
	response.Success(c, gin.H{"steps": list, "skipped": skipped})
}

// Synthesize renders a script from steps, or a suite runner when scripts
// is given.
func (h *Handler) Synthesize(c *gin.Context) {
	var req struct {
		Name    string         `json:"name"`
		Steps   []models.Step  `json:"steps"`
		Scripts []synth.Script `json:"scripts"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Name == "" {
		req.Name = "recording"
	}

	if len(req.Scripts) > 0 {
		response.Success(c, gin.H{"name": req.Name, "script": synth.SynthesizeSuite(req.Name, req.Scripts)})
		return
	}
	response.Success(c, gin.H{"name": req.Name, "script": synth.Synthesize(req.Steps, req.Name)})
}

// Package handlers exposes the session manager, the stateless script tools
// and the notification hub over HTTP.
package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/capture"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/notify"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/session"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/steps"
	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/response"
)

type Handler struct {
	sessions *session.Manager
	hub      *notify.Hub
	log      *zap.Logger
}

func New(sessions *session.Manager, hub *notify.Hub, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{sessions: sessions, hub: hub, log: log.Named("api")}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	data := gin.H{
		"status":    "healthy",
		"sessions":  len(h.sessions.List()),
		"timestamp": time.Now().Unix(),
	}
	if h.hub != nil {
		data["subscribers"] = h.hub.Subscribers()
	}
	response.Success(c, data)
}

// fail writes err with the status of its place in the error taxonomy.
func (h *Handler) fail(c *gin.Context, err error) {
	var engineErr *browser.EngineError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, session.ErrInvalidState):
		response.Conflict(c, err.Error())
	case errors.Is(err, session.ErrSessionStart):
		response.BadGateway(c, err.Error())
	case errors.Is(err, steps.ErrMalformedStep):
		response.BadRequest(c, err.Error())
	case errors.Is(err, capture.ErrCaptureSource), errors.As(err, &engineErr):
		response.UnprocessableEntity(c, err.Error())
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalServerError(c, err.Error())
	}
	_ = c.Error(err)
}

package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/api/handlers"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/api/middleware"
)

func SetupRoutes(h *handlers.Handler, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger(log.Named("http")))
	router.Use(middleware.CORSMiddleware())
	router.Use(gin.Recovery())

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.HealthCheck)
		v1.GET("/devices", h.GetDevices)

		// Real-time notifications
		v1.GET("/ws", h.Notifications)

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.StartSession)
			sessions.GET("", h.GetSessions)
			sessions.GET("/:id", h.GetSession)
			sessions.DELETE("/:id", h.CloseSession)

			sessions.POST("/:id/recording/start", h.StartRecording)
			sessions.POST("/:id/recording/stop", h.StopRecording)
			sessions.POST("/:id/events", h.RecordEvent)
			sessions.POST("/:id/actions", h.PerformAction)
			sessions.POST("/:id/trace", h.ImportTrace)

			sessions.POST("/:id/playback/start", h.StartPlayback)
			sessions.POST("/:id/playback/stop", h.StopPlayback)
		}

		// Stateless script tools
		scripts := v1.Group("/scripts")
		{
			scripts.POST("/parse", h.ParseScript)
			scripts.POST("/synthesize", h.Synthesize)
		}
	}

	return router
}

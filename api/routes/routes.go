package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/prp-orchestrator/api/handlers"
	"github.com/feichai0017/prp-orchestrator/api/middleware"
)

// SetupRoutes registers the status API.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", h.Status.Health)
		v1.GET("/status", h.Status.GetStatus)
		v1.GET("/queue", h.Status.GetQueue)
		v1.GET("/quarantine", h.Status.GetQuarantine)
	}
}

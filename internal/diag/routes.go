package diag

import (
	"github.com/gin-gonic/gin"

	"github.com/hydraworks/netmgr/internal/diag/handlers"
	"github.com/hydraworks/netmgr/internal/diag/middleware"
)

func registerRoutes(r *gin.Engine, h *handlers.Handler, apiKey string) {
	r.GET("/healthz", h.Health)

	stats := r.Group("/")
	if apiKey != "" {
		stats.Use(middleware.RequireAPIKey(apiKey))
	}
	stats.GET("/stats", h.Stats)
	stats.GET("/connections", h.Connections)
}

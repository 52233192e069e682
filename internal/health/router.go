package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupHealthRoutes registers the probes at the engine root. metricsHandler
// may be nil.
func SetupHealthRoutes(engine *gin.Engine, controller *Controller, metricsHandler http.Handler) {
	health := engine.Group("/health")
	{
		health.GET("/live", controller.Live)     // GET /health/live
		health.GET("/ready", controller.Ready)   // GET /health/ready
		health.GET("/alerts", controller.Alerts) // GET /health/alerts
	}
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler)) // GET /metrics
	}
}

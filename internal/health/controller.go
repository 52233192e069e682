package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

func (c *Controller) Live(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"service":   "boxoffice",
	})
}

func (c *Controller) Ready(ctx *gin.Context) {
	readiness := c.service.Ready(ctx.Request.Context())
	code := http.StatusOK
	if !readiness.Ready {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, readiness)
}

func (c *Controller) Alerts(ctx *gin.Context) {
	alerts := c.service.Alerts()
	ctx.JSON(http.StatusOK, gin.H{
		"firing": len(alerts) > 0,
		"alerts": alerts,
	})
}

package events

import (
	"github.com/gin-gonic/gin"
)

func SetupEventRoutes(rg *gin.RouterGroup, controller *Controller) {
	events := rg.Group("/events")
	{
		events.GET("/:id", controller.GetEvent) // GET /api/v1/events/:id
	}
}

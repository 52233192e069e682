package seats

import (
	"github.com/gin-gonic/gin"
)

// SetupSeatRoutes registers the public seat map and the admin seat routes.
// auth guards the admin group.
func SetupSeatRoutes(rg *gin.RouterGroup, controller *Controller, auth ...gin.HandlerFunc) {
	events := rg.Group("/events")
	{
		events.GET("/:id/seats", controller.GetSeatMap) // GET /api/v1/events/:id/seats
	}

	adminSeats := rg.Group("/admin/seats")
	adminSeats.Use(auth...)
	{
		adminSeats.PATCH("/:id/status", controller.UpdateSeatStatus) // PATCH /api/v1/admin/seats/:id/status
	}
}

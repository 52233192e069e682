package reservations

import (
	"github.com/gin-gonic/gin"
)

// SetupReservationRoutes registers the reservation routes behind the given
// auth chain. create adds handlers that only guard POST (role, rate limit).
func SetupReservationRoutes(rg *gin.RouterGroup, controller *Controller, auth []gin.HandlerFunc, create ...gin.HandlerFunc) {
	reservations := rg.Group("/reservations")
	reservations.Use(auth...)
	{
		reservations.POST("", append(create, controller.CreateReservation)...) // POST /api/v1/reservations
		reservations.GET("/:id", controller.GetReservation)                    // GET /api/v1/reservations/:id
	}
}

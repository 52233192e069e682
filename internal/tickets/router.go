package tickets

import (
	"github.com/gin-gonic/gin"
)

// SetupTicketRoutes registers the user's ticket listing behind auth and the
// manual finalize endpoint behind admin.
func SetupTicketRoutes(rg *gin.RouterGroup, controller *Controller, auth []gin.HandlerFunc, admin ...gin.HandlerFunc) {
	me := rg.Group("/me")
	me.Use(auth...)
	{
		me.GET("/tickets", controller.ListMyTickets) // GET /api/v1/me/tickets
	}

	finalize := rg.Group("/payments")
	finalize.Use(auth...)
	finalize.Use(admin...)
	{
		finalize.POST("/:id/finalize", controller.FinalizePayment) // POST /api/v1/payments/:id/finalize
	}
}

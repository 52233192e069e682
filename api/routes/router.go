// api/routes/router.go
package routes

import (
	"net/http"
	"time"

	"boxoffice/internal/app"
	"boxoffice/internal/events"
	"boxoffice/internal/health"
	"boxoffice/internal/payments"
	"boxoffice/internal/realtime"
	"boxoffice/internal/reservations"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/middleware"
	"boxoffice/internal/tickets"

	"github.com/gin-gonic/gin"
)

// Router holds all route dependencies
type Router struct {
	app            *app.App
	workersRunning bool
}

// NewRouter creates a new router instance
func NewRouter(a *app.App, workersRunning bool) *Router {
	return &Router{app: a, workersRunning: workersRunning}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	r.setupHealthRoutes(engine)

	cfg := r.app.Config
	jwt := middleware.JWTAuthWithConfig(cfg)
	auth := []gin.HandlerFunc{jwt}
	userOnly := middleware.RequireRoles(middleware.RoleUser, middleware.RoleAdmin)
	adminOnly := middleware.RequireAdmin()

	api := engine.Group(cfg.GetAPIBasePath())
	{
		events.SetupEventRoutes(api, events.NewController(r.app.Events))
		seats.SetupSeatRoutes(api, seats.NewController(r.app.Seats), jwt, adminOnly)
		realtime.SetupStreamRoutes(api, realtime.NewStreamController(r.app.Realtime, 15*time.Second, r.app.Log))

		reservations.SetupReservationRoutes(api, reservations.NewController(r.app.Reservations), auth, userOnly)
		payments.SetupPaymentRoutes(api, payments.NewController(r.app.Payments), auth)
		tickets.SetupTicketRoutes(api, tickets.NewController(r.app.Tickets), auth, adminOnly)
	}
}

// setupHealthRoutes sets up probes, alerts and metrics at the engine root
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	controller := health.NewController(r.app.Health(r.workersRunning))
	health.SetupHealthRoutes(engine, controller, r.app.Metrics.Handler())

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.app.Config.APIVersion,
		})
	})
}

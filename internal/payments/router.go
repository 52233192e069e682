package payments

import (
	"github.com/gin-gonic/gin"
)

// SetupPaymentRoutes registers payment creation behind auth and the provider
// webhook behind webhook (signature is checked by the service).
func SetupPaymentRoutes(rg *gin.RouterGroup, controller *Controller, auth []gin.HandlerFunc, webhook ...gin.HandlerFunc) {
	payments := rg.Group("/payments")
	{
		payments.POST("", append(auth, controller.CreatePayment)...)                        // POST /api/v1/payments
		payments.POST("/webhooks/:provider", append(webhook, controller.ProcessWebhook)...) // POST /api/v1/payments/webhooks/:provider
	}
}

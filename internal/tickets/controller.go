package tickets

import (
	"net/http"

	"boxoffice/internal/shared/middleware"
	"boxoffice/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

// FinalizePayment is the operator path for a payment whose payment.succeeded
// message was dead-lettered or never consumed.
func (c *Controller) FinalizePayment(ctx *gin.Context) {
	paymentID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid payment ID", nil, err.Error())
		return
	}

	actor := "admin"
	if userID, ok := middleware.UserID(ctx); ok {
		actor = userID.String()
	}
	result, err := c.service.Finalize(ctx.Request.Context(), FinalizeCommand{
		PaymentID:     paymentID,
		CorrelationID: middleware.GetCorrelationID(ctx),
		Actor:         actor,
	})
	if err != nil {
		response.RespondError(ctx, "Failed to finalize payment", err)
		return
	}

	message := "Payment finalized successfully"
	if !result.Processed {
		message = "Payment finalization skipped"
	}
	response.RespondJSON(ctx, "success", http.StatusOK, message, result, nil)
}

func (c *Controller) ListMyTickets(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	tickets, err := c.service.ListMyTickets(ctx.Request.Context(), userID)
	if err != nil {
		response.RespondError(ctx, "Failed to retrieve tickets", err)
		return
	}

	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, tickets[i].ToResponse())
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Tickets retrieved successfully", items, nil)
}

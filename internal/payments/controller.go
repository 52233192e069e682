package payments

import (
	"errors"
	"net/http"

	"boxoffice/internal/shared/apperr"
	"boxoffice/internal/shared/middleware"
	"boxoffice/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const SignatureHeader = "X-Webhook-Signature"

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

func (c *Controller) CreatePayment(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	var req CreatePaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}

	payment, err := c.service.CreatePayment(ctx.Request.Context(), CreatePaymentCommand{
		UserID:        userID,
		ReservationID: uuid.MustParse(req.ReservationID),
		Provider:      req.Provider,
		ProviderRef:   req.ProviderRef,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		response.RespondError(ctx, "Failed to create payment", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusCreated, "Payment created successfully", payment.ToResponse(), nil)
}

func (c *Controller) ProcessWebhook(ctx *gin.Context) {
	var req WebhookRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid webhook payload", nil, err.Error())
		return
	}

	result, err := c.service.ProcessWebhook(ctx.Request.Context(), WebhookCommand{
		Provider:        ctx.Param("provider"),
		ProviderEventID: req.ProviderEventID,
		ProviderRef:     req.ProviderRef,
		Status:          Status(req.Status),
		Payload:         req.Payload,
		Signature:       ctx.GetHeader(SignatureHeader),
		CorrelationID:   middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Code == CodeInvalidSignature {
			response.RespondJSON(ctx, "error", http.StatusUnauthorized, "Invalid webhook signature", nil, response.ErrorDetail{Code: appErr.Code, Message: appErr.Message})
			return
		}
		response.RespondError(ctx, "Failed to process webhook", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Webhook processed", result, nil)
}

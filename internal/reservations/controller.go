package reservations

import (
	"net/http"
	"strings"

	"boxoffice/internal/shared/middleware"
	"boxoffice/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const IdempotencyHeader = "Idempotency-Key"

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

func (c *Controller) CreateReservation(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	var req CreateReservationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(ctx.GetHeader(IdempotencyHeader))
	}

	result, err := c.service.Reserve(ctx.Request.Context(), ReserveCommand{
		UserID:         userID,
		EventID:        uuid.MustParse(req.EventID),
		SeatID:         uuid.MustParse(req.EventSeatID),
		IdempotencyKey: key,
		CorrelationID:  middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		response.RespondError(ctx, "Failed to reserve seat", err)
		return
	}

	status, message := http.StatusCreated, "Seat reserved successfully"
	if result.Replayed {
		status, message = http.StatusOK, "Reservation already exists for this idempotency key"
	}
	response.RespondJSON(ctx, "success", status, message, result.Reservation.ToResponse(result.Replayed), nil)
}

func (c *Controller) GetReservation(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	reservation, err := c.service.GetReservation(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		response.RespondError(ctx, "Failed to get reservation", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Reservation retrieved successfully", reservation.ToResponse(false), nil)
}

package seats

import (
	"net/http"

	"boxoffice/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

func (c *Controller) GetSeatMap(ctx *gin.Context) {
	seatMap, err := c.service.GetSeatMap(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		response.RespondError(ctx, "Failed to get seat map", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seat map retrieved successfully", seatMap, nil)
}

func (c *Controller) UpdateSeatStatus(ctx *gin.Context) {
	var req UpdateSeatStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}

	seat, err := c.service.UpdateSeatStatus(ctx.Request.Context(), ctx.Param("id"), req.Status)
	if err != nil {
		response.RespondError(ctx, "Failed to update seat", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seat updated successfully", seat, nil)
}

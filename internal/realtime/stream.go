package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"boxoffice/internal/shared/utils/response"
	"boxoffice/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Subscriber opens a live feed of seat updates for an event.
type Subscriber interface {
	SubscribeSeatUpdates(ctx context.Context, eventID uuid.UUID) (<-chan string, func() error, error)
}

type StreamController struct {
	subscriber Subscriber
	heartbeat  time.Duration
	log        *logger.Logger
}

func NewStreamController(subscriber Subscriber, heartbeat time.Duration, log *logger.Logger) *StreamController {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &StreamController{subscriber: subscriber, heartbeat: heartbeat, log: log.WithComponent("realtime.stream")}
}

// StreamSeatUpdates relays the event's seat updates as server-sent events.
func (c *StreamController) StreamSeatUpdates(ctx *gin.Context) {
	eventID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid event ID", nil, err.Error())
		return
	}

	reqCtx := ctx.Request.Context()
	updates, closeFn, err := c.subscriber.SubscribeSeatUpdates(reqCtx, eventID)
	if err != nil {
		c.log.WarnContext(reqCtx, "Seat stream subscribe failed",
			slog.String("event_id", eventID.String()),
			slog.String("error", err.Error()),
		)
		response.RespondJSON(ctx, "error", http.StatusServiceUnavailable, "Seat updates unavailable", nil, nil)
		return
	}
	defer func() { _ = closeFn() }()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-reqCtx.Done():
			return false
		case msg, ok := <-updates:
			if !ok {
				return false
			}
			ctx.SSEvent("seat-update", msg)
			return true
		case <-ticker.C:
			ctx.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

func SetupStreamRoutes(rg *gin.RouterGroup, controller *StreamController, guards ...gin.HandlerFunc) {
	events := rg.Group("/events")
	{
		events.GET("/:id/stream", append(guards, controller.StreamSeatUpdates)...) // GET /api/v1/events/:id/stream
	}
}

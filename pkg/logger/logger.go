package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance
func New() *Logger {
	// Get log level from environment
	level := getLogLevel(os.Getenv("LOG_LEVEL"))

	// Create handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Create handler based on environment
	var handler slog.Handler
	if gin.Mode() == gin.DebugMode {
		// Use text handler for development (more readable)
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		// Use JSON handler for production (structured)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	// Create logger
	logger := slog.New(handler)

	return &Logger{
		Logger: logger,
	}
}

// NewWithHandler wraps an explicit slog handler, mostly for tests and tools
func NewWithHandler(handler slog.Handler) *Logger {
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops every record
func Discard() *Logger {
	return NewWithHandler(slog.NewTextHandler(io.Discard, nil))
}

// getLogLevel converts string to slog.Level
func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HTTP logging methods

// LogHTTPRequest logs an HTTP request
func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	l.Logger.InfoContext(c.Request.Context(),
		"HTTP Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
		slog.String("user_agent", c.Request.UserAgent()),
		slog.Int("size", c.Writer.Size()),
	)
}

// LogHTTPError logs an HTTP error
func (l *Logger) LogHTTPError(c *gin.Context, err error, statusCode int) {
	l.Logger.ErrorContext(c.Request.Context(),
		"HTTP Error",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", statusCode),
		slog.String("error", err.Error()),
		slog.String("ip", c.ClientIP()),
	)
}

// Domain logging methods

// WithCorrelationID adds the correlation ID carried across outbox and bus hops
func (l *Logger) WithCorrelationID(correlationID string) *Logger {
	if correlationID == "" {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(slog.String("correlation_id", correlationID)),
	}
}

// WithComponent tags every record with the emitting worker or engine
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", component)),
	}
}

// LogReservationCreated logs when a seat is claimed
func (l *Logger) LogReservationCreated(ctx context.Context, reservationID, eventID, seatID, userID string, path string) {
	l.Logger.InfoContext(ctx,
		"Reservation Created",
		slog.String("reservation_id", reservationID),
		slog.String("event_id", eventID),
		slog.String("seat_id", seatID),
		slog.String("user_id", userID),
		slog.String("claim_path", path),
	)
}

// LogReservationExpired logs when the sweeper expires a reservation
func (l *Logger) LogReservationExpired(ctx context.Context, reservationID, eventID string, releasedSeats int) {
	l.Logger.InfoContext(ctx,
		"Reservation Expired",
		slog.String("reservation_id", reservationID),
		slog.String("event_id", eventID),
		slog.Int("released_seats", releasedSeats),
	)
}

// LogPaymentFinalized logs the outcome of a finalization attempt
func (l *Logger) LogPaymentFinalized(ctx context.Context, paymentID, orderID string, processed, idempotent bool, tickets int) {
	l.Logger.InfoContext(ctx,
		"Payment Finalized",
		slog.String("payment_id", paymentID),
		slog.String("order_id", orderID),
		slog.Bool("processed", processed),
		slog.Bool("idempotent", idempotent),
		slog.Int("tickets", tickets),
	)
}

// LogOutboxCycle logs a relay cycle summary
func (l *Logger) LogOutboxCycle(ctx context.Context, scanned, sent, failed, loops int, duration time.Duration) {
	l.Logger.InfoContext(ctx,
		"Outbox Publish Cycle",
		slog.Int("scanned", scanned),
		slog.Int("sent", sent),
		slog.Int("failed", failed),
		slog.Int("loops", loops),
		slog.Duration("duration", duration),
	)
}

// LogDeadLettered logs a message routed to a dead-letter topic
func (l *Logger) LogDeadLettered(ctx context.Context, topic string, partition int32, offset int64, attempts int, err error) {
	l.Logger.ErrorContext(ctx,
		"Message Dead-Lettered",
		slog.String("topic", topic),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogRateLimitExceeded logs rate limit exceeded
func (l *Logger) LogRateLimitExceeded(ctx context.Context, ip, endpoint string) {
	l.Logger.WarnContext(ctx,
		"Rate Limit Exceeded",
		slog.String("ip", ip),
		slog.String("endpoint", endpoint),
	)
}

// Global logger instance (can be replaced with dependency injection)
var defaultLogger = New()

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	return defaultLogger
}

package response

import (
	"errors"
	"net/http"

	"boxoffice/internal/shared/apperr"
	"boxoffice/pkg/logger"

	"github.com/gin-gonic/gin"
)

func RespondJSON(c *gin.Context, status string, code int, message string, data interface{}, errors interface{}) {
	c.JSON(code, StandardApiResponse{
		Status:     status,
		StatusCode: code,
		Message:    message,
		Data:       data,
		Errors:     errors,
	})
}

// RespondError maps an engine error onto an HTTP status. Unclassified errors
// are reported as 500 without leaking their text.
func RespondError(c *gin.Context, message string, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		logger.GetDefault().LogHTTPError(c, err, http.StatusInternalServerError)
		RespondJSON(c, "error", http.StatusInternalServerError, message, nil, "internal error")
		return
	}

	status := StatusFor(appErr.Kind)
	if status >= http.StatusInternalServerError {
		logger.GetDefault().LogHTTPError(c, err, status)
	}
	RespondJSON(c, "error", status, message, nil, ErrorDetail{
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/booking-api/pkg/errors"
)

// ErrorResponse is the body rendered for unhandled request errors.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

var statusByCode = map[apperrors.ErrorCode]int{
	apperrors.ErrNotFound:     http.StatusNotFound,
	apperrors.ErrBadRequest:   http.StatusBadRequest,
	apperrors.ErrUnauthorized: http.StatusUnauthorized,
	apperrors.ErrForbidden:    http.StatusForbidden,
	apperrors.ErrConflict:     http.StatusConflict,
	apperrors.ErrRateLimited:  http.StatusTooManyRequests,
	apperrors.ErrUnavailable:  http.StatusServiceUnavailable,
	apperrors.ErrInternal:     http.StatusInternalServerError,
}

// ErrorHandler renders errors attached via c.Error that no handler
// responded to itself.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}

		lastErr := c.Errors.Last().Err
		status := http.StatusInternalServerError
		message := "internal error"

		var appErr *apperrors.AppError
		if errors.As(lastErr, &appErr) {
			if s, ok := statusByCode[appErr.Code]; ok {
				status = s
			}
			message = appErr.Message
		}

		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: message,
			TraceID: requestID,
		})
	}
}

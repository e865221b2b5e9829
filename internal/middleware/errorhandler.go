package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/tickshard/internal/domain/dto"
	"github.com/guttosm/tickshard/internal/domain/models"
)

// ErrorHandler is a Gin middleware that converts errors attached to the
// context into a standardized JSON error response.
//
// Behavior:
//   - Runs the handler chain first (c.Next()).
//   - If a handler attached errors via c.Error or AbortWithError, maps the
//     last one to an HTTP status and renders dto.ErrorResponse.
//   - Handlers that already wrote a response are left untouched.
//
// Status mapping:
//   - models.ErrInvalidTrade: 400 Bad Request
//   - models.ErrShardUnavailable, models.ErrReplicaUnavailable: 503 Service Unavailable
//   - context.DeadlineExceeded: 504 Gateway Timeout
//   - anything else: 500 Internal Server Error
func ErrorHandler(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}

	err := c.Errors.Last().Err
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, models.ErrInvalidTrade):
		status = http.StatusBadRequest
		message = "invalid trade"
	case errors.Is(err, models.ErrShardUnavailable), errors.Is(err, models.ErrReplicaUnavailable):
		status = http.StatusServiceUnavailable
		message = "shard unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		message = "query timed out"
	}

	c.JSON(status, dto.NewErrorResponse(message, err))
}

// AbortWithError records err on the context and stops the handler chain;
// ErrorHandler renders it once the chain unwinds.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

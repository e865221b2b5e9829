package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDKey = "request_id"

// RequestID is a Gin middleware that tags each request with a unique
// identifier for log correlation.
//
// Behavior:
//   - Reuses the caller's "X-Request-ID" header when it is a valid UUID,
//     so replay tooling can correlate its own batches.
//   - Otherwise generates a new UUID (v4).
//   - Stores it in the Gin context under the key "request_id" and echoes
//     it in the response headers as "X-Request-ID".
//
// Returns:
//   - gin.HandlerFunc: the middleware function.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)

		c.Next()
	}
}

package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery turns a panic in a handler into a 500 with the standard error envelope.
// A panic never reaches the money path half done: the unit of work rolls back
// with its transaction.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			attrs := []any{
				"error", r,
				"stack", string(debug.Stack()),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			}
			if id := GetCorrelationID(c); id != "" {
				attrs = append(attrs, "correlation_id", id)
			}
			logger.Error("Panic recovered", attrs...)

			abortWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal server error occurred")
		}()

		c.Next()
	}
}

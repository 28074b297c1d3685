package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPObserver records request outcomes.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Metrics labels by the matched route template, not the raw path, to keep
// cardinality bounded. Unmatched paths are reported as "unmatched".
func Metrics(observer HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observer.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

package middleware

import (
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.LatencyBucket.WithLabelValues(path).Observe(duration)
	}
}

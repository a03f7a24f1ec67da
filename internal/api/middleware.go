package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/internal/metrics"
)

// RequestLogger logs every request with its duration and status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("duration", time.Since(start).String()).
			Str("request_id", requestID).
			Str("remote_addr", c.ClientIP()).
			Msg("HTTP request")
	}
}

// RequestMetrics counts requests by status class and records durations.
func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		m.IncrementCounter("http_requests")
		m.IncrementCounter("http_status_" + strconv.Itoa(c.Writer.Status()/100) + "xx")
		m.RecordDuration("http_request", time.Since(start))
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// LoggerMiddleware создает middleware для логирования запросов
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		switch {
		case statusCode >= 500:
			log.Error("[%s] %s %d %s %s",
				c.Request.Method, c.Request.RequestURI, statusCode, latency.String(), c.ClientIP())
		case statusCode >= 400:
			log.Warn("[%s] %s %d %s %s",
				c.Request.Method, c.Request.RequestURI, statusCode, latency.String(), c.ClientIP())
		default:
			log.Info("[%s] %s %d %s %s",
				c.Request.Method, c.Request.RequestURI, statusCode, latency.String(), c.ClientIP())
		}
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"grok-chatbot/logger"
	"grok-chatbot/trace"
)

// RequestTrace makes sure every inbound request has a request id, stores it in
// the request context and the response header, and logs the completed request.
// Bodies are not logged since they can carry inline images.
func RequestTrace(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(trace.HeaderRequestID)
		if requestID == "" {
			requestID = trace.GenerateID()
		}
		c.Request = c.Request.WithContext(trace.WithRequestID(c.Request.Context(), requestID))
		c.Writer.Header().Set(trace.HeaderRequestID, requestID)

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"request_id", requestID,
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		log.Info("completed request", fields...)
	}
}

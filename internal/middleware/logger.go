package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags the request context with a request id, so engine logs
// carry it, and logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)
		ctx := log.WithLogField(c.Request.Context(), "req", requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		l := log.L(ctx).WithField("status", c.Writer.Status()).WithField("latency", time.Since(start).String())
		if len(c.Errors) > 0 {
			l = l.WithField("errors", c.Errors.String())
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			l.Errorf("%s %s", c.Request.Method, c.Request.URL.Path)
		case status >= 400:
			l.Warnf("%s %s", c.Request.Method, c.Request.URL.Path)
		default:
			l.Infof("%s %s", c.Request.Method, c.Request.URL.Path)
		}
	}
}

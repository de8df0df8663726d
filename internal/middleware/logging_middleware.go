// Package middleware gin-middleware: журнал запросов и метрики HTTP.
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/slp-replay/internal/logging"
)

// TraceHeader заголовок ответа с идентификатором запроса
const TraceHeader = "X-Trace-ID"

// traceKey ключ gin.Context
const traceKey = "trace_id"

// RequestLogger назначает запросу trace-ID (из OpenTelemetry или новый UUID)
// и пишет строку на запрос. Служебные пути (/health, /metrics) пишутся в debug.
type RequestLogger struct {
	quiet []string
}

func NewRequestLogger(quietPaths ...string) *RequestLogger {
	if len(quietPaths) == 0 {
		quietPaths = []string{"/health", "/metrics"}
	}
	return &RequestLogger{quiet: quietPaths}
}

// TraceID идентификатор текущего запроса
func TraceID(c *gin.Context) string {
	return c.GetString(traceKey)
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := uuid.NewString()
		if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		}
		c.Set(traceKey, traceID)
		c.Header(TraceHeader, traceID)

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		line := "[HTTP] %s %s %d %s ip=%s trace=%s"
		args := []any{c.Request.Method, path, status, time.Since(start), c.ClientIP(), traceID}

		switch {
		case status >= 500:
			logging.Error(line+" err=%s", append(args, c.Errors.String())...)
		case rl.isQuiet(path):
			logging.Debug(line, args...)
		default:
			logging.Info(line, args...)
		}
	}
}

func (rl *RequestLogger) isQuiet(path string) bool {
	for _, p := range rl.quiet {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

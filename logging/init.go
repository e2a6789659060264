package logging

import (
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

func init() {
	gin.DebugPrintFunc = func(format string, values ...any) {
		zap.S().Debugf(strings.TrimSuffix(format, "\n"), values...)
	}
}

// Gin installs access logging, panic recovery and a per-request logger carrying the
// request id on the request context.
func Gin(r *gin.Engine, log *zap.Logger) {
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/metrics"},
		Context: func(c *gin.Context) []zap.Field {
			return []zap.Field{zap.String("rid", c.GetString("rid"))}
		},
	}))
	r.Use(ginzap.RecoveryWithZap(log, true))
	r.Use(func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.New().String()
		}
		c.Set("rid", rid)
		c.Header(RequestIDHeader, rid)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), log.With(zap.String("rid", rid))))
		c.Next()
	})
}

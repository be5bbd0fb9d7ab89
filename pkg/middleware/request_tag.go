package middleware

import (
	"github.com/gin-gonic/gin"
	"matchcore.com/pkg/common"
	"matchcore.com/pkg/trace"
)

// RequestTag 给每个请求打上 request id（沿用合法的上游值，否则新生成），
// 有 otel span 时把 trace id 也回写到响应头。要挂在 otelgin 之后
func RequestTag() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid, ok := common.AcceptRequestID(c.GetHeader(common.HeaderRequestID))
		if !ok {
			rid = common.NewRequestID()
		}
		ctx := common.WithRequestID(c.Request.Context(), rid)
		c.Request = c.Request.WithContext(ctx)
		c.Header(common.HeaderRequestID, rid)
		if tid := trace.TraceID(ctx); tid != "" {
			c.Header(common.HeaderTraceID, tid)
		}
		c.Next()
	}
}

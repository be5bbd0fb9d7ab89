package common

import (
	"context"

	"github.com/google/uuid"
	"matchcore.com/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderTraceID   = "X-Trace-Id"

	maxRequestIDLen = 64
)

func NewRequestID() string { return uuid.NewString() }

// AcceptRequestID 上游带来的 request id 只接受 [A-Za-z0-9._:-] 的短串，它会原样进日志和响应头
func AcceptRequestID(s string) (string, bool) {
	if s == "" || len(s) > maxRequestIDLen {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return "", false
		}
	}
	return s, true
}

// WithRequestID 写到 logger 认识的 key 下，日志自动带上
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, logger.RequestIdKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(logger.RequestIdKey).(string)
	return id
}

package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"matchcore.com/pkg/logger"
)

// PanicHook 协程 panic 后额外的回调（打点之类），可以为空
var PanicHook func(name string, r any)

// Go 安全启动协程
func Go(fn func()) {
	GoNamed("", fn)
}

// GoNamed 带名字启动，panic 日志里能看出是哪个协程（例如 "actor:BTC/USD"）
func GoNamed(name string, fn func()) {
	go func() {
		defer recoverAndLog(context.Background(), name)
		fn()
	}()
}

// GoCtx 携带 context 启动，日志里保留请求链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverAndLog(ctx, "")
		fn(ctx)
	}()
}

func recoverAndLog(ctx context.Context, name string) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error(ctx, "goroutine panic recovered",
		zap.String("goroutine", name),
		zap.Any("panic", r),
		zap.String("stack", string(debug.Stack())),
	)
	if PanicHook != nil {
		PanicHook(name, r)
	}
}

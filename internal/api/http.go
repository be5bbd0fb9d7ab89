package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"matchcore.com/pkg/common"
	"matchcore.com/pkg/middleware"
	"matchcore.com/pkg/ratelimit"
)

type Options struct {
	RateLimit    float64       `mapstructure:"rate_limit"` // 每个 ip+路由 每秒请求数，<=0 不限流
	Burst        int           `mapstructure:"burst"`
	AllowOrigins []string      `mapstructure:"allow_origins"` // 空表示全部放行
	Metrics      bool          `mapstructure:"metrics"`       // gin 请求指标
	Timeout      time.Duration `mapstructure:"timeout"`
	ServiceName  string        `mapstructure:"service_name"` // otel span 的 server name，默认 matching-engine
}

// NewRouter ctx 控制限流 janitor 的生命周期；routes 挂额外的路由（ws 之类）
func NewRouter(ctx context.Context, eng Engine, opts Options, routes ...func(r *gin.Engine)) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "matching-engine"
	}
	r := gin.New()
	// 没初始化 tracer 时是全局 noop provider
	r.Use(otelgin.Middleware(opts.ServiceName))
	if opts.Metrics {
		p := ginprom.NewPrometheus("matchcore_http")
		// 用路由模板做 label，避免 market 参数撑爆基数
		p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			if path := c.FullPath(); path != "" {
				return path
			}
			return "unknown"
		}
		r.Use(p.HandlerFunc())
	}

	r.Use(
		middleware.RequestTag(),
		cors.New(corsConfig(opts.AllowOrigins)),
		middleware.Recover(),
	)
	if opts.RateLimit > 0 {
		store := ratelimit.NewStore(rate.Limit(opts.RateLimit), opts.Burst, 10*time.Minute)
		store.StartJanitor(ctx, time.Minute)
		r.Use(middleware.RateLimit(store))
	}

	api := r.Group("/api")
	Markets(api, NewMarket(eng, opts.Timeout))
	r.GET("/healthz", func(c *gin.Context) { common.Success(c, "ok") })
	for _, fn := range routes {
		fn(r)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowHeaders(common.HeaderRequestID)
	cfg.AddExposeHeaders(common.HeaderRequestID, common.HeaderTraceID)
	return cfg
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

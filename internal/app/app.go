package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"matchcore.com/internal/api"
	"matchcore.com/internal/broker"
	"matchcore.com/internal/engine"
	"matchcore.com/internal/kline"
	"matchcore.com/internal/snapshot"
	"matchcore.com/internal/stream"
	"matchcore.com/pkg/logger"
	"matchcore.com/pkg/metrics"
	"matchcore.com/pkg/ratelimit"
	"matchcore.com/pkg/safe"
	"matchcore.com/pkg/trace"
)

type App struct {
	cfg    Cfg
	eng    *engine.Engine
	snaps  *snapshot.PebbleStore
	broker broker.Broker
	agg    *kline.ShardedAggregator // quotes 关闭时为 nil
	hub    *stream.Hub
	closed sync.Once

	traceShutdown func(context.Context) error
}

// New 组装依赖：快照库 -> 引擎（恢复各 market）-> broker。不监听端口
func New(cfg Cfg) (*App, error) {
	safe.PanicHook = func(name string, _ any) {
		metrics.GoroutinePanicsTotal.WithLabelValues(name).Inc()
	}

	a := &App{cfg: cfg}
	if cfg.Trace.Enabled() {
		shutdown, err := trace.InitTrace(context.Background(), a.serviceName(), cfg.Trace)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.traceShutdown = shutdown
	}
	ecfg := engine.Config{
		EventBusSize:    cfg.Engine.EventBusSize,
		WALDir:          cfg.Engine.WALDir,
		EnableCmdWAL:    cfg.Engine.CmdWAL,
		EnableOutbox:    cfg.Engine.Outbox,
		EnablePublisher: cfg.Engine.Publisher,
		PublisherPoll:   time.Duration(cfg.Engine.PublisherPollMs) * time.Millisecond,
		Actor: engine.ActorConfig{
			MailboxSize:   cfg.Engine.MailboxSize,
			BatchMax:      cfg.Engine.BatchMax,
			SnapshotEvery: cfg.Engine.SnapshotEvery,
		},
	}
	switch cfg.Engine.Codec {
	case "", "binary":
	case "json":
		ecfg.CmdCodec = engine.JSONCmdCodec{Version: 1}
		ecfg.EvCodec = engine.JSONEvCodec{Version: 1}
	default:
		return nil, fmt.Errorf("unknown engine codec %q", cfg.Engine.Codec)
	}

	if cfg.Engine.SnapshotDir != "" {
		s, err := snapshot.Open(cfg.Engine.SnapshotDir)
		if err != nil {
			return nil, err
		}
		a.snaps = s
		ecfg.Snapshots = s
	}

	a.eng = engine.NewEngine(ecfg)
	if err := a.AddMarkets(cfg.Markets); err != nil {
		a.Close()
		return nil, err
	}

	b, err := newBroker(cfg.Broker)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.broker = b

	if cfg.Quotes.Enabled {
		kcfg := cfg.Quotes.Kline
		if kcfg.Shards <= 0 {
			kcfg.Shards = 4
		}
		agg, err := kline.NewShardedAggregator(kcfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.agg = agg
		a.hub = stream.NewHub()
	}
	return a, nil
}

func newBroker(cfg BrokerCfg) (broker.Broker, error) {
	switch cfg.Type {
	case "", "mem":
		return broker.NewMemBroker(0), nil
	case "nats":
		nb, err := broker.NewNatsBroker(cfg.NatsURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats %s: %w", cfg.NatsURL, err)
		}
		return nb, nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("broker.kafka.brokers is empty")
		}
		return broker.NewKafkaBroker(cfg.Kafka), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Type)
	}
}

// AddMarkets 注册还没有的交易对，已经存在的跳过
func (a *App) AddMarkets(symbols []string) error {
	for _, s := range symbols {
		pair, err := engine.ParseTradingPair(s)
		if err != nil {
			return err
		}
		if err := a.eng.AddNewMarket(pair); err != nil {
			if errors.Is(err, engine.ErrMarketExists) {
				continue
			}
			return err
		}
	}
	return nil
}

func (a *App) Engine() *engine.Engine { return a.eng }
func (a *App) Broker() broker.Broker  { return a.broker }
func (a *App) Hub() *stream.Hub       { return a.hub }

// Handler ctx 结束时 ws 连接也一起断开
func (a *App) Handler(ctx context.Context) http.Handler {
	var routes []func(*gin.Engine)
	if a.hub != nil {
		path := a.cfg.Quotes.WSPath
		if path == "" {
			path = "/ws"
		}
		ws := stream.NewServer(ctx, a.hub, a.cfg.Quotes.WS)
		routes = append(routes, func(r *gin.Engine) { r.GET(path, gin.WrapF(ws.ServeWS)) })
	}
	opts := a.cfg.HTTP.API
	if opts.ServiceName == "" {
		opts.ServiceName = a.serviceName()
	}
	return api.NewRouter(ctx, a.eng, opts, routes...)
}

func (a *App) serviceName() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	return "matching-engine"
}

// Run 阻塞到 ctx 结束或者某个服务出错，然后优雅关闭 http
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := api.NewServer(a.cfg.HTTP.Addr, a.Handler(gctx))
	servers := []*http.Server{srv}
	g.Go(func() error {
		logger.Info(gctx, "http listening", zap.String("addr", srv.Addr))
		return listen(srv)
	})

	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		msrv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
		servers = append(servers, msrv)
		g.Go(func() error {
			logger.Info(gctx, "metrics listening", zap.String("addr", msrv.Addr))
			return listen(msrv)
		})
	}

	var sinks []broker.Sink
	if a.agg != nil {
		sinks = append(sinks, a.agg, stream.NewTickerSink(a.hub))
		a.agg.Run(gctx)
		g.Go(func() error {
			stream.RunBridge(a.hub, a.agg.Out())
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.agg.Close()
			return nil
		})
	}

	breakers := ratelimit.NewBreakers(a.cfg.Broker.Breaker, nil)
	breakers.OnStateChange = func(topic string, from, to gobreaker.State) {
		logger.Warn(gctx, "broker breaker state changed", zap.String("topic", topic),
			zap.String("from", from.String()), zap.String("to", to.String()))
	}
	fwd := broker.NewForwarder(brokerName(a.cfg.Broker.Type), a.eng.Events(), a.broker, sinks...).
		WithBreakers(breakers)
	g.Go(func() error {
		if err := fwd.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logger.Warn(shutdownCtx, "http shutdown", zap.String("addr", s.Addr), zap.Error(err))
			}
		}
		return nil
	})
	return g.Wait()
}

func listen(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	return nil
}

func brokerName(t string) string {
	if t == "" {
		return "mem"
	}
	return t
}

// Close 先停引擎（actor 关 WAL），再关 broker 和快照库；可以重复调用
func (a *App) Close() {
	a.closed.Do(func() {
		if a.eng != nil {
			a.eng.Stop()
		}
		if a.broker != nil {
			_ = a.broker.Close()
		}
		if a.snaps != nil {
			_ = a.snaps.Close()
		}
		if a.traceShutdown != nil {
			// 最多给 5 秒 flush 剩下的 span
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.traceShutdown(ctx); err != nil {
				logger.Error(ctx, "shutdown tracer", zap.Error(err))
			}
			cancel()
		}
		logger.Sync()
	})
}

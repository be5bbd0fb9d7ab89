package kline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"matchcore.com/internal/engine"
	"matchcore.com/internal/matching"
	"matchcore.com/pkg/metrics"
	"matchcore.com/pkg/safe"
)

var ErrBadShards = errors.New("kline: shards must be > 0")

// ShardedAggConfig 聚合参数
type ShardedAggConfig struct {
	Shards        int           `mapstructure:"shards"`
	ReorderWindow time.Duration `mapstructure:"reorder_window"`
	TZOffset      time.Duration `mapstructure:"tz_offset"`

	// 是否补空 K，1s 不补
	FillGaps1m bool `mapstructure:"fill_gaps_1m"`
	FillGaps1h bool `mapstructure:"fill_gaps_1h"`
	FillGaps1d bool `mapstructure:"fill_gaps_1d"`

	InboxSize    int  `mapstructure:"inbox_size"`
	OutSize      int  `mapstructure:"out_size"`
	DropWhenFull bool `mapstructure:"drop_when_full"` // inbox 满了丢新成交，不阻塞调用方
}

// ShardedAggregator 按 market hash 分片，每个 shard 一个协程、一条 1s->1m->1h->1d 聚合链。
// 同一个 market 永远落在同一个 shard，shard 内部无锁
type ShardedAggregator struct {
	cfg ShardedAggConfig
	out chan Bar

	shards []shard
	wg     sync.WaitGroup
}

type shard struct {
	inbox chan Trade
	sAgg  *TradeAgg
	mAgg  *RollupAgg
	hAgg  *RollupAgg
	dAgg  *RollupAgg
}

func NewShardedAggregator(cfg ShardedAggConfig) (*ShardedAggregator, error) {
	if cfg.Shards <= 0 {
		return nil, ErrBadShards
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 8192
	}
	if cfg.OutSize <= 0 {
		cfg.OutSize = 65536
	}

	a := &ShardedAggregator{
		cfg:    cfg,
		out:    make(chan Bar, cfg.OutSize),
		shards: make([]shard, cfg.Shards),
	}
	for i := range a.shards {
		sh := &a.shards[i]
		sh.inbox = make(chan Trade, cfg.InboxSize)

		sh.dAgg = NewRollupAggFill(24*time.Hour, cfg.TZOffset, cfg.FillGaps1d, a.emit)
		sh.hAgg = NewRollupAggFill(time.Hour, cfg.TZOffset, cfg.FillGaps1h, func(b Bar) {
			a.emit(b)
			sh.dAgg.OfferBar(b)
		})
		sh.mAgg = NewRollupAggFill(time.Minute, cfg.TZOffset, cfg.FillGaps1m, func(b Bar) {
			a.emit(b)
			sh.hAgg.OfferBar(b)
		})
		sh.sAgg = NewTradeAggReorder(time.Second, cfg.TZOffset, cfg.ReorderWindow, func(b Bar) {
			a.emit(b)
			sh.mAgg.OfferBar(b)
		})
	}
	return a, nil
}

func (a *ShardedAggregator) emit(b Bar) {
	metrics.KlineBarsTotal.WithLabelValues(b.TF).Inc()
	a.out <- b
}

// Out 所有周期的 bar 都从这里出来，Close 之后关闭
func (a *ShardedAggregator) Out() <-chan Bar { return a.out }

// Run 启动 shard workers；ctx 结束时 flush 未关闭的 bar 再退出
func (a *ShardedAggregator) Run(ctx context.Context) {
	for i := range a.shards {
		sh := &a.shards[i]
		a.wg.Add(1)
		safe.GoNamed(fmt.Sprintf("kline-shard:%d", i), func() {
			defer a.wg.Done()
			for {
				select {
				case <-ctx.Done():
					sh.sAgg.Flush()
					sh.mAgg.Flush()
					sh.hAgg.Flush()
					sh.dAgg.Flush()
					return
				case t := <-sh.inbox:
					sh.sAgg.OfferTrade(t)
				}
			}
		})
	}
}

// Close 等 worker 退出后关闭 out，调用前先 cancel Run 的 ctx
func (a *ShardedAggregator) Close() {
	a.wg.Wait()
	close(a.out)
}

// OfferTrade 路由到 shard；DropWhenFull 时 inbox 满返回 false
func (a *ShardedAggregator) OfferTrade(t Trade) bool {
	sh := &a.shards[shardIndex(t.Market, len(a.shards))]
	if !a.cfg.DropWhenFull {
		sh.inbox <- t
		metrics.KlineTradesTotal.WithLabelValues("ok").Inc()
		return true
	}
	select {
	case sh.inbox <- t:
		metrics.KlineTradesTotal.WithLabelValues("ok").Inc()
		return true
	default:
		metrics.KlineTradesTotal.WithLabelValues("dropped").Inc()
		return false
	}
}

// OnEvent 只取 taker 那条 Execution，一次撮合算一笔成交
func (a *ShardedAggregator) OnEvent(ev engine.Event) {
	if t, ok := TradeFromEvent(ev); ok {
		a.OfferTrade(t)
	}
}

func TradeFromEvent(ev engine.Event) (Trade, bool) {
	if ev.Type != engine.EvExecution || ev.Liquidity != matching.Taker {
		return Trade{}, false
	}
	return Trade{
		Market: ev.Market,
		Price:  ev.Price,
		Size:   ev.Size,
		TsMs:   ev.Ts / int64(time.Millisecond),
		Seq:    ev.Seq,
	}, true
}

func shardIndex(market string, shards int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(market))
	return int(h.Sum64() % uint64(shards))
}

package kline

import (
	"cmp"
	"context"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"matchcore.com/internal/engine"
	"matchcore.com/internal/matching"
)

func collectAll(t *testing.T, ch <-chan Bar, timeout time.Duration) []Bar {
	t.Helper()
	var out []Bar
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, b)
		case <-timer.C:
			t.Fatalf("timeout collecting bars, collected=%d", len(out))
		}
	}
}

func filterBars(bars []Bar, tf string, market string) []Bar {
	var out []Bar
	for _, b := range bars {
		if b.TF == tf && b.Market == market {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b Bar) int { return cmp.Compare(a.StartMs, b.StartMs) })
	return out
}

func TestShardedAggregator_E2E_MinuteGapFill(t *testing.T) {
	agg, err := NewShardedAggregator(ShardedAggConfig{
		Shards:     4,
		FillGaps1m: true,
		InboxSize:  1024,
	})
	if err != nil {
		t.Fatalf("NewShardedAggregator err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agg.Run(ctx)

	// minute0 有成交，minute1 空，minute2 有成交
	if !agg.OfferTrade(trade("BTC/USD", "100", "1", 500)) {
		t.Fatalf("OfferTrade dropped unexpectedly")
	}
	if !agg.OfferTrade(trade("BTC/USD", "110", "1", 120_500)) {
		t.Fatalf("OfferTrade dropped unexpectedly")
	}
	_ = agg.OfferTrade(trade("ETH/USD", "200", "2", 700))

	cancel()
	agg.Close()

	all := collectAll(t, agg.Out(), 2*time.Second)
	minBars := filterBars(all, "1m", "BTC/USD")
	if len(minBars) != 3 {
		t.Fatalf("expected 3 minute bars for BTC/USD, got=%d bars=%v", len(minBars), minBars)
	}

	b0 := minBars[0]
	if b0.StartMs != 0 || b0.EndMs != 60_000 || !b0.Close.Equal(d("100")) || !b0.Volume.Equal(d("1")) {
		t.Fatalf("minute0 mismatch: %s", b0)
	}
	// 补空：OHLC = 上一根 close，V=0，Count=0
	b1 := minBars[1]
	if b1.StartMs != 60_000 || !b1.Open.Equal(d("100")) || !b1.Low.Equal(d("100")) || !b1.Volume.IsZero() || b1.Count != 0 {
		t.Fatalf("minute1 should be an empty fill: %s", b1)
	}
	b2 := minBars[2]
	if b2.StartMs != 120_000 || !b2.Open.Equal(d("110")) || !b2.Volume.Equal(d("1")) {
		t.Fatalf("minute2 mismatch: %s", b2)
	}

	if eth := filterBars(all, "1s", "ETH/USD"); len(eth) != 1 || !eth[0].Volume.Equal(d("2")) {
		t.Fatalf("ETH/USD 1s bars mismatch: %v", eth)
	}
	if day := filterBars(all, "1d", "BTC/USD"); len(day) != 1 || !day[0].High.Equal(d("110")) {
		t.Fatalf("BTC/USD 1d bars mismatch: %v", day)
	}
}

func TestShardedAggregator_DropWhenFull(t *testing.T) {
	agg, err := NewShardedAggregator(ShardedAggConfig{Shards: 1, InboxSize: 1, DropWhenFull: true})
	if err != nil {
		t.Fatal(err)
	}
	// 没有 Run，inbox 只能放 1 条
	if !agg.OfferTrade(trade("BTC/USD", "1", "1", 1)) {
		t.Fatalf("first trade should be accepted")
	}
	if agg.OfferTrade(trade("BTC/USD", "1", "1", 2)) {
		t.Fatalf("second trade should be dropped")
	}
}

func TestShardedAggregator_BadShards(t *testing.T) {
	if _, err := NewShardedAggregator(ShardedAggConfig{}); err != ErrBadShards {
		t.Fatalf("want ErrBadShards got=%v", err)
	}
}

func TestTradeFromEvent(t *testing.T) {
	ev := engine.Event{
		Type:      engine.EvExecution,
		Market:    "BTC/USD",
		Seq:       7,
		Ts:        int64(90_500 * time.Millisecond),
		Side:      matching.Bid,
		Price:     decimal.NewFromInt(100),
		Size:      d("0.25"),
		Liquidity: matching.Taker,
	}
	tr, ok := TradeFromEvent(ev)
	if !ok {
		t.Fatalf("taker execution should become a trade")
	}
	if tr.TsMs != 90_500 || tr.Seq != 7 || !tr.Size.Equal(d("0.25")) || tr.Market != "BTC/USD" {
		t.Fatalf("trade mismatch: %+v", tr)
	}

	ev.Liquidity = matching.Maker
	if _, ok := TradeFromEvent(ev); ok {
		t.Fatalf("maker side must not be counted twice")
	}
	ev.Type = engine.EvRested
	if _, ok := TradeFromEvent(ev); ok {
		t.Fatalf("rested is not a trade")
	}
}

func TestShardRouting_SameMarketSameShard(t *testing.T) {
	n := 8
	if shardIndex("BTC/USD", n) != shardIndex("BTC/USD", n) {
		t.Fatalf("same market should map to same shard")
	}
	for _, m := range []string{"BTC/USD", "ETH/USD", "SOL/USDT"} {
		if i := shardIndex(m, n); i < 0 || i >= n {
			t.Fatalf("shard %d out of range for %s", i, m)
		}
	}
}

package kline

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// TradeAgg 每个 market 维护正在构建的 bar。
// 按事件时间推进水位线（最新成交时间 - 乱序窗口），EndMs <= 水位线的 bar 按时间顺序输出；
// 早于水位线的成交直接丢弃
type TradeAgg struct {
	intervalMs      int64
	offsetMs        int64
	reorderWindowMs int64

	markets map[string]*marketState
	emit    func(Bar)

	lateDrops int64
}

type marketState struct {
	latestTsMs int64
	bars       map[int64]*Bar // key = bucket start

	lastEmittedStartMs int64
	hasEmitted         bool
}

func NewTradeAgg(interval time.Duration, tzOffset time.Duration, emit func(Bar)) *TradeAgg {
	return NewTradeAggReorder(interval, tzOffset, 0, emit)
}

func NewTradeAggReorder(interval time.Duration, tzOffset time.Duration, reorderWindow time.Duration, emit func(Bar)) *TradeAgg {
	return &TradeAgg{
		intervalMs:      int64(interval / time.Millisecond),
		offsetMs:        int64(tzOffset / time.Millisecond),
		reorderWindowMs: int64(reorderWindow / time.Millisecond),
		markets:         make(map[string]*marketState, 64),
		emit:            emit,
	}
}

// LateDrops 超出乱序窗口被丢弃的成交数
func (a *TradeAgg) LateDrops() int64 { return a.lateDrops }

func (a *TradeAgg) OfferTrade(t Trade) {
	if !t.Price.IsPositive() || !t.Size.IsPositive() {
		return
	}
	st := a.markets[t.Market]
	if st == nil {
		st = &marketState{bars: make(map[int64]*Bar, 8)}
		a.markets[t.Market] = st
	}
	if t.TsMs > st.latestTsMs {
		st.latestTsMs = t.TsMs
	}
	watermark := st.latestTsMs - a.reorderWindowMs

	bs := bucketStartMs(t.TsMs, a.intervalMs, a.offsetMs)
	// 超出窗口，或者所在桶已经输出过
	if t.TsMs < watermark || (st.hasEmitted && bs <= st.lastEmittedStartMs) {
		a.lateDrops++
		a.emitReady(st, watermark)
		return
	}

	b := st.bars[bs]
	if b == nil {
		b = newBar(t.Market, time.Duration(a.intervalMs)*time.Millisecond, bs, bs+a.intervalMs)
		b.Open, b.High, b.Low, b.Close = t.Price, t.Price, t.Price, t.Price
		b.Volume = t.Size
		b.Count = 1
		st.bars[bs] = b
	} else {
		if t.Price.GreaterThan(b.High) {
			b.High = t.Price
		}
		if t.Price.LessThan(b.Low) {
			b.Low = t.Price
		}
		b.Close = t.Price
		b.Volume = b.Volume.Add(t.Size)
		b.Count++
	}
	a.emitReady(st, watermark)
}

func (a *TradeAgg) emitReady(st *marketState, watermarkMs int64) {
	ready := make([]int64, 0, 4)
	for start, b := range st.bars {
		if b.EndMs <= watermarkMs {
			ready = append(ready, start)
		}
	}
	if len(ready) == 0 {
		return
	}
	slices.Sort(ready)
	for _, start := range ready {
		a.emit(*st.bars[start])
		delete(st.bars, start)
		st.lastEmittedStartMs = start
		st.hasEmitted = true
	}
}

// Flush 输出所有未关闭的 bar，退出时调用
func (a *TradeAgg) Flush() {
	for _, st := range a.markets {
		keys := make([]int64, 0, len(st.bars))
		for start := range st.bars {
			keys = append(keys, start)
		}
		slices.Sort(keys)
		for _, start := range keys {
			a.emit(*st.bars[start])
			st.lastEmittedStartMs = start
			st.hasEmitted = true
		}
		st.bars = make(map[int64]*Bar, 8)
	}
}

// RollupAgg 低周期 bar 合成高周期 bar（1s -> 1m -> 1h -> 1d）。
// fillGaps 时跳过的桶用上一根的收盘价补空 K
type RollupAgg struct {
	intervalMs int64
	offsetMs   int64
	cur        map[string]*Bar
	emit       func(Bar)
	fillGaps   bool
}

func NewRollupAgg(interval time.Duration, tzOffset time.Duration, emit func(Bar)) *RollupAgg {
	return NewRollupAggFill(interval, tzOffset, false, emit)
}

func NewRollupAggFill(interval time.Duration, tzOffset time.Duration, fillGaps bool, emit func(Bar)) *RollupAgg {
	return &RollupAgg{
		intervalMs: int64(interval / time.Millisecond),
		offsetMs:   int64(tzOffset / time.Millisecond),
		cur:        make(map[string]*Bar, 64),
		emit:       emit,
		fillGaps:   fillGaps,
	}
}

func (a *RollupAgg) interval() time.Duration { return time.Duration(a.intervalMs) * time.Millisecond }

func (a *RollupAgg) open(child Bar, bs int64) *Bar {
	b := newBar(child.Market, a.interval(), bs, bs+a.intervalMs)
	b.Open, b.High, b.Low, b.Close = child.Open, child.High, child.Low, child.Close
	b.Volume = child.Volume
	b.Count = 1
	return b
}

func (a *RollupAgg) OfferBar(child Bar) {
	bs := bucketStartMs(child.StartMs, a.intervalMs, a.offsetMs)

	cb := a.cur[child.Market]
	if cb == nil {
		a.cur[child.Market] = a.open(child, bs)
		return
	}

	switch {
	case bs > cb.StartMs:
		a.emit(*cb)
		if a.fillGaps {
			last := cb.Close
			for next := cb.StartMs + a.intervalMs; next < bs; next += a.intervalMs {
				empty := newBar(child.Market, a.interval(), next, next+a.intervalMs)
				empty.Open, empty.High, empty.Low, empty.Close = last, last, last, last
				empty.Volume = decimal.Zero
				a.emit(*empty)
			}
		}
		a.cur[child.Market] = a.open(child, bs)
	case bs < cb.StartMs:
		// 乱序：丢
	default:
		if child.High.GreaterThan(cb.High) {
			cb.High = child.High
		}
		if child.Low.LessThan(cb.Low) {
			cb.Low = child.Low
		}
		cb.Close = child.Close
		cb.Volume = cb.Volume.Add(child.Volume)
		cb.Count++
	}
}

func (a *RollupAgg) Flush() {
	markets := make([]string, 0, len(a.cur))
	for m := range a.cur {
		markets = append(markets, m)
	}
	slices.Sort(markets)
	for _, m := range markets {
		a.emit(*a.cur[m])
	}
	a.cur = make(map[string]*Bar, 64)
}

package kline

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade 聚合器的输入：一笔成交（只取 taker 那条 Execution）
type Trade struct {
	Market string // BASE/QUOTE
	Price  decimal.Decimal
	Size   decimal.Decimal
	TsMs   int64 // 成交时间（毫秒），来自命令进入引擎的时间
	Seq    uint64
}

// Bar K 线（OHLCV），覆盖 [StartMs, EndMs)。
// Count：TradeAgg 里是成交笔数；RollupAgg 里是合并了多少个子 bar，补的空 K 为 0
type Bar struct {
	Market   string        `json:"market"`
	Interval time.Duration `json:"-"`
	TF       string        `json:"tf"`
	StartMs  int64         `json:"start_ms"`
	EndMs    int64         `json:"end_ms"`

	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`

	Volume decimal.Decimal `json:"volume"`
	Count  int64           `json:"count"`
}

func (b Bar) String() string {
	return fmt.Sprintf("%s %s [%d,%d) O=%s H=%s L=%s C=%s V=%s n=%d",
		b.Market, b.TF, b.StartMs, b.EndMs, b.Open, b.High, b.Low, b.Close, b.Volume, b.Count)
}

func newBar(market string, interval time.Duration, startMs, endMs int64) *Bar {
	return &Bar{Market: market, Interval: interval, TF: TF(interval), StartMs: startMs, EndMs: endMs}
}

// TF 周期的字符串形式，用在 topic 里
func TF(d time.Duration) string {
	switch d {
	case time.Second:
		return "1s"
	case time.Minute:
		return "1m"
	case time.Hour:
		return "1h"
	case 24 * time.Hour:
		return "1d"
	}
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}

// bucketStartMs 某个时间戳所在桶的起点，offsetMs 用于按时区对齐：
// ((ts+off)/interval)*interval - off
func bucketStartMs(tsMs, intervalMs, offsetMs int64) int64 {
	x := tsMs + offsetMs
	start := (x / intervalMs) * intervalMs
	if x < 0 && x%intervalMs != 0 {
		start -= intervalMs
	}
	return start - offsetMs
}

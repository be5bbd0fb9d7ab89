package stream

import (
	"github.com/segmentio/encoding/json"
	"matchcore.com/internal/engine"
	"matchcore.com/internal/kline"
)

// ClientMsg 客户端 -> 服务端
type ClientMsg struct {
	Type   string   `json:"type"`   // "sub" | "unsub"
	Topics []string `json:"topics"` // kline:1m:BTC-USD / ticker:BTC-USD
}

type BarDTO struct {
	Market   string `json:"market"`
	Interval string `json:"interval"` // 1s 1m 1h 1d
	StartMs  int64  `json:"startMs"`
	EndMs    int64  `json:"endMs"`

	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
	Count  int64  `json:"count"`
}

// TickerDTO 最新一笔成交，side 是 taker 方向
type TickerDTO struct {
	Market string `json:"market"`
	Seq    uint64 `json:"seq"`
	Ts     int64  `json:"ts"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Size   string `json:"size"`
}

// ServerMsg 服务端 -> 客户端，Bar/Ticker 二选一
type ServerMsg struct {
	Type   string     `json:"type"`  // "kline" | "ticker"
	Topic  string     `json:"topic"` // kline:1m:BTC-USD
	Bar    *BarDTO    `json:"bar,omitempty"`
	Ticker *TickerDTO `json:"ticker,omitempty"`
}

func ToBarDTO(b kline.Bar) *BarDTO {
	return &BarDTO{
		Market:   b.Market,
		Interval: b.TF,
		StartMs:  b.StartMs,
		EndMs:    b.EndMs,
		Open:     b.Open.String(),
		High:     b.High.String(),
		Low:      b.Low.String(),
		Close:    b.Close.String(),
		Volume:   b.Volume.String(),
		Count:    b.Count,
	}
}

func ToTickerDTO(ev engine.Event) *TickerDTO {
	return &TickerDTO{
		Market: ev.Market,
		Seq:    ev.Seq,
		Ts:     ev.Ts,
		Side:   ev.Side.String(),
		Price:  ev.Price.String(),
		Size:   ev.Size.String(),
	}
}

func encode(msg ServerMsg) ([]byte, error) {
	return json.Marshal(msg)
}

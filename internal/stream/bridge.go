package stream

import (
	"context"

	"go.uber.org/zap"
	"matchcore.com/internal/engine"
	"matchcore.com/internal/kline"
	"matchcore.com/internal/matching"
	"matchcore.com/pkg/logger"
)

const (
	TypeKline  = "kline"
	TypeTicker = "ticker"
)

// marketKey BTC/USD -> BTC-USD，topic 里不出现 "/"
func marketKey(market string) string {
	pair, err := engine.ParseTradingPair(market)
	if err != nil {
		return market
	}
	return pair.Key()
}

func TopicForBar(b kline.Bar) string {
	return TypeKline + ":" + b.TF + ":" + marketKey(b.Market)
}

func TickerTopic(market string) string {
	return TypeTicker + ":" + marketKey(market)
}

// Bridge 聚合器输出的 bar 转成 ws payload 推给 hub
func Bridge(h *Hub, b kline.Bar) {
	topic := TopicForBar(b)
	payload, err := encode(ServerMsg{Type: TypeKline, Topic: topic, Bar: ToBarDTO(b)})
	if err != nil {
		logger.Warn(context.Background(), "encode bar", zap.String("topic", topic), zap.Error(err))
		return
	}
	h.Publish(topic, payload)
}

// RunBridge 把 bars 全部转给 hub，bars 关闭后返回
func RunBridge(h *Hub, bars <-chan kline.Bar) {
	for b := range bars {
		Bridge(h, b)
	}
}

// TickerSink 每笔成交（taker 那条）推 ticker:<KEY>
type TickerSink struct {
	hub *Hub
}

func NewTickerSink(h *Hub) *TickerSink { return &TickerSink{hub: h} }

func (s *TickerSink) OnEvent(ev engine.Event) {
	if ev.Type != engine.EvExecution || ev.Liquidity != matching.Taker {
		return
	}
	topic := TickerTopic(ev.Market)
	payload, err := encode(ServerMsg{Type: TypeTicker, Topic: topic, Ticker: ToTickerDTO(ev)})
	if err != nil {
		logger.Warn(context.Background(), "encode ticker", zap.String("topic", topic), zap.Error(err))
		return
	}
	s.hub.Publish(topic, payload)
}

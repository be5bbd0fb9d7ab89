package broker

import (
	"context"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"matchcore.com/internal/engine"
	"matchcore.com/pkg/logger"
	"matchcore.com/pkg/metrics"
	"matchcore.com/pkg/ratelimit"
)

// EventMessage 对外的事件格式，type/side/liquidity 用字符串
type EventMessage struct {
	Type      string          `json:"type"`
	Market    string          `json:"market"`
	Seq       uint64          `json:"seq"`
	Idx       uint16          `json:"idx"`
	Ts        int64           `json:"ts"`
	ReqID     uint64          `json:"req_id,omitempty"`
	OrderID   uint64          `json:"order_id"`
	Side      string          `json:"side,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Liquidity string          `json:"liquidity,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

func NewEventMessage(ev engine.Event) EventMessage {
	m := EventMessage{
		Type:    ev.Type.String(),
		Market:  ev.Market,
		Seq:     ev.Seq,
		Idx:     ev.Idx,
		Ts:      ev.Ts,
		ReqID:   ev.ReqID,
		OrderID: ev.OrderID,
		Price:   ev.Price,
		Size:    ev.Size,
		Reason:  ev.Reason,
	}
	if ev.Type != engine.EvRejected {
		m.Side = ev.Side.String()
	}
	if ev.Type == engine.EvExecution {
		m.Liquidity = ev.Liquidity.String()
	}
	return m
}

// TopicFor 成交走 trades，其他订单事件走 orders
func TopicFor(ev engine.Event) (string, error) {
	pair, err := engine.ParseTradingPair(ev.Market)
	if err != nil {
		return "", err
	}
	if ev.Type == engine.EvExecution {
		return Topic(TopicTrades, pair.Key()), nil
	}
	return Topic(TopicOrders, pair.Key()), nil
}

// Sink 进程内的事件消费者（K 线、行情推送），OnEvent 不能阻塞
type Sink interface {
	OnEvent(ev engine.Event)
}

// Forwarder engine.Events() -> sinks + broker。broker 失败只记日志打点，不回压撮合；
// 每个 topic 一个熔断器，broker 连续失败时直接丢弃，不再逐条等超时
type Forwarder struct {
	name     string
	events   <-chan engine.Event
	broker   Broker
	sinks    []Sink
	breakers *ratelimit.Breakers
}

func NewForwarder(name string, events <-chan engine.Event, b Broker, sinks ...Sink) *Forwarder {
	return &Forwarder{name: name, events: events, broker: b, sinks: sinks,
		breakers: ratelimit.NewBreakers(ratelimit.BreakerRule{}, nil)}
}

// WithBreakers 替换默认熔断规则
func (f *Forwarder) WithBreakers(br *ratelimit.Breakers) *Forwarder {
	if br != nil {
		f.breakers = br
	}
	return f
}

func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-f.events:
			if !ok {
				return nil
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev engine.Event) {
	for _, s := range f.sinks {
		s.OnEvent(ev)
	}
	topic, err := TopicFor(ev)
	if err != nil {
		logger.Warn(ctx, "forward: bad market", zap.String("market", ev.Market), zap.Error(err))
		return
	}
	payload, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		metrics.BrokerPublishTotal.WithLabelValues(f.name, topic, "error").Inc()
		logger.Error(ctx, "forward: encode", zap.String("topic", topic), zap.Error(err))
		return
	}
	err = f.breakers.Do(topic, func() error { return f.broker.Publish(ctx, topic, payload) })
	if ratelimit.IsOpen(err) {
		metrics.BrokerPublishTotal.WithLabelValues(f.name, topic, "open").Inc()
		logger.Debug(ctx, "broker breaker open, dropped", zap.String("broker", f.name),
			zap.String("topic", topic), zap.Uint64("seq", ev.Seq))
		return
	}
	if err != nil {
		metrics.BrokerPublishTotal.WithLabelValues(f.name, topic, "error").Inc()
		logger.Warn(ctx, "broker publish failed", zap.String("broker", f.name),
			zap.String("topic", topic), zap.Uint64("seq", ev.Seq), zap.Error(err))
		return
	}
	metrics.BrokerPublishTotal.WithLabelValues(f.name, topic, "ok").Inc()
}

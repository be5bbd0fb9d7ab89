package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"matchcore.com/pkg/metrics"
)

// EventBus 撮合事件出口：有界 channel，Forwarder 等消费方从 C() 读。
// 两种写法：
//   - Offer 给撮合线程用（无 outbox 时），满了就丢，按 market 计数
//   - Deliver 给 outbox publisher 用，阻塞直到写入；丢了的事件可以从 outbox 重放
type EventBus struct {
	ch chan Event

	dropped  atomic.Uint64
	byMarket sync.Map // market -> *atomic.Uint64
}

func NewEventBus(size int) *EventBus {
	if size <= 0 {
		size = 1 << 16
	}
	return &EventBus{ch: make(chan Event, size)}
}

func (b *EventBus) Offer(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
	}
	b.dropped.Add(1)
	b.marketCounter(ev.Market).Add(1)
	metrics.EventsDroppedTotal.WithLabelValues(ev.Market).Inc()
	return false
}

func (b *EventBus) Deliver(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *EventBus) marketCounter(market string) *atomic.Uint64 {
	if c, ok := b.byMarket.Load(market); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := b.byMarket.LoadOrStore(market, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

func (b *EventBus) C() <-chan Event { return b.ch }

// Backlog 还没被消费的事件数
func (b *EventBus) Backlog() int { return len(b.ch) }

func (b *EventBus) Dropped() uint64 { return b.dropped.Load() }

// DroppedFor 某个 market 被丢掉的事件数
func (b *EventBus) DroppedFor(market string) uint64 {
	if c, ok := b.byMarket.Load(market); ok {
		return c.(*atomic.Uint64).Load()
	}
	return 0
}

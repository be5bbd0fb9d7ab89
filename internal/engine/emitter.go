package engine

import (
	"github.com/shopspring/decimal"
	"matchcore.com/internal/matching"
)

// eventBuilder 给同一条命令里的事件编号
type eventBuilder struct {
	market string
	seq    uint64
	ts     int64
	idx    uint16
}

func (b *eventBuilder) next(t EventType, reqID, orderID uint64) Event {
	ev := Event{Type: t, Market: b.market, Seq: b.seq, Idx: b.idx, Ts: b.ts, ReqID: reqID, OrderID: orderID}
	b.idx++
	return ev
}

func (b *eventBuilder) accepted(reqID, orderID uint64, side matching.Side) Event {
	ev := b.next(EvAccepted, reqID, orderID)
	ev.Side = side
	return ev
}

func (b *eventBuilder) rejected(reqID, orderID uint64, reason string) Event {
	ev := b.next(EvRejected, reqID, orderID)
	ev.Reason = reason
	return ev
}

func (b *eventBuilder) rested(reqID, orderID uint64, side matching.Side, price, size decimal.Decimal) Event {
	ev := b.next(EvRested, reqID, orderID)
	ev.Side, ev.Price, ev.Size = side, price, size
	return ev
}

func (b *eventBuilder) execution(reqID uint64, ex matching.Execution) Event {
	ev := b.next(EvExecution, reqID, ex.OrderID)
	ev.Side, ev.Price, ev.Size, ev.Liquidity = ex.Side, ex.Price, ex.Size, ex.Liquidity
	return ev
}

// outboxEmitter 事件写 outbox（持久化）。第一次写失败后记下错误，后面的事件不再写
type outboxEmitter struct {
	eventBuilder
	out Outbox
	err error
}

func newOutboxEmitter(out Outbox, market string, seq uint64, ts int64) *outboxEmitter {
	return &outboxEmitter{eventBuilder: eventBuilder{market: market, seq: seq, ts: ts}, out: out}
}

func (e *outboxEmitter) append(ev Event) {
	if e.err == nil {
		e.err = e.out.Append(ev)
	}
}

func (e *outboxEmitter) Accepted(reqID, orderID uint64, side matching.Side) {
	e.append(e.accepted(reqID, orderID, side))
}
func (e *outboxEmitter) Rejected(reqID, orderID uint64, reason string) {
	e.append(e.rejected(reqID, orderID, reason))
}
func (e *outboxEmitter) Rested(reqID, orderID uint64, side matching.Side, price, size decimal.Decimal) {
	e.append(e.rested(reqID, orderID, side, price, size))
}
func (e *outboxEmitter) Execution(reqID uint64, ex matching.Execution) {
	e.append(e.execution(reqID, ex))
}

// busEmitter 没开 outbox 时直接非阻塞推到 bus，满了就丢（计数）
type busEmitter struct {
	eventBuilder
	sink EventSink
}

func newBusEmitter(sink EventSink, market string, seq uint64, ts int64) *busEmitter {
	return &busEmitter{eventBuilder: eventBuilder{market: market, seq: seq, ts: ts}, sink: sink}
}

func (e *busEmitter) Accepted(reqID, orderID uint64, side matching.Side) {
	e.sink.Offer(e.accepted(reqID, orderID, side))
}
func (e *busEmitter) Rejected(reqID, orderID uint64, reason string) {
	e.sink.Offer(e.rejected(reqID, orderID, reason))
}
func (e *busEmitter) Rested(reqID, orderID uint64, side matching.Side, price, size decimal.Decimal) {
	e.sink.Offer(e.rested(reqID, orderID, side, price, size))
}
func (e *busEmitter) Execution(reqID uint64, ex matching.Execution) {
	e.sink.Offer(e.execution(reqID, ex))
}

// noopEmitter 回放已经发布过的命令：只重建簿，不对外 emit
type noopEmitter struct{}

func (noopEmitter) Accepted(uint64, uint64, matching.Side)                                {}
func (noopEmitter) Rejected(uint64, uint64, string)                                       {}
func (noopEmitter) Rested(uint64, uint64, matching.Side, decimal.Decimal, decimal.Decimal) {}
func (noopEmitter) Execution(uint64, matching.Execution)                                  {}

package engine

import (
	"github.com/shopspring/decimal"
	"matchcore.com/internal/matching"
)

// Book actor 需要的订单簿能力，*matching.OrderBook 直接满足
type Book interface {
	SubmitLimitOrder(price decimal.Decimal, order *matching.Order) ([]matching.Execution, error)
	FillMarketOrder(order *matching.Order) []matching.Execution
	Depth(limit int) matching.Depth
	Snapshot() matching.BookSnapshot
	Restore(snap matching.BookSnapshot) error
}

// Emitter 把撮合结果翻译成事件
type Emitter interface {
	Accepted(reqID, orderID uint64, side matching.Side)
	Rejected(reqID, orderID uint64, reason string)
	Rested(reqID, orderID uint64, side matching.Side, price, size decimal.Decimal)
	Execution(reqID uint64, ex matching.Execution)
}

// EventSink 撮合线程的事件出口，下游可能慢，只能非阻塞投递
type EventSink interface {
	Offer(ev Event) bool
}

type CmdCodec interface {
	Encode(dst []byte, seq uint64, cmd Command) ([]byte, error)
	Decode(payload []byte) (seq uint64, cmd Command, err error)
}

type EvCodec interface {
	Encode(dst []byte, ev Event) ([]byte, error)
	Decode(payload []byte) (Event, error)
}

// SnapshotStore 订单簿快照。seq 是快照覆盖到的最后一条命令
type SnapshotStore interface {
	Save(market string, seq uint64, snap matching.BookSnapshot) error
	Load(market string) (seq uint64, snap matching.BookSnapshot, ok bool, err error)
}

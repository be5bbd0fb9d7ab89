package matching

import "github.com/shopspring/decimal"

// PriceLevel 同一价格上的所有挂单，按到达顺序排队（时间优先）
type PriceLevel struct {
	price decimal.Decimal // 价格
	head  *lvNode         // 头部指针：最早到达
	tail  *lvNode         // 尾部指针
	size  int             // 桶里的订单数
}

// 双向链表节点
type lvNode struct {
	prev  *lvNode
	next  *lvNode
	order *Order
}

func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{price: price}
}

func (l *PriceLevel) Price() decimal.Decimal { return l.price }
func (l *PriceLevel) Len() int               { return l.size }
func (l *PriceLevel) Empty() bool            { return l.size == 0 }

// Add 无条件追加到队尾 => 天然满足 FIFO
func (l *PriceLevel) Add(order *Order) {
	l.pushBack(&lvNode{order: order})
}

// TotalVolume 所有挂单剩余数量之和，纯查询
func (l *PriceLevel) TotalVolume() decimal.Decimal {
	total := decimal.Zero
	for n := l.head; n != nil; n = n.next {
		total = total.Add(n.order.Size)
	}
	return total
}

// Orders 按到达顺序返回挂单的拷贝
func (l *PriceLevel) Orders() []Order {
	out := make([]Order, 0, l.size)
	for n := l.head; n != nil; n = n.next {
		out = append(out, *n.order)
	}
	return out
}

// Match 用 incoming 从头部开始吃这个桶。
// 每次成交量 = min(incoming, resident)，先发 taker 再发 maker；
// resident 吃完立刻摘链，incoming 吃完或桶空了就停。
func (l *PriceLevel) Match(incoming *Order) []Execution {
	var execs []Execution
	for !incoming.IsFilled() && !l.Empty() {
		mn := l.head
		maker := mn.order

		shares := decimal.Min(incoming.Size, maker.Size)
		execs = append(execs,
			newExecution(incoming, shares, l.price, Taker),
			newExecution(maker, shares, l.price, Maker),
		)

		// 两边都减去数量
		incoming.Size = incoming.Size.Sub(shares)
		maker.Size = maker.Size.Sub(shares)

		if maker.IsFilled() {
			l.remove(mn)
		}
	}
	return execs
}

func (l *PriceLevel) pushBack(n *lvNode) {
	n.prev, n.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = n
	} else {
		// 空链
		l.head = n
	}
	l.tail = n
	l.size++
}

func (l *PriceLevel) remove(n *lvNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	// 断开节点指针，避免误用
	n.prev, n.next, n.order = nil, nil, nil
	l.size--
}

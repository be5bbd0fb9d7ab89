package matching

import "github.com/shopspring/decimal"

// 进行撮合交易

// FillMarketOrder 市价单：不限价，按价格优先吃完对手盘或者自己吃满为止
func (b *OrderBook) FillMarketOrder(order *Order) []Execution {
	return b.fillOrder(order, decimal.Zero, false)
}

// FillLimitOrder 限价吃单：买单只吃 <= limit 的卖盘，卖单只吃 >= limit 的买盘。
// 不会把剩余挂到簿上。
func (b *OrderBook) FillLimitOrder(order *Order, limit decimal.Decimal) []Execution {
	return b.fillOrder(order, limit, true)
}

// SubmitLimitOrder 先按 limit 撮合，剩余部分以 limit 价挂单（变成 maker）。
// 调用之后簿不会出现交叉。
func (b *OrderBook) SubmitLimitOrder(price decimal.Decimal, order *Order) ([]Execution, error) {
	if err := ValidatePrice(price); err != nil {
		return nil, err
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	execs := b.fillOrder(order, price, true)
	if !order.IsFilled() {
		b.addResting(price, order)
	}
	return execs, nil
}

func (b *OrderBook) fillOrder(order *Order, limit decimal.Decimal, bounded bool) []Execution {
	// 已经吃满（或者数量非法）的单：不产生成交，也不改任何状态
	if order == nil || order.IsFilled() || !order.Side.Valid() {
		return nil
	}
	levels := b.candidateLevels(order.Side, limit, bounded)

	execs := make([]Execution, 0, 8)
	for _, lv := range levels {
		execs = append(execs, lv.Match(order)...)
		if lv.Empty() && b.prune {
			delete(b.side(order.Side.Opposite()), priceKey(lv.price))
		}
		if order.IsFilled() {
			break
		}
	}
	return execs
}

// candidateLevels 选出可以成交的对手盘档位并排好序：
// 买单 => 卖盘价格升序（先吃最便宜的）；卖单 => 买盘价格降序。
// 超出限价的档位直接不进入遍历。
func (b *OrderBook) candidateLevels(taker Side, limit decimal.Decimal, bounded bool) []*PriceLevel {
	opp := taker.Opposite()
	levels := b.side(opp)
	out := make([]*PriceLevel, 0, len(levels))
	for _, lv := range levels {
		if bounded && !acceptable(taker, lv.price, limit) {
			continue
		}
		out = append(out, lv)
	}
	sortLevels(out, opp)
	return out
}

func acceptable(taker Side, levelPrice, limit decimal.Decimal) bool {
	if taker == Bid {
		return levelPrice.LessThanOrEqual(limit)
	}
	return levelPrice.GreaterThanOrEqual(limit)
}

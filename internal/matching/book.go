package matching

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Option 订单簿配置
type Option func(*OrderBook)

// WithPruneEmptyLevels 撮合后是否删除空桶，默认删除
func WithPruneEmptyLevels(prune bool) Option {
	return func(b *OrderBook) { b.prune = prune }
}

// OrderBook 单个交易对的订单簿：买卖两边各一个 price -> level 的 map。
// 不是并发安全的，调用方（engine 的 actor）负责串行化。
type OrderBook struct {
	bids  map[string]*PriceLevel // 买盘：price key -> level
	asks  map[string]*PriceLevel // 卖盘：price key -> level
	prune bool
}

func NewOrderBook(opts ...Option) *OrderBook {
	b := &OrderBook{
		bids:  make(map[string]*PriceLevel, 1024),
		asks:  make(map[string]*PriceLevel, 1024),
		prune: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *OrderBook) side(s Side) map[string]*PriceLevel {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// AddLimitOrder 只挂单不撮合：按方向找到桶（没有就新建），追加到队尾。
// 需要立刻撮合的话调用方先走 Fill*，或者直接用 SubmitLimitOrder。
func (b *OrderBook) AddLimitOrder(price decimal.Decimal, order *Order) error {
	if err := ValidatePrice(price); err != nil {
		return err
	}
	if err := order.Validate(); err != nil {
		return err
	}
	b.addResting(price, order)
	return nil
}

func (b *OrderBook) addResting(price decimal.Decimal, order *Order) {
	levels := b.side(order.Side)
	key := priceKey(price)
	lv := levels[key]
	if lv == nil {
		lv = NewPriceLevel(price)
		levels[key] = lv
	}
	lv.Add(order)
}

// BestBid 最高买价
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	return bestPrice(b.bids, func(p, best decimal.Decimal) bool { return p.GreaterThan(best) })
}

// BestAsk 最低卖价
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	return bestPrice(b.asks, func(p, best decimal.Decimal) bool { return p.LessThan(best) })
}

func bestPrice(levels map[string]*PriceLevel, better func(p, best decimal.Decimal) bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, lv := range levels {
		if lv.Empty() {
			continue
		}
		if !found || better(lv.price, best) {
			best = lv.price
			found = true
		}
	}
	return best, found
}

// LevelCount 某一边的桶数量（包括未清理的空桶）
func (b *OrderBook) LevelCount(s Side) int {
	return len(b.side(s))
}

// LevelView 深度里的一档
type LevelView struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Orders int             `json:"orders"`
}

// Depth 买卖盘口，最优价在前
type Depth struct {
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

// Depth limit <= 0 表示全部档位；空桶不输出
func (b *OrderBook) Depth(limit int) Depth {
	return Depth{
		Bids: levelViews(b.sortedLevels(Bid), limit),
		Asks: levelViews(b.sortedLevels(Ask), limit),
	}
}

func levelViews(levels []*PriceLevel, limit int) []LevelView {
	out := make([]LevelView, 0, len(levels))
	for _, lv := range levels {
		if lv.Empty() {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, LevelView{Price: lv.price, Volume: lv.TotalVolume(), Orders: lv.Len()})
	}
	return out
}

// sortedLevels 买盘价格降序，卖盘价格升序
func (b *OrderBook) sortedLevels(s Side) []*PriceLevel {
	levels := b.side(s)
	out := make([]*PriceLevel, 0, len(levels))
	for _, lv := range levels {
		out = append(out, lv)
	}
	sortLevels(out, s)
	return out
}

func sortLevels(levels []*PriceLevel, s Side) {
	if s == Bid {
		slices.SortFunc(levels, func(a, c *PriceLevel) int { return c.price.Cmp(a.price) })
		return
	}
	slices.SortFunc(levels, func(a, c *PriceLevel) int { return a.price.Cmp(c.price) })
}

// OrderSnapshot / LevelSnapshot / BookSnapshot 用于持久化和恢复
type OrderSnapshot struct {
	ID   uint64          `json:"id"`
	Size decimal.Decimal `json:"size"`
}

type LevelSnapshot struct {
	Price  decimal.Decimal `json:"price"`
	Orders []OrderSnapshot `json:"orders"`
}

type BookSnapshot struct {
	Bids []LevelSnapshot `json:"bids"`
	Asks []LevelSnapshot `json:"asks"`
}

// Snapshot 档位有序（买降卖升），档内保持 FIFO；空桶不导出
func (b *OrderBook) Snapshot() BookSnapshot {
	return BookSnapshot{
		Bids: levelSnapshots(b.sortedLevels(Bid)),
		Asks: levelSnapshots(b.sortedLevels(Ask)),
	}
}

func levelSnapshots(levels []*PriceLevel) []LevelSnapshot {
	out := make([]LevelSnapshot, 0, len(levels))
	for _, lv := range levels {
		if lv.Empty() {
			continue
		}
		ls := LevelSnapshot{Price: lv.price, Orders: make([]OrderSnapshot, 0, lv.Len())}
		for _, o := range lv.Orders() {
			ls.Orders = append(ls.Orders, OrderSnapshot{ID: o.ID, Size: o.Size})
		}
		out = append(out, ls)
	}
	return out
}

// Restore 用快照替换当前簿内容
func (b *OrderBook) Restore(snap BookSnapshot) error {
	bids := make(map[string]*PriceLevel, len(snap.Bids))
	asks := make(map[string]*PriceLevel, len(snap.Asks))
	if err := restoreSide(bids, Bid, snap.Bids); err != nil {
		return err
	}
	if err := restoreSide(asks, Ask, snap.Asks); err != nil {
		return err
	}
	b.bids, b.asks = bids, asks
	return nil
}

func restoreSide(dst map[string]*PriceLevel, s Side, levels []LevelSnapshot) error {
	for _, ls := range levels {
		if err := ValidatePrice(ls.Price); err != nil {
			return fmt.Errorf("restore %s level: %w", s, err)
		}
		key := priceKey(ls.Price)
		lv := dst[key]
		if lv == nil {
			lv = NewPriceLevel(ls.Price)
			dst[key] = lv
		}
		for _, snap := range ls.Orders {
			o := NewOrder(snap.ID, s, snap.Size)
			if err := o.Validate(); err != nil {
				return fmt.Errorf("restore %s level %s: %w", s, ls.Price, err)
			}
			lv.Add(o)
		}
	}
	return nil
}

package matching

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 定义数据结构

// Side 买卖方向
type Side uint8

const (
	Bid Side = iota + 1 // 买
	Ask                 // 卖
)

func (s Side) Valid() bool { return s == Bid || s == Ask }

// Opposite 对手盘方向
func (s Side) Opposite() Side {
	switch s {
	case Bid:
		return Ask
	case Ask:
		return Bid
	default:
		return 0
	}
}

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide 接受 bid/buy 和 ask/sell，大小写不敏感
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Liquidity 成交中的角色：主动吃单 or 被动挂单
type Liquidity uint8

const (
	Taker Liquidity = iota + 1
	Maker
)

func (l Liquidity) String() string {
	switch l {
	case Taker:
		return "taker"
	case Maker:
		return "maker"
	default:
		return fmt.Sprintf("liquidity(%d)", uint8(l))
	}
}

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrInvalidPrice = errors.New("invalid price")
	ErrInvalidSide  = errors.New("invalid side")
)

// Order 订单。Size 是剩余可成交数量，只会减少
type Order struct {
	ID   uint64 // 调用方分配
	Side Side
	Size decimal.Decimal
}

func NewOrder(id uint64, side Side, size decimal.Decimal) *Order {
	return &Order{ID: id, Side: side, Size: size}
}

// IsFilled 精确比较，decimal 减法不会有浮点残差
func (o *Order) IsFilled() bool {
	return !o.Size.IsPositive()
}

// Validate 入簿之前的校验：方向合法、数量严格为正
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: order %d has %s", ErrInvalidOrder, o.ID, o.Side)
	}
	if err := ValidateSize(o.Size); err != nil {
		return fmt.Errorf("order %d: %w", o.ID, err)
	}
	return nil
}

// Execution 一次成交的不可变记录；每次撮合产生两条（taker 一条，maker 一条）
type Execution struct {
	OrderID   uint64          `json:"order_id"`
	Side      Side            `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Liquidity Liquidity       `json:"liquidity"`
}

func newExecution(o *Order, size, price decimal.Decimal, liq Liquidity) Execution {
	return Execution{
		OrderID:   o.ID,
		Side:      o.Side,
		Size:      size,
		Price:     price,
		Liquidity: liq,
	}
}

// 数值范围：整数部分最多 MaxIntDigits 位，小数最多 MaxScale 位
const (
	MaxIntDigits = 30
	MaxScale     = 18
)

var errOutOfRange = errors.New("decimal out of range")

// CheckMagnitude 只看指数和有效位数，不调 String()：1e70000 这种写法展开有几十 KB
func CheckMagnitude(v decimal.Decimal) error {
	exp := int64(v.Exponent())
	if exp < -MaxScale {
		return fmt.Errorf("%w: more than %d decimal places", errOutOfRange, MaxScale)
	}
	if int64(v.NumDigits())+exp > MaxIntDigits {
		return fmt.Errorf("%w: more than %d integer digits", errOutOfRange, MaxIntDigits)
	}
	return nil
}

// ValidatePrice 价格必须严格为正且在范围内
func ValidatePrice(price decimal.Decimal) error {
	if err := CheckMagnitude(price); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPrice, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidPrice, price)
	}
	return nil
}

// ValidateSize 数量必须严格为正且在范围内
func ValidateSize(size decimal.Decimal) error {
	if err := CheckMagnitude(size); err != nil {
		return fmt.Errorf("%w: size %w", ErrInvalidOrder, err)
	}
	if !size.IsPositive() {
		return fmt.Errorf("%w: size %s must be positive", ErrInvalidOrder, size)
	}
	return nil
}

// priceKey 价格的规范化 key：String() 会去掉末尾的 0，
// 所以 100 / 100.0 / 1e2 落在同一个桶里
func priceKey(price decimal.Decimal) string {
	return price.String()
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"matchcore.com/internal/matching"
	"matchcore.com/pkg/logger"
	"matchcore.com/pkg/safe"
)

// BookFactory 每个新 market 创建一个空簿
type BookFactory func(pair TradingPair) (Book, error)

// DefaultBookFactory 默认撮合簿，空档位撮合后清理
func DefaultBookFactory(TradingPair) (Book, error) {
	return matching.NewOrderBook(), nil
}

type Config struct {
	EventBusSize    int
	Actor           ActorConfig
	BookFactory     BookFactory
	WALDir          string
	EnableCmdWAL    bool
	WALBufSize      int
	EnableOutbox    bool
	OutboxBufSize   int
	EnablePublisher bool          // tail outbox 推到 bus，需要 EnableOutbox
	PublisherPoll   time.Duration // publisher 没收到通知时的轮询间隔
	CmdCodec        CmdCodec
	EvCodec         EvCodec
	Snapshots       SnapshotStore // nil 不做快照
	Bus             *EventBus     // nil 则按 EventBusSize 新建
}

// Engine market 注册表：交易对 -> actor。查找走读锁，注册走写锁
type Engine struct {
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	markets map[TradingPair]*MarketActor
	bus     *EventBus
	cfg     Config
	wg      sync.WaitGroup
	stop    sync.Once
}

func NewEngine(cfg Config) *Engine {
	if cfg.BookFactory == nil {
		cfg.BookFactory = DefaultBookFactory
	}
	if cfg.CmdCodec == nil {
		cfg.CmdCodec = BinaryCmdCodec{}
	}
	if cfg.EvCodec == nil {
		cfg.EvCodec = BinaryEvCodec{}
	}
	if cfg.Bus == nil {
		cfg.Bus = NewEventBus(cfg.EventBusSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		ctx:     ctx,
		cancel:  cancel,
		markets: make(map[TradingPair]*MarketActor, 16),
		bus:     cfg.Bus,
		cfg:     cfg,
	}
}

// Events 已发布的事件（开了 outbox 时由 publisher 按顺序投递）
func (e *Engine) Events() <-chan Event { return e.bus.C() }

// DroppedEvents 非阻塞发布时因 bus 满而丢掉的事件数
func (e *Engine) DroppedEvents() uint64 { return e.bus.Dropped() }

// AddNewMarket 注册一个交易对：恢复快照和 WAL 之后启动 actor。重复注册返回 ErrMarketExists
func (e *Engine) AddNewMarket(pair TradingPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}
	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Stop 持锁 cancel，这里在锁内再看一次，wg.Add 不会和 wg.Wait 交错
	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}
	if _, ok := e.markets[pair]; ok {
		return fmt.Errorf("%w: %s", ErrMarketExists, pair)
	}

	a, evPath, err := e.openMarket(pair)
	if err != nil {
		return fmt.Errorf("open market %s: %w", pair, err)
	}
	e.markets[pair] = a

	e.wg.Add(1)
	safe.GoNamed("actor:"+pair.String(), func() {
		defer e.wg.Done()
		a.Run(e.ctx)
	})

	// publisher：tail ev.wal，读到事件就发布到 bus；读到 EvCmdEnd 就推进 cursor
	if e.cfg.EnablePublisher && a.outbox != nil {
		pub := NewOutboxPublisher(e.ctx, pair.String(), e.bus, evPath, outboxCursorPath(e.cfg.WALDir, pair),
			a.pubNotify, e.cfg.PublisherPoll, e.cfg.EvCodec)
		e.wg.Add(1)
		safe.GoNamed("publisher:"+pair.String(), func() {
			defer e.wg.Done()
			pub.Run()
		})
	}

	logger.Info(e.ctx, "market added", zap.String("market", pair.String()), zap.Uint64("seq", a.Seq()))
	return nil
}

func (e *Engine) lookup(pair TradingPair) (*MarketActor, error) {
	if e.ctx.Err() != nil {
		return nil, ErrEngineStopped
	}
	e.mu.RLock()
	a := e.markets[pair]
	e.mu.RUnlock()
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, pair)
	}
	return a, nil
}

// Markets 已注册的交易对，按字符串排序
func (e *Engine) Markets() []TradingPair {
	e.mu.RLock()
	out := make([]TradingPair, 0, len(e.markets))
	for p := range e.markets {
		out = append(out, p)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// PlaceLimitOrder 先按价格撮合，剩余部分以 price 挂单。
// 未注册的交易对返回 ErrMarketNotFound，任何簿都不会被修改。
// ctx 超时只是不再等结果：命令已经进了 mailbox，仍然会被执行。
// 返回后 order.Size 是剩余数量（和直接调用簿的语义一致）
func (e *Engine) PlaceLimitOrder(ctx context.Context, pair TradingPair, price decimal.Decimal, order *matching.Order) (Report, error) {
	a, err := e.lookup(pair)
	if err != nil {
		return Report{}, err
	}
	if err := matching.ValidatePrice(price); err != nil {
		return Report{}, fmt.Errorf("%w: %w", matching.ErrInvalidOrder, err)
	}
	if err := order.Validate(); err != nil {
		return Report{}, err
	}
	cmd := Command{Type: CmdPlaceLimit, OrderID: order.ID, Side: order.Side, Price: price, Size: order.Size}
	rep, err := e.call(ctx, a, cmd)
	if err == nil {
		order.Size = rep.Remaining
	}
	return rep, err
}

// PlaceMarketOrder 吃到对手盘为空或者吃满为止，剩余不挂单
func (e *Engine) PlaceMarketOrder(ctx context.Context, pair TradingPair, order *matching.Order) (Report, error) {
	a, err := e.lookup(pair)
	if err != nil {
		return Report{}, err
	}
	if err := order.Validate(); err != nil {
		return Report{}, err
	}
	cmd := Command{Type: CmdPlaceMarket, OrderID: order.ID, Side: order.Side, Size: order.Size}
	rep, err := e.call(ctx, a, cmd)
	if err == nil {
		order.Size = rep.Remaining
	}
	return rep, err
}

func (e *Engine) call(ctx context.Context, a *MarketActor, cmd Command) (Report, error) {
	cmd.ClientTs = time.Now().UnixNano()
	cmd.reply = make(chan Report, 1)
	if err := a.TryEnqueue(cmd); err != nil {
		return Report{}, err
	}
	select {
	case rep := <-cmd.reply:
		return rep, nil
	case <-a.done:
		// 可能正好在退出前处理完
		select {
		case rep := <-cmd.reply:
			return rep, nil
		default:
		}
		if err := a.Err(); err != nil {
			return Report{}, fmt.Errorf("%w: %w", ErrEngineStopped, err)
		}
		return Report{}, ErrEngineStopped
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// TrySubmit 入队即返回，结果只通过事件给出
func (e *Engine) TrySubmit(pair TradingPair, cmd Command) error {
	if cmd.Type != CmdPlaceLimit && cmd.Type != CmdPlaceMarket {
		return ErrBadCommand
	}
	a, err := e.lookup(pair)
	if err != nil {
		return err
	}
	cmd.reply = nil
	if cmd.ClientTs == 0 {
		cmd.ClientTs = time.Now().UnixNano()
	}
	return a.TryEnqueue(cmd)
}

// Depth limit <= 0 返回全部档位
func (e *Engine) Depth(ctx context.Context, pair TradingPair, limit int) (matching.Depth, error) {
	a, err := e.lookup(pair)
	if err != nil {
		return matching.Depth{}, err
	}
	return a.Depth(ctx, limit)
}

// Stop 停掉所有 actor 和 publisher，等它们把 WAL 关掉再返回
func (e *Engine) Stop() {
	e.stop.Do(func() {
		e.mu.Lock()
		e.cancel()
		e.mu.Unlock()
		e.wg.Wait()
		logger.Info(context.Background(), "engine stopped")
	})
}

package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"matchcore.com/internal/matching"
	"matchcore.com/pkg/logger"
	"matchcore.com/pkg/metrics"
)

const tracerName = "matchcore.com/internal/engine"

type ActorConfig struct {
	MailboxSize   int    // mailbox 容量，满了直接 ErrEngineBusy
	BatchMax      int    // 一轮最多处理多少条命令
	SnapshotEvery uint64 // 每多少条命令存一次快照，0 不存
}

type walWriter interface {
	Append(payload []byte) error
	Flush() error
	Close() error
}

type depthQuery struct {
	limit int
	reply chan matching.Depth
}

// MarketActor 一个 market 一个协程：所有对订单簿的读写都在 Run 里串行执行
type MarketActor struct {
	pair   TradingPair
	market string
	book   Book
	in     chan Command
	query  chan depthQuery
	cfg    ActorConfig

	seq         uint64
	lastSnapSeq uint64

	wal       walWriter // cmd.wal，nil 表示不开
	outbox    Outbox    // ev.wal，nil 表示直接推 bus
	bus       EventSink
	pubNotify chan struct{} // buffered=1，outbox flush 之后踢一脚 publisher
	cmdCodec  CmdCodec
	snapshots SnapshotStore

	mailboxFull uint64
	done        chan struct{}
	err         atomic.Value // 致命错误，actor 退出原因

	m actorMetrics
}

type actorMetrics struct {
	mailboxFull prometheus.Counter
	executions  prometheus.Counter
	volume      prometheus.Counter
	batchSize   prometheus.Observer
	apply       prometheus.Observer
	snapOK      prometheus.Counter
	snapErr     prometheus.Counter
}

func newActorMetrics(market string) actorMetrics {
	return actorMetrics{
		mailboxFull: metrics.MailboxFullTotal.WithLabelValues(market),
		executions:  metrics.ExecutionsTotal.WithLabelValues(market),
		volume:      metrics.ExecutedVolume.WithLabelValues(market),
		batchSize:   metrics.BatchSize.WithLabelValues(market),
		apply:       metrics.ApplyDuration.WithLabelValues(market),
		snapOK:      metrics.SnapshotsTotal.WithLabelValues(market, "ok"),
		snapErr:     metrics.SnapshotsTotal.WithLabelValues(market, "error"),
	}
}

func NewMarketActor(pair TradingPair, book Book, cfg ActorConfig, wal walWriter, ob Outbox, bus EventSink,
	pubNotify chan struct{}, cmdCodec CmdCodec) *MarketActor {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 4096
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 256
	}
	if pubNotify == nil {
		pubNotify = make(chan struct{}, 1)
	}
	if cmdCodec == nil {
		cmdCodec = BinaryCmdCodec{}
	}
	market := pair.String()
	return &MarketActor{
		pair:      pair,
		market:    market,
		book:      book,
		in:        make(chan Command, cfg.MailboxSize),
		query:     make(chan depthQuery),
		cfg:       cfg,
		wal:       wal,
		outbox:    ob,
		bus:       bus,
		pubNotify: pubNotify,
		cmdCodec:  cmdCodec,
		done:      make(chan struct{}),
		m:         newActorMetrics(market),
	}
}

func (a *MarketActor) Pair() TradingPair { return a.pair }
func (a *MarketActor) Seq() uint64       { return atomic.LoadUint64(&a.seq) }

// TryEnqueue 非阻塞：channel 满了直接走 default，用 mailbox 容量做背压
func (a *MarketActor) TryEnqueue(cmd Command) error {
	select {
	case <-a.done:
		return ErrEngineStopped
	default:
	}
	select {
	case a.in <- cmd:
		return nil
	default:
		atomic.AddUint64(&a.mailboxFull, 1)
		a.m.mailboxFull.Inc()
		return ErrEngineBusy
	}
}

func (a *MarketActor) MailboxFull() uint64 { return atomic.LoadUint64(&a.mailboxFull) }

// Err actor 因为持久化失败退出时的原因
func (a *MarketActor) Err() error {
	if v := a.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Depth 查询也排进 actor 串行执行，不进 WAL
func (a *MarketActor) Depth(ctx context.Context, limit int) (matching.Depth, error) {
	if err := ctx.Err(); err != nil {
		return matching.Depth{}, err
	}
	q := depthQuery{limit: limit, reply: make(chan matching.Depth, 1)}
	select {
	case a.query <- q:
	case <-a.done:
		return matching.Depth{}, ErrEngineStopped
	case <-ctx.Done():
		return matching.Depth{}, ctx.Err()
	}
	select {
	case d := <-q.reply:
		return d, nil
	case <-a.done:
		return matching.Depth{}, ErrEngineStopped
	case <-ctx.Done():
		return matching.Depth{}, ctx.Err()
	}
}

func (a *MarketActor) Run(ctx context.Context) {
	defer close(a.done)
	if a.wal != nil {
		defer a.wal.Close()
	}
	if a.outbox != nil {
		defer a.outbox.Close()
	}

	// batch 复用，避免每轮分配
	batch := make([]Command, 0, a.cfg.BatchMax)
	for {
		var first Command
		// 先阻塞拿 1 条，再尽量多拿（不阻塞）
		select {
		case <-ctx.Done():
			return
		case q := <-a.query:
			q.reply <- a.book.Depth(q.limit)
			continue
		case first = <-a.in:
		}

		batch = batch[:0]
		batch = append(batch, first)
	drain:
		for len(batch) < a.cfg.BatchMax {
			select {
			case cmd := <-a.in:
				batch = append(batch, cmd)
			default:
				break drain
			}
		}

		if err := a.process(batch); err != nil {
			a.err.Store(err)
			logger.Error(ctx, "market actor stopped", zap.String("market", a.market),
				zap.Uint64("seq", a.seq), zap.Error(err))
			return
		}
	}
}

type pendingReply struct {
	ch  chan Report
	rep Report
}

// process 两段式：
//
//	Phase 1: 命令全部写 cmd.wal，flush 一次（组提交）。失败的话整批都不 apply
//	Phase 2: 逐条 apply，事件写 outbox，每条命令末尾写 EvCmdEnd；最后 flush 一次再回复调用方
func (a *MarketActor) process(batch []Command) (err error) {
	start := time.Now()
	a.m.batchSize.Observe(float64(len(batch)))
	ctx, span := otel.Tracer(tracerName).Start(context.Background(), "market.process",
		trace.WithAttributes(attribute.String("market", a.market), attribute.Int("batch", len(batch))))
	defer func() {
		span.SetAttributes(attribute.Int64("seq", int64(a.Seq())))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	base := a.seq
	for i := range batch {
		batch[i] = boundCommand(batch[i])
	}
	if a.wal != nil {
		var rec [128]byte
		for i := range batch {
			payload, err := a.cmdCodec.Encode(rec[:0], base+uint64(i)+1, batch[i])
			if err != nil {
				// 单条命令编码失败只拒这一条：清空数值字段重新编码，apply 时按 invalid_size 拒单
				logger.Warn(ctx, "encode cmd failed, rejecting",
					zap.String("market", a.market), zap.Uint64("order_id", batch[i].OrderID), zap.Error(err))
				batch[i].Price, batch[i].Size = decimal.Zero, decimal.Zero
				if payload, err = a.cmdCodec.Encode(rec[:0], base+uint64(i)+1, batch[i]); err != nil {
					return fmt.Errorf("encode cmd: %w", err)
				}
			}
			if err := a.wal.Append(payload); err != nil {
				return fmt.Errorf("cmd wal append: %w", err)
			}
		}
		if err := a.wal.Flush(); err != nil {
			return fmt.Errorf("cmd wal flush: %w", err)
		}
	}

	replies := make([]pendingReply, 0, len(batch))
	for i := range batch {
		cmd := batch[i]
		seq := base + uint64(i) + 1
		atomic.StoreUint64(&a.seq, seq)

		var emit Emitter
		var obEm *outboxEmitter
		switch {
		case a.outbox != nil:
			obEm = newOutboxEmitter(a.outbox, a.market, seq, cmd.ClientTs)
			emit = obEm
		case a.bus != nil:
			emit = newBusEmitter(a.bus, a.market, seq, cmd.ClientTs)
		default:
			emit = noopEmitter{}
		}

		rep := applyCommand(a.book, cmd, emit)
		rep.Seq = seq
		a.observe(cmd, rep)

		// outbox 写失败：停下来，重启后靠 cmd.wal 补齐 outbox
		if obEm != nil && obEm.err != nil {
			return fmt.Errorf("outbox append: %w", obEm.err)
		}
		if a.outbox != nil {
			if err := a.outbox.AppendCmdEnd(seq); err != nil {
				return fmt.Errorf("outbox cmd end: %w", err)
			}
		}
		if cmd.reply != nil {
			replies = append(replies, pendingReply{ch: cmd.reply, rep: rep})
		}
	}

	if a.outbox != nil {
		if err := a.outbox.Flush(); err != nil {
			return fmt.Errorf("outbox flush: %w", err)
		}
		select {
		case a.pubNotify <- struct{}{}:
		default:
		}
	}

	// reply 都是 buffered=1，不会阻塞
	for _, r := range replies {
		r.ch <- r.rep
	}
	a.m.apply.Observe(time.Since(start).Seconds())

	a.maybeSnapshot()
	return nil
}

func (a *MarketActor) observe(cmd Command, rep Report) {
	metrics.CommandsTotal.WithLabelValues(a.market, cmd.Type.String()).Inc()
	if rep.Rejected != "" {
		metrics.RejectsTotal.WithLabelValues(a.market, rep.Rejected).Inc()
		return
	}
	if n := len(rep.Executions); n > 0 {
		a.m.executions.Add(float64(n))
		a.m.volume.Add(cmd.Size.Sub(rep.Remaining).InexactFloat64())
	}
}

// maybeSnapshot 快照失败不致命：cmd.wal 还在，下次重启多回放一些而已
func (a *MarketActor) maybeSnapshot() {
	if a.snapshots == nil || a.cfg.SnapshotEvery == 0 || a.seq-a.lastSnapSeq < a.cfg.SnapshotEvery {
		return
	}
	if err := a.snapshots.Save(a.market, a.seq, a.book.Snapshot()); err != nil {
		a.m.snapErr.Inc()
		logger.Warn(context.Background(), "save snapshot failed",
			zap.String("market", a.market), zap.Uint64("seq", a.seq), zap.Error(err))
		return
	}
	a.m.snapOK.Inc()
	a.lastSnapSeq = a.seq
}

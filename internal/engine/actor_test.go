package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"matchcore.com/internal/matching"
)

func TestActor_BatchEventsAndBoundaries(t *testing.T) {
	ob := &memOutbox{}
	book := matching.NewOrderBook()
	a := NewMarketActor(btcusd, book, ActorConfig{}, nil, ob, nil, nil, nil)

	// actor 启动前先塞满，保证同一批处理
	first := withReply(limitCmd(1, matching.Ask, "100", "1"))
	second := withReply(limitCmd(2, matching.Bid, "101", "3"))
	require.NoError(t, a.TryEnqueue(first))
	require.NoError(t, a.TryEnqueue(second))
	startActor(t, a)

	r1 := waitReply(t, first.reply)
	r2 := waitReply(t, second.reply)
	assert.Equal(t, uint64(1), r1.Seq)
	assert.True(t, r1.Rested)
	assert.Equal(t, uint64(2), r2.Seq)
	require.Len(t, r2.Executions, 2)
	assert.True(t, r2.Remaining.Equal(d("2")))
	assert.True(t, r2.Rested)

	evs := ob.snapshot()
	types := make([]EventType, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{
		EvAccepted, EvRested, EvCmdEnd,
		EvAccepted, EvExecution, EvExecution, EvRested, EvCmdEnd,
	}, types)

	// 同一条命令内 idx 连续，seq 相同
	for i, ev := range evs[3:7] {
		assert.Equal(t, uint64(2), ev.Seq)
		assert.Equal(t, uint16(i), ev.Idx)
		assert.Equal(t, "BTC/USD", ev.Market)
	}
	assert.Equal(t, matching.Taker, evs[4].Liquidity)
	assert.Equal(t, matching.Maker, evs[5].Liquidity)
	assert.Equal(t, uint64(1), evs[5].OrderID)
	assert.Equal(t, 1, ob.flushes, "one outbox flush per batch")
	assert.Equal(t, uint64(2), a.Seq())
}

func TestActor_RejectsInvalidCommand(t *testing.T) {
	ob := &memOutbox{}
	a := NewMarketActor(btcusd, matching.NewOrderBook(), ActorConfig{}, nil, ob, nil, nil, nil)
	startActor(t, a)

	cmd := withReply(limitCmd(7, matching.Bid, "0", "1"))
	require.NoError(t, a.TryEnqueue(cmd))
	rep := waitReply(t, cmd.reply)
	assert.Equal(t, ReasonInvalidPrice, rep.Rejected)

	evs := ob.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, EvRejected, evs[0].Type)
	assert.Equal(t, ReasonInvalidPrice, evs[0].Reason)
	assert.Equal(t, EvCmdEnd, evs[1].Type)
}

func TestActor_WalAppendFail_NotApplied(t *testing.T) {
	book := matching.NewOrderBook()
	w := &failingWal{failAfter: 1}
	a := NewMarketActor(btcusd, book, ActorConfig{}, w, &memOutbox{}, nil, nil, nil)
	startActor(t, a)

	require.NoError(t, a.TryEnqueue(withReply(limitCmd(1, matching.Bid, "100", "1"))))
	waitDone(t, a)

	assert.Error(t, a.Err())
	_, ok := book.BestBid()
	assert.False(t, ok, "command must not be applied when wal append fails")
	assert.ErrorIs(t, a.TryEnqueue(limitCmd(2, matching.Bid, "100", "1")), ErrEngineStopped)
}

func TestActor_WalFlushFail_NotApplied(t *testing.T) {
	book := matching.NewOrderBook()
	w := &failingWal{failFlush: true}
	a := NewMarketActor(btcusd, book, ActorConfig{}, w, &memOutbox{}, nil, nil, nil)
	startActor(t, a)

	require.NoError(t, a.TryEnqueue(limitCmd(1, matching.Bid, "100", "1")))
	waitDone(t, a)

	assert.Error(t, a.Err())
	assert.Equal(t, int32(1), w.appendN)
	_, ok := book.BestBid()
	assert.False(t, ok)
}

func TestActor_OutboxFail_Stops(t *testing.T) {
	book := matching.NewOrderBook()
	a := NewMarketActor(btcusd, book, ActorConfig{}, &failingWal{}, &failingOutbox{failAppend: true}, nil, nil, nil)
	startActor(t, a)

	cmd := withReply(limitCmd(1, matching.Bid, "100", "1"))
	require.NoError(t, a.TryEnqueue(cmd))
	waitDone(t, a)

	assert.Error(t, a.Err())
	// 已经写进 cmd.wal 并 apply 了，只是不回复；重启后由 WAL 补齐事件
	select {
	case <-cmd.reply:
		t.Fatal("no reply expected after outbox failure")
	default:
	}
}

func TestActor_MailboxFull(t *testing.T) {
	a := NewMarketActor(btcusd, matching.NewOrderBook(), ActorConfig{MailboxSize: 1}, nil, nil, nil, nil, nil)
	require.NoError(t, a.TryEnqueue(limitCmd(1, matching.Bid, "1", "1")))
	assert.ErrorIs(t, a.TryEnqueue(limitCmd(2, matching.Bid, "1", "1")), ErrEngineBusy)
	assert.Equal(t, uint64(1), a.MailboxFull())
}

func TestActor_DepthQuery(t *testing.T) {
	a := NewMarketActor(btcusd, matching.NewOrderBook(), ActorConfig{}, nil, nil, NewEventBus(16), nil, nil)
	startActor(t, a)

	cmd := withReply(limitCmd(1, matching.Ask, "100.50", "2"))
	require.NoError(t, a.TryEnqueue(cmd))
	waitReply(t, cmd.reply)

	depth, err := a.Depth(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, depth.Asks, 1)
	assert.True(t, depth.Asks[0].Price.Equal(d("100.5")))
	assert.Empty(t, depth.Bids)
}

func TestActor_BusEmitterWithoutOutbox(t *testing.T) {
	bus := NewEventBus(16)
	a := NewMarketActor(btcusd, matching.NewOrderBook(), ActorConfig{}, nil, nil, bus, nil, nil)
	startActor(t, a)

	require.NoError(t, a.TryEnqueue(limitCmd(1, matching.Ask, "10", "1")))
	ev := <-bus.C()
	assert.Equal(t, EvAccepted, ev.Type)
	ev = <-bus.C()
	assert.Equal(t, EvRested, ev.Type)
	assert.True(t, ev.Size.Equal(d("1")))
}

func TestActor_SnapshotEvery(t *testing.T) {
	snaps := newMemSnapshots()
	a := NewMarketActor(btcusd, matching.NewOrderBook(), ActorConfig{SnapshotEvery: 2}, nil, nil, nil, nil, nil)
	a.snapshots = snaps
	startActor(t, a)

	var last Command
	for i := uint64(1); i <= 4; i++ {
		last = withReply(limitCmd(i, matching.Bid, "10", "1"))
		require.NoError(t, a.TryEnqueue(last))
		waitReply(t, last.reply)
	}
	// reply 在快照之前发出，用一次深度查询等这一轮处理完
	_, err := a.Depth(context.Background(), 1)
	require.NoError(t, err)

	seq, snap, ok, err := snaps.Load("BTC/USD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(4), seq)
	require.Len(t, snap.Bids, 1)
	assert.Len(t, snap.Bids[0].Orders, 4)
}

// flakyCmdCodec 对指定订单的第一次编码报错
type flakyCmdCodec struct {
	BinaryCmdCodec
	failOrder uint64
	failed    bool
}

func (c *flakyCmdCodec) Encode(dst []byte, seq uint64, cmd Command) ([]byte, error) {
	if cmd.OrderID == c.failOrder && !c.failed {
		c.failed = true
		return nil, ErrFieldTooLong
	}
	return c.BinaryCmdCodec.Encode(dst, seq, cmd)
}

func TestActor_EncodeFailRejectsOnlyThatCommand(t *testing.T) {
	book := matching.NewOrderBook()
	ob := &memOutbox{}
	codec := &flakyCmdCodec{failOrder: 2}
	a := NewMarketActor(btcusd, book, ActorConfig{}, &failingWal{}, ob, nil, nil, codec)
	startActor(t, a)

	bad := withReply(limitCmd(2, matching.Ask, "100", "1"))
	require.NoError(t, a.TryEnqueue(bad))
	assert.Equal(t, ReasonInvalidSize, waitReply(t, bad.reply).Rejected)

	good := withReply(limitCmd(3, matching.Ask, "100", "1"))
	require.NoError(t, a.TryEnqueue(good))
	rep := waitReply(t, good.reply)
	assert.Empty(t, rep.Rejected)
	assert.NoError(t, a.Err())

	best, ok := book.BestAsk()
	require.True(t, ok)
	assert.True(t, best.Equal(d("100")))
}

func TestActor_OutOfRangeDecimalsRejected(t *testing.T) {
	ob := &memOutbox{}
	a := NewMarketActor(btcusd, matching.NewOrderBook(), ActorConfig{}, &failingWal{}, ob, nil, nil, nil)
	startActor(t, a)

	price := withReply(limitCmd(1, matching.Ask, "1e70000", "1"))
	size := withReply(Command{Type: CmdPlaceMarket, ReqID: 2, OrderID: 2, Side: matching.Bid, Size: d("1e70000")})
	require.NoError(t, a.TryEnqueue(price))
	require.NoError(t, a.TryEnqueue(size))
	assert.Equal(t, ReasonInvalidPrice, waitReply(t, price.reply).Rejected)
	assert.Equal(t, ReasonInvalidSize, waitReply(t, size.reply).Rejected)
	assert.NoError(t, a.Err())
	assert.Equal(t, uint64(2), a.Seq())
}

func TestActor_ProcessSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	a := NewMarketActor(btcusd, matching.NewOrderBook(), ActorConfig{}, &failingWal{failAfter: 2}, &memOutbox{}, nil, nil, nil)
	startActor(t, a)

	ok := withReply(limitCmd(1, matching.Ask, "100", "1"))
	require.NoError(t, a.TryEnqueue(ok))
	waitReply(t, ok.reply)
	require.NoError(t, a.TryEnqueue(limitCmd(2, matching.Ask, "101", "1")))
	waitDone(t, a)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "market.process", spans[0].Name())
	assert.Equal(t, "BTC/USD", attrs["market"].AsString())
	assert.Equal(t, int64(1), attrs["batch"].AsInt64())
	assert.Equal(t, int64(1), attrs["seq"].AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code, "wal failure marks the span")
}

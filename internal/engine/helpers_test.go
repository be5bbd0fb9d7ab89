package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"matchcore.com/internal/matching"
)

var btcusd = TradingPair{Base: "BTC", Quote: "USD"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

/************ Mocks ************/

// memOutbox 记录所有写入的事件，用来断言事件顺序
type memOutbox struct {
	mu      sync.Mutex
	events  []Event
	flushes int
}

func (o *memOutbox) Append(ev Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
	return nil
}
func (o *memOutbox) AppendCmdEnd(seq uint64) error { return o.Append(Event{Type: EvCmdEnd, Seq: seq}) }
func (o *memOutbox) Flush() error {
	o.mu.Lock()
	o.flushes++
	o.mu.Unlock()
	return nil
}
func (o *memOutbox) Close() error { return nil }

func (o *memOutbox) snapshot() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

type failingWal struct {
	appendN   int32
	flushN    int32
	failAfter int32 // 第几次 Append 开始失败（1-based）；<=0 不失败
	failFlush bool
}

func (w *failingWal) Append(_ []byte) error {
	n := atomic.AddInt32(&w.appendN, 1)
	if w.failAfter > 0 && n >= w.failAfter {
		return errors.New("wal append fail")
	}
	return nil
}
func (w *failingWal) Flush() error {
	atomic.AddInt32(&w.flushN, 1)
	if w.failFlush {
		return errors.New("wal flush fail")
	}
	return nil
}
func (w *failingWal) Close() error { return nil }

type failingOutbox struct {
	failAppend bool
	failFlush  bool
}

func (o *failingOutbox) Append(Event) error {
	if o.failAppend {
		return errors.New("outbox append fail")
	}
	return nil
}
func (o *failingOutbox) AppendCmdEnd(seq uint64) error { return o.Append(Event{Type: EvCmdEnd, Seq: seq}) }
func (o *failingOutbox) Flush() error {
	if o.failFlush {
		return errors.New("outbox flush fail")
	}
	return nil
}
func (o *failingOutbox) Close() error { return nil }

// memSnapshots 内存版 SnapshotStore
type memSnapshots struct {
	mu    sync.Mutex
	seq   map[string]uint64
	snaps map[string]matching.BookSnapshot
	saves int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{seq: map[string]uint64{}, snaps: map[string]matching.BookSnapshot{}}
}

func (s *memSnapshots) Save(market string, seq uint64, snap matching.BookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[market], s.snaps[market] = seq, snap
	s.saves++
	return nil
}

func (s *memSnapshots) Load(market string) (uint64, matching.BookSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[market]
	return s.seq[market], snap, ok, nil
}

/************ Helpers ************/

func limitCmd(id uint64, side matching.Side, price, size string) Command {
	return Command{Type: CmdPlaceLimit, ReqID: id, OrderID: id, Side: side, Price: d(price), Size: d(size)}
}

func withReply(cmd Command) Command {
	cmd.reply = make(chan Report, 1)
	return cmd
}

func startActor(t *testing.T, a *MarketActor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-a.done
	})
}

func waitReply(t *testing.T, ch <-chan Report) Report {
	t.Helper()
	select {
	case rep := <-ch:
		return rep
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting report")
		return Report{}
	}
}

func waitDone(t *testing.T, a *MarketActor) {
	t.Helper()
	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not exit")
	}
}

func waitEventType(t *testing.T, ch <-chan Event, tp EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev := <-ch:
			if ev.Type == tp {
				return ev
			}
		case <-deadline.C:
			t.Fatalf("timeout waiting event type=%s", tp)
		}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event, wait time.Duration) {
	t.Helper()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ev := <-ch:
		t.Fatalf("expected no event, got type=%s seq=%d idx=%d", ev.Type, ev.Seq, ev.Idx)
	case <-timer.C:
	}
}

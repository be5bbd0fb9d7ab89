package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"matchcore.com/pkg/logger"
	"matchcore.com/pkg/metrics"
	"matchcore.com/pkg/wal"
)

// OutboxPublisher tail 一个 market 的 ev.wal，把事件按顺序搬到 bus。
// cursor 只在命令边界（EvCmdEnd）推进，重启后从最后一个完整命令之后继续
type OutboxPublisher struct {
	ctx        context.Context
	market     string
	bus        *EventBus
	evPath     string
	cursorPath string
	notify     <-chan struct{}
	evCodec    EvCodec
	poll       time.Duration
}

func NewOutboxPublisher(ctx context.Context, market string, bus *EventBus, evPath, cursorPath string,
	notify <-chan struct{}, poll time.Duration, codec EvCodec) *OutboxPublisher {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &OutboxPublisher{
		ctx:        ctx,
		market:     market,
		bus:        bus,
		evPath:     evPath,
		cursorPath: cursorPath,
		notify:     notify,
		poll:       poll,
		evCodec:    codec,
	}
}

func (p *OutboxPublisher) Run() {
	off := loadCursor(p.cursorPath)
	// outbox 修复截断过的话 cursor 可能越界
	if st, err := os.Stat(p.evPath); err == nil && off > st.Size() {
		logger.Warn(p.ctx, "outbox cursor beyond file, clamped",
			zap.String("market", p.market), zap.Int64("cursor", off), zap.Int64("size", st.Size()))
		off = st.Size()
		if err := storeCursor(p.cursorPath, off); err != nil {
			logger.Error(p.ctx, "store outbox cursor failed", zap.String("market", p.market), zap.Error(err))
			return
		}
	}

	published := metrics.EventsPublishedTotal.WithLabelValues(p.market)
	for p.ctx.Err() == nil {
		r, err := wal.OpenReader(p.evPath, off, wal.ReaderOptions{AllowTruncatedTail: true})
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Error(p.ctx, "open outbox failed", zap.String("market", p.market), zap.Error(err))
			}
			p.wait()
			continue
		}
		off = p.drain(r, off, published.Inc)
		_ = r.Close()
		p.wait()
	}
}

// drain 一直读到出错（或 ctx 结束），返回已经消费到的偏移。
// 普通 EOF 不关 reader，等通知后继续读；半写的尾部需要从 off 重新打开
func (p *OutboxPublisher) drain(r *wal.Reader, off int64, onPublished func()) int64 {
	for {
		payload, next, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) && !r.TruncatedTail() {
				p.wait()
				if p.ctx.Err() != nil {
					return off
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				logger.Error(p.ctx, "read outbox failed",
					zap.String("market", p.market), zap.Int64("offset", off), zap.Error(err))
			}
			return off
		}

		ev, err := p.evCodec.Decode(payload)
		if err != nil {
			logger.Error(p.ctx, "decode outbox event failed",
				zap.String("market", p.market), zap.Int64("offset", off), zap.Error(err))
			return off
		}

		if ev.Type == EvCmdEnd {
			if err := storeCursor(p.cursorPath, next); err != nil {
				logger.Error(p.ctx, "store outbox cursor failed", zap.String("market", p.market), zap.Error(err))
			}
			off = next
			continue
		}

		// publisher 不在撮合线程里，允许阻塞
		if err := p.bus.Deliver(p.ctx, ev); err != nil {
			return off
		}
		onPublished()
		off = next
	}
}

func (p *OutboxPublisher) wait() {
	select {
	case <-p.ctx.Done():
	case <-p.notify:
	case <-time.After(p.poll):
	}
}

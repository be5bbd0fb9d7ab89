package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"matchcore.com/pkg/logger"
	"matchcore.com/pkg/metrics"
	"matchcore.com/pkg/wal"
)

// openMarket 建簿并恢复状态：
//  1. 加载快照（有的话），得到 snapSeq
//  2. 修复 outbox：截掉半写和没有命令边界的事件，得到 lastCompleteSeq
//  3. 回放 cmd.wal 中 seq > snapSeq 的命令；seq > lastCompleteSeq 的顺便把事件补进 outbox
//  4. flush outbox，打开 cmd.wal 写端，actor 从 lastSeq 继续编号
func (e *Engine) openMarket(pair TradingPair) (*MarketActor, string, error) {
	book, err := e.cfg.BookFactory(pair)
	if err != nil {
		return nil, "", err
	}
	market := pair.String()

	persist := e.cfg.EnableCmdWAL || e.cfg.EnableOutbox
	if (persist || e.cfg.EnablePublisher) && e.cfg.WALDir == "" {
		return nil, "", ErrWALDirRequired
	}
	if persist {
		if err := os.MkdirAll(e.cfg.WALDir, 0o755); err != nil {
			return nil, "", err
		}
	}
	cmdPath := cmdWalPath(e.cfg.WALDir, pair)
	evPath := outboxWalPath(e.cfg.WALDir, pair)

	var snapSeq uint64
	if e.cfg.Snapshots != nil {
		seq, snap, ok, err := e.cfg.Snapshots.Load(market)
		if err != nil {
			return nil, "", fmt.Errorf("load snapshot: %w", err)
		}
		if ok {
			if err := book.Restore(snap); err != nil {
				return nil, "", fmt.Errorf("restore snapshot: %w", err)
			}
			snapSeq = seq
		}
	}

	var (
		lastCompleteSeq uint64
		ob              *EventOutbox
		outbox          Outbox
	)
	if e.cfg.EnableOutbox {
		lastCompleteSeq, _, err = ScanAndRepairOutbox(evPath, e.cfg.EvCodec)
		if err != nil {
			return nil, "", err
		}
		ob, err = OpenEventOutbox(evPath, e.cfg.OutboxBufSize, e.cfg.EvCodec, flushObserver(market, "ev"))
		if err != nil {
			return nil, "", err
		}
		outbox = ob
	}
	closeOutbox := func() {
		if ob != nil {
			_ = ob.Close()
		}
	}

	lastSeq := snapSeq
	if lastCompleteSeq > lastSeq {
		lastSeq = lastCompleteSeq
	}
	if e.cfg.EnableCmdWAL {
		replayed, err := replayCmdWAL(cmdPath, book, outbox, market, snapSeq, lastCompleteSeq, e.cfg.CmdCodec)
		if err != nil {
			closeOutbox()
			return nil, "", err
		}
		if replayed > lastSeq {
			lastSeq = replayed
		}
	}

	if ob != nil {
		if err := ob.Flush(); err != nil {
			closeOutbox()
			return nil, "", err
		}
	}

	var cmdWriter walWriter
	if e.cfg.EnableCmdWAL {
		w, err := wal.OpenWrite(cmdPath, e.cfg.WALBufSize, flushObserver(market, "cmd"))
		if err != nil {
			closeOutbox()
			return nil, "", err
		}
		cmdWriter = w
	}

	a := NewMarketActor(pair, book, e.cfg.Actor, cmdWriter, outbox, e.bus, make(chan struct{}, 1), e.cfg.CmdCodec)
	a.seq = lastSeq
	a.lastSnapSeq = snapSeq
	a.snapshots = e.cfg.Snapshots

	logger.Info(context.Background(), "market recovered",
		zap.String("market", market),
		zap.Uint64("snapshot_seq", snapSeq),
		zap.Uint64("outbox_seq", lastCompleteSeq),
		zap.Uint64("last_seq", lastSeq),
	)
	return a, evPath, nil
}

// replayCmdWAL 返回日志里最大的 seq。尾部半写的记录会被截掉，保证后续追加对齐
func replayCmdWAL(path string, book Book, outbox Outbox, market string, snapSeq, lastCompleteSeq uint64, codec CmdCodec) (uint64, error) {
	var lastSeq uint64
	st, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func(payload []byte) error {
		seq, cmd, err := codec.Decode(payload)
		if err != nil {
			return err
		}
		if seq > lastSeq {
			lastSeq = seq
		}
		// 快照已经包含
		if seq <= snapSeq {
			return nil
		}
		// outbox 里已经有完整事件，只重建簿
		if outbox == nil || seq <= lastCompleteSeq {
			applyCommand(book, cmd, noopEmitter{})
			return nil
		}
		em := newOutboxEmitter(outbox, market, seq, cmd.ClientTs)
		applyCommand(book, cmd, em)
		if em.err != nil {
			return em.err
		}
		return outbox.AppendCmdEnd(seq)
	})
	if err != nil {
		return 0, fmt.Errorf("replay %s: %w", path, err)
	}
	if st.TruncatedTail {
		logger.Warn(context.Background(), "cmd wal torn tail truncated",
			zap.String("market", market), zap.Int64("offset", st.LastGoodOffset))
		if err := wal.TruncateTo(path, st.LastGoodOffset); err != nil {
			return 0, err
		}
	}
	return lastSeq, nil
}

func flushObserver(market, log string) wal.WriterOption {
	bytes := metrics.WalBytesTotal.WithLabelValues(market, log)
	latency := metrics.WalFlushDuration.WithLabelValues(market, log)
	return wal.WithFlushObserver(func(n int64, took time.Duration) {
		bytes.Add(float64(n))
		latency.Observe(took.Seconds())
	})
}

package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"matchcore.com/pkg/wal"
)

// Outbox 事件的持久化日志：每条命令的事件后面跟一条 EvCmdEnd
type Outbox interface {
	Append(ev Event) error
	AppendCmdEnd(seq uint64) error
	Flush() error
	Close() error
}

type EventOutbox struct {
	w     *wal.Writer
	codec EvCodec
	buf   []byte
}

func OpenEventOutbox(path string, bufSize int, codec EvCodec, opts ...wal.WriterOption) (*EventOutbox, error) {
	w, err := wal.OpenWrite(path, bufSize, opts...)
	if err != nil {
		return nil, err
	}
	return &EventOutbox{w: w, codec: codec, buf: make([]byte, 0, 256)}, nil
}

func (o *EventOutbox) Append(ev Event) error {
	payload, err := o.codec.Encode(o.buf, ev)
	if err != nil {
		return err
	}
	// wal.Append 会拷贝进 bufio，buf 可以复用
	o.buf = payload[:0]
	return o.w.Append(payload)
}

func (o *EventOutbox) AppendCmdEnd(seq uint64) error {
	return o.Append(Event{Type: EvCmdEnd, Seq: seq})
}

func (o *EventOutbox) Flush() error { return o.w.Flush() }
func (o *EventOutbox) Close() error { return o.w.Close() }

// ScanAndRepairOutbox 启动时修 outbox：
//  1. 尾部半写的 record 截掉
//  2. 最后一个 EvCmdEnd 之后的残留事件截掉（命令边界一致性）
//
// 返回最后一个完整命令的 seq，回放时 seq 大于它的命令要重新生成事件
func ScanAndRepairOutbox(path string, codec EvCodec) (lastCompleteSeq uint64, lastCompleteOffset int64, err error) {
	r, err := wal.OpenReader(path, 0, wal.ReaderOptions{AllowTruncatedTail: true})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer r.Close()

	for {
		p, nextOff, e := r.Next()
		if e != nil {
			if errors.Is(e, io.EOF) {
				break
			}
			return 0, 0, e
		}
		ev, err := codec.Decode(p)
		if err != nil {
			return 0, 0, fmt.Errorf("outbox %s: %w", path, err)
		}
		if ev.Type == EvCmdEnd {
			lastCompleteSeq = ev.Seq
			lastCompleteOffset = nextOff
		}
	}

	if err := wal.TruncateTo(path, lastCompleteOffset); err != nil {
		return 0, 0, err
	}
	return lastCompleteSeq, lastCompleteOffset, nil
}

func outboxWalPath(walDir string, p TradingPair) string {
	return filepath.Join(walDir, p.Key()+".ev.wal")
}

func outboxCursorPath(walDir string, p TradingPair) string {
	return filepath.Join(walDir, p.Key()+".ev.cursor")
}

func cmdWalPath(walDir string, p TradingPair) string {
	return filepath.Join(walDir, p.Key()+".cmd.wal")
}

// cursor 文件：8 字节 little endian offset，写临时文件再 rename
func loadCursor(path string) int64 {
	b, err := os.ReadFile(path)
	if err != nil || len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b[:8]))
}

func storeCursor(path string, off int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(off))

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b[:], 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

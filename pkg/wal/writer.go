package wal

import (
	"bufio"
	"fmt"
	"os"
	"time"
)

// FlushObserver 每次 Flush 之后回调：本次刷出去的字节数和耗时（含 fsync）
type FlushObserver func(bytes int64, took time.Duration)

type Writer struct {
	path string
	f    *os.File
	bw   *bufio.Writer

	// 逻辑偏移：包含还在 bufio 里没刷的数据
	off int64
	// 上一次 Flush 完成时的偏移
	flushed int64

	observer FlushObserver
	closed   bool
}

type WriterOption func(*Writer)

func WithFlushObserver(fn FlushObserver) WriterOption {
	return func(w *Writer) { w.observer = fn }
}

// OpenWrite 以追加方式打开（不存在就创建），bufSize <= 0 用 1MB
func OpenWrite(path string, bufSize int, opts ...WriterOption) (*Writer, error) {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := &Writer{
		path:    path,
		f:       f,
		bw:      bufio.NewWriterSize(f, bufSize),
		off:     st.Size(),
		flushed: st.Size(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Writer) Path() string  { return w.path }
func (w *Writer) Offset() int64 { return w.off }

// Append 只写进缓冲区；要持久化必须调用 Flush（组提交）
func (w *Writer) Append(payload []byte) error {
	if w.closed {
		return ErrClosed
	}
	if len(payload) > DefaultMaxPayload {
		return ErrPayloadTooLarge
	}
	var hdr [headerSize]byte
	putHeader(&hdr, payload)
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	if _, err := w.bw.Write(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	w.off += RecordSize(len(payload))
	return nil
}

// Flush bufio 刷到内核，再 fsync 落盘
func (w *Writer) Flush() error {
	if w.closed {
		return ErrClosed
	}
	start := time.Now()
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	if w.observer != nil {
		w.observer(w.off-w.flushed, time.Since(start))
	}
	w.flushed = w.off
	return nil
}

// Close 关闭前也会 Flush + Sync，保证 Close 具备持久化语义
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	err := w.Flush()
	w.closed = true
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

package wal

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

type ReaderOptions struct {
	MaxPayload         int  // <=0 用 DefaultMaxPayload
	AllowTruncatedTail bool // 尾部半写当作正常结束（返回 io.EOF）
	BufferSize         int
}

// Reader 从某个偏移开始顺序读 record，publisher 用它 tail 文件
type Reader struct {
	f   *os.File
	br  *bufio.Reader
	off int64

	maxPayload int
	allowTail  bool

	truncatedTail  bool
	lastGoodOffset int64
}

// OpenReader 文件不存在时返回的错误满足 errors.Is(err, os.ErrNotExist)
func OpenReader(path string, offset int64, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufSize
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	return &Reader{
		f:              f,
		br:             bufio.NewReaderSize(f, opts.BufferSize),
		off:            offset,
		maxPayload:     opts.MaxPayload,
		allowTail:      opts.AllowTruncatedTail,
		lastGoodOffset: offset,
	}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) TruncatedTail() bool   { return r.truncatedTail }
func (r *Reader) LastGoodOffset() int64 { return r.lastGoodOffset }

// Next 读下一条。读完返回 io.EOF；nextOffset 是这条记录之后的偏移
func (r *Reader) Next() (payload []byte, nextOffset int64, err error) {
	var hdr [headerSize]byte
	if _, err = io.ReadFull(r.br, hdr[:]); err != nil {
		return nil, r.off, r.tailErr(err, ErrCorruptHeader)
	}
	ln, crc := parseHeader(&hdr)
	if ln > r.maxPayload {
		return nil, r.off, fmt.Errorf("%w: %d at offset %d", ErrPayloadTooLarge, ln, r.off)
	}

	payload = make([]byte, ln)
	if _, err = io.ReadFull(r.br, payload); err != nil {
		if errors.Is(err, io.EOF) {
			// header 完整但 payload 一个字节都没有，也是半写
			err = io.ErrUnexpectedEOF
		}
		return nil, r.off, r.tailErr(err, ErrCorruptPayload)
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return nil, r.off, fmt.Errorf("%w at offset %d", ErrChecksumMismatch, r.off)
	}

	r.off += RecordSize(ln)
	r.lastGoodOffset = r.off
	return payload, r.off, nil
}

func (r *Reader) tailErr(err, corrupt error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		r.truncatedTail = true
		if r.allowTail {
			return io.EOF
		}
		return corrupt
	}
	return err
}

type ReplayOptions struct {
	MaxPayload int
	// 最后一条记录半写（崩溃时常见）是否当作正常结束，推荐 true
	AllowTruncatedTail bool
}

type ReplayStats struct {
	Records        int
	LastGoodOffset int64
	TruncatedTail  bool
}

// Replay 从头读完整个文件，逐条回调。文件不存在视为空日志
func Replay(path string, opts ReplayOptions, onRecord func(payload []byte) error) (ReplayStats, error) {
	var st ReplayStats
	r, err := OpenReader(path, 0, ReaderOptions{
		MaxPayload:         opts.MaxPayload,
		AllowTruncatedTail: opts.AllowTruncatedTail,
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, err
	}
	defer r.Close()

	for {
		payload, _, err := r.Next()
		st.TruncatedTail = r.TruncatedTail()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			return st, err
		}
		if err := onRecord(payload); err != nil {
			return st, err
		}
		st.Records++
		st.LastGoodOffset = r.LastGoodOffset()
	}
}

// TruncateTo 把文件截到 offset，用于修复半写的尾部。
// 文件不存在或 offset 不小于文件大小时什么都不做
func TruncateTo(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("wal: negative truncate offset %d", offset)
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if offset >= st.Size() {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return err
	}
	return f.Sync()
}

// Repair 扫描整个文件，把半写的尾部截掉，返回截断后的文件长度
func Repair(path string) (int64, bool, error) {
	st, err := Replay(path, ReplayOptions{AllowTruncatedTail: true}, func([]byte) error { return nil })
	if err != nil {
		return 0, false, err
	}
	if !st.TruncatedTail {
		return st.LastGoodOffset, false, nil
	}
	return st.LastGoodOffset, true, TruncateTo(path, st.LastGoodOffset)
}

package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// 单条记录：len(u32 LE) | crc32(u32 LE) | payload
const (
	headerSize      = 8
	defaultFilePerm = 0o644
	defaultBufSize  = 1 << 20
)

// DefaultMaxPayload 防止坏数据里的长度字段把内存吃爆
const DefaultMaxPayload = 4 << 20 // 4MB

var (
	ErrCorruptHeader    = errors.New("wal: corrupt header")
	ErrCorruptPayload   = errors.New("wal: corrupt payload")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("wal: payload too large")
	ErrClosed           = errors.New("wal: writer closed")
)

func putHeader(hdr *[headerSize]byte, payload []byte) {
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(payload))
}

func parseHeader(hdr *[headerSize]byte) (ln int, crc uint32) {
	return int(binary.LittleEndian.Uint32(hdr[:4])), binary.LittleEndian.Uint32(hdr[4:])
}

// RecordSize 一条 payload 落盘后占用的字节数
func RecordSize(payloadLen int) int64 { return int64(headerSize + payloadLen) }

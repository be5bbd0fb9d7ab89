package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"matchcore.com/internal/matching"
)

// 二进制编码，小端。定长头 + 变长字段（u16 长度 + 字节）。
// decimal 用 String() 落盘，回放时精确还原，不丢精度。

const (
	cmdWalVersion = 2
	evWalVersion  = 2

	// cmd: ver(1) type(1) seq(8) req(8) ts(8) order(8) side(1) | price | size
	cmdFixedLen = 35
	// ev: ver(1) type(1) seq(8) idx(2) ts(8) req(8) order(8) side(1) liq(1) | market | price | size | reason
	evFixedLen = 38
)

var (
	ErrBadCmdRecordLen = errors.New("wal cmd: bad record length")
	ErrBadCmdVersion   = errors.New("wal cmd: bad version")
	ErrBadCmdType      = errors.New("wal cmd: bad cmd type")
	ErrBadEvRecordLen  = errors.New("outbox: bad record length")
	ErrBadEvVersion    = errors.New("outbox: bad version")
	ErrFieldTooLong    = errors.New("codec: field too long")
)

type BinaryCmdCodec struct{}

func (BinaryCmdCodec) Encode(dst []byte, seq uint64, cmd Command) ([]byte, error) {
	dst = dst[:0]
	dst = append(dst, cmdWalVersion, byte(cmd.Type))
	dst = binary.LittleEndian.AppendUint64(dst, seq)
	dst = binary.LittleEndian.AppendUint64(dst, cmd.ReqID)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(cmd.ClientTs))
	dst = binary.LittleEndian.AppendUint64(dst, cmd.OrderID)
	dst = append(dst, byte(cmd.Side))

	var err error
	if dst, err = appendDecimal(dst, cmd.Price); err != nil {
		return nil, err
	}
	return appendDecimal(dst, cmd.Size)
}

func (BinaryCmdCodec) Decode(payload []byte) (seq uint64, cmd Command, err error) {
	if len(payload) < cmdFixedLen {
		return 0, Command{}, ErrBadCmdRecordLen
	}
	if payload[0] != cmdWalVersion {
		return 0, Command{}, ErrBadCmdVersion
	}
	cmd.Type = CmdType(payload[1])
	if cmd.Type != CmdPlaceLimit && cmd.Type != CmdPlaceMarket {
		return 0, Command{}, ErrBadCmdType
	}
	seq = binary.LittleEndian.Uint64(payload[2:10])
	cmd.ReqID = binary.LittleEndian.Uint64(payload[10:18])
	cmd.ClientTs = int64(binary.LittleEndian.Uint64(payload[18:26]))
	cmd.OrderID = binary.LittleEndian.Uint64(payload[26:34])
	cmd.Side = matching.Side(payload[34])

	rest := payload[cmdFixedLen:]
	if cmd.Price, rest, err = readDecimal(rest, ErrBadCmdRecordLen); err != nil {
		return 0, Command{}, err
	}
	if cmd.Size, rest, err = readDecimal(rest, ErrBadCmdRecordLen); err != nil {
		return 0, Command{}, err
	}
	if len(rest) != 0 {
		return 0, Command{}, ErrBadCmdRecordLen
	}
	return seq, cmd, nil
}

type BinaryEvCodec struct{}

func (BinaryEvCodec) Encode(dst []byte, ev Event) ([]byte, error) {
	dst = dst[:0]
	dst = append(dst, evWalVersion, byte(ev.Type))
	dst = binary.LittleEndian.AppendUint64(dst, ev.Seq)
	dst = binary.LittleEndian.AppendUint16(dst, ev.Idx)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(ev.Ts))
	dst = binary.LittleEndian.AppendUint64(dst, ev.ReqID)
	dst = binary.LittleEndian.AppendUint64(dst, ev.OrderID)
	dst = append(dst, byte(ev.Side), byte(ev.Liquidity))

	var err error
	if dst, err = appendString(dst, ev.Market); err != nil {
		return nil, err
	}
	if dst, err = appendDecimal(dst, ev.Price); err != nil {
		return nil, err
	}
	if dst, err = appendDecimal(dst, ev.Size); err != nil {
		return nil, err
	}
	return appendString(dst, ev.Reason)
}

func (BinaryEvCodec) Decode(payload []byte) (Event, error) {
	if len(payload) < evFixedLen {
		return Event{}, ErrBadEvRecordLen
	}
	if payload[0] != evWalVersion {
		return Event{}, ErrBadEvVersion
	}
	var ev Event
	ev.Type = EventType(payload[1])
	ev.Seq = binary.LittleEndian.Uint64(payload[2:10])
	ev.Idx = binary.LittleEndian.Uint16(payload[10:12])
	ev.Ts = int64(binary.LittleEndian.Uint64(payload[12:20]))
	ev.ReqID = binary.LittleEndian.Uint64(payload[20:28])
	ev.OrderID = binary.LittleEndian.Uint64(payload[28:36])
	ev.Side = matching.Side(payload[36])
	ev.Liquidity = matching.Liquidity(payload[37])

	rest := payload[evFixedLen:]
	var err error
	if ev.Market, rest, err = readString(rest, ErrBadEvRecordLen); err != nil {
		return Event{}, err
	}
	if ev.Price, rest, err = readDecimal(rest, ErrBadEvRecordLen); err != nil {
		return Event{}, err
	}
	if ev.Size, rest, err = readDecimal(rest, ErrBadEvRecordLen); err != nil {
		return Event{}, err
	}
	if ev.Reason, rest, err = readString(rest, ErrBadEvRecordLen); err != nil {
		return Event{}, err
	}
	if len(rest) != 0 {
		return Event{}, ErrBadEvRecordLen
	}
	return ev, nil
}

func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

func readString(b []byte, short error) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, short
	}
	n := int(binary.LittleEndian.Uint16(b[:2]))
	if len(b) < 2+n {
		return "", nil, short
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}

func appendDecimal(dst []byte, d decimal.Decimal) ([]byte, error) {
	return appendString(dst, d.String())
}

func readDecimal(b []byte, short error) (decimal.Decimal, []byte, error) {
	s, rest, err := readString(b, short)
	if err != nil {
		return decimal.Decimal{}, nil, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("codec: decimal %q: %w", s, err)
	}
	return d, rest, nil
}

package engine

import (
	"errors"

	"github.com/shopspring/decimal"
	"matchcore.com/internal/matching"
)

// 命令类型
type CmdType uint8

const (
	CmdPlaceLimit  CmdType = iota + 1 // 限价：先撮合，剩余挂单
	CmdPlaceMarket                    // 市价：只撮合，剩余丢弃
)

func (t CmdType) String() string {
	switch t {
	case CmdPlaceLimit:
		return "limit"
	case CmdPlaceMarket:
		return "market"
	default:
		return "unknown"
	}
}

// Command 进 WAL 的命令。reply 不落盘，只给同步调用方回结果
type Command struct {
	Type     CmdType         `json:"type"`
	ReqID    uint64          `json:"req_id"`    // 上游幂等/追踪用
	ClientTs int64           `json:"client_ts"` // 可选：审计
	OrderID  uint64          `json:"order_id"`  // 调用方分配
	Side     matching.Side   `json:"side"`
	Price    decimal.Decimal `json:"price"` // 市价单为 0
	Size     decimal.Decimal `json:"size"`

	reply chan Report
}

type EventType uint8

const (
	EvAccepted  EventType = iota + 1 // 命令通过校验
	EvRejected                       // 拒单，Reason 说明原因
	EvRested                         // 剩余部分挂到簿上
	EvExecution                      // 一条成交记录（taker 或 maker）
)

// EvCmdEnd 命令边界：同一 seq 的事件全部落盘之后写一条，不对外发布
const EvCmdEnd EventType = 250

func (t EventType) String() string {
	switch t {
	case EvAccepted:
		return "accepted"
	case EvRejected:
		return "rejected"
	case EvRested:
		return "rested"
	case EvExecution:
		return "execution"
	case EvCmdEnd:
		return "cmd_end"
	default:
		return "unknown"
	}
}

type Event struct {
	Type   EventType `json:"type"`
	Market string    `json:"market"`

	// 同一 market 内单调递增，用于对齐/回放/排查
	Seq   uint64 `json:"seq"`
	Idx   uint16 `json:"idx"` // 同一 seq 内的事件序号
	Ts    int64  `json:"ts"`  // 命令进入引擎的时间（unix ns），回放时不变
	ReqID uint64 `json:"req_id"`

	OrderID   uint64             `json:"order_id"`
	Side      matching.Side      `json:"side"`
	Price     decimal.Decimal    `json:"price"`
	Size      decimal.Decimal    `json:"size"`
	Liquidity matching.Liquidity `json:"liquidity,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Report 一条命令执行完的同步结果
type Report struct {
	Seq        uint64               `json:"seq"`
	OrderID    uint64               `json:"order_id"`
	Executions []matching.Execution `json:"executions"`
	Remaining  decimal.Decimal      `json:"remaining"`
	Rested     bool                 `json:"rested"`
	Rejected   string               `json:"rejected,omitempty"`
}

// 拒单原因
const (
	ReasonInvalidSide  = "invalid_side"
	ReasonInvalidSize  = "invalid_size"
	ReasonInvalidPrice = "invalid_price"
	ReasonUnknownCmd   = "unknown_command"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketExists   = errors.New("market already exists")
	ErrEngineBusy     = errors.New("engine busy: mailbox full")
	ErrBadCommand     = errors.New("bad command")
	ErrBadPair        = errors.New("bad trading pair")
	ErrEngineStopped  = errors.New("engine stopped")
	ErrWALDirRequired = errors.New("wal dir is empty but persistence is enabled")
)

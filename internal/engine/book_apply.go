package engine

import (
	"github.com/shopspring/decimal"
	"matchcore.com/internal/matching"
)

// validateCommand 返回拒单原因，合法返回空串
func validateCommand(cmd Command) string {
	if cmd.Type != CmdPlaceLimit && cmd.Type != CmdPlaceMarket {
		return ReasonUnknownCmd
	}
	if !cmd.Side.Valid() {
		return ReasonInvalidSide
	}
	if matching.ValidateSize(cmd.Size) != nil {
		return ReasonInvalidSize
	}
	if cmd.Type == CmdPlaceLimit && matching.ValidatePrice(cmd.Price) != nil {
		return ReasonInvalidPrice
	}
	return ""
}

// boundCommand 超出范围的 decimal 字段在落盘前清零。
// 限价单清零后拒单原因不变；市价单的 price 本来就不参与撮合
func boundCommand(cmd Command) Command {
	if matching.CheckMagnitude(cmd.Price) != nil {
		cmd.Price = decimal.Zero
	}
	if matching.CheckMagnitude(cmd.Size) != nil {
		cmd.Size = decimal.Zero
	}
	return cmd
}

// applyCommand 执行一条命令，并把结果翻译成事件：
// Accepted -> Execution... -> Rested（限价单有剩余时）
func applyCommand(book Book, cmd Command, emit Emitter) Report {
	rep := Report{OrderID: cmd.OrderID, Remaining: cmd.Size}
	if reason := validateCommand(cmd); reason != "" {
		emit.Rejected(cmd.ReqID, cmd.OrderID, reason)
		rep.Rejected = reason
		return rep
	}

	order := matching.NewOrder(cmd.OrderID, cmd.Side, cmd.Size)
	switch cmd.Type {
	case CmdPlaceLimit:
		execs, err := book.SubmitLimitOrder(cmd.Price, order)
		if err != nil {
			// 校验和簿内校验一致，走到这里说明 Book 实现有自己的规则
			emit.Rejected(cmd.ReqID, cmd.OrderID, err.Error())
			rep.Rejected = err.Error()
			return rep
		}
		emit.Accepted(cmd.ReqID, cmd.OrderID, cmd.Side)
		rep.Executions = execs
		rep.Rested = !order.IsFilled()
	case CmdPlaceMarket:
		emit.Accepted(cmd.ReqID, cmd.OrderID, cmd.Side)
		rep.Executions = book.FillMarketOrder(order)
	}

	for _, ex := range rep.Executions {
		emit.Execution(cmd.ReqID, ex)
	}
	rep.Remaining = order.Size
	if rep.Rested {
		emit.Rested(cmd.ReqID, cmd.OrderID, cmd.Side, cmd.Price, order.Size)
	}
	return rep
}

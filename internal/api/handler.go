package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"matchcore.com/internal/engine"
	"matchcore.com/internal/matching"
	"matchcore.com/pkg/common"
)

// Engine handler 用到的撮合接口，*engine.Engine 实现了它
type Engine interface {
	AddNewMarket(pair engine.TradingPair) error
	Markets() []engine.TradingPair
	PlaceLimitOrder(ctx context.Context, pair engine.TradingPair, price decimal.Decimal, order *matching.Order) (engine.Report, error)
	PlaceMarketOrder(ctx context.Context, pair engine.TradingPair, order *matching.Order) (engine.Report, error)
	Depth(ctx context.Context, pair engine.TradingPair, limit int) (matching.Depth, error)
}

type Market struct {
	eng     Engine
	timeout time.Duration
}

// NewMarket timeout 是等撮合结果的上限，<=0 用 3s
func NewMarket(eng Engine, timeout time.Duration) *Market {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Market{eng: eng, timeout: timeout}
}

type addMarketReq struct {
	Base  string `json:"base" binding:"required"`
	Quote string `json:"quote" binding:"required"`
}

type marketView struct {
	Symbol string `json:"symbol"`
	Key    string `json:"key"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

func newMarketView(p engine.TradingPair) marketView {
	return marketView{Symbol: p.String(), Key: p.Key(), Base: p.Base, Quote: p.Quote}
}

func (h *Market) Add(c *gin.Context) {
	var req addMarketReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "base and quote are required")
		return
	}
	pair := engine.NewTradingPair(req.Base, req.Quote)
	if err := h.eng.AddNewMarket(pair); err != nil {
		fail(c, err)
		return
	}
	common.Success(c, newMarketView(pair))
}

func (h *Market) List(c *gin.Context) {
	pairs := h.eng.Markets()
	out := make([]marketView, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, newMarketView(p))
	}
	common.Success(c, out)
}

type placeOrderReq struct {
	ID    uint64          `json:"id" binding:"required"`
	Side  string          `json:"side" binding:"required"`
	Type  string          `json:"type"` // limit（默认）| market
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type executionView struct {
	OrderID   uint64          `json:"order_id"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Liquidity string          `json:"liquidity"`
}

type orderResp struct {
	Seq        uint64          `json:"seq"`
	OrderID    uint64          `json:"order_id"`
	Executions []executionView `json:"executions"`
	Remaining  decimal.Decimal `json:"remaining"`
	Rested     bool            `json:"rested"`
}

func newOrderResp(rep engine.Report) orderResp {
	out := orderResp{
		Seq:        rep.Seq,
		OrderID:    rep.OrderID,
		Executions: make([]executionView, 0, len(rep.Executions)),
		Remaining:  rep.Remaining,
		Rested:     rep.Rested,
	}
	for _, ex := range rep.Executions {
		out.Executions = append(out.Executions, executionView{
			OrderID:   ex.OrderID,
			Side:      ex.Side.String(),
			Size:      ex.Size,
			Price:     ex.Price,
			Liquidity: ex.Liquidity.String(),
		})
	}
	return out
}

func (h *Market) PlaceOrder(c *gin.Context) {
	pair, err := engine.ParseTradingPair(c.Param("market"))
	if err != nil {
		fail(c, err)
		return
	}
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "invalid order body")
		return
	}
	side, err := matching.ParseSide(req.Side)
	if err != nil {
		fail(c, err)
		return
	}
	order := matching.NewOrder(req.ID, side, req.Size)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var rep engine.Report
	switch req.Type {
	case "", "limit":
		rep, err = h.eng.PlaceLimitOrder(ctx, pair, req.Price, order)
	case "market":
		rep, err = h.eng.PlaceMarketOrder(ctx, pair, order)
	default:
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidOrder, "type must be limit or market")
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, newOrderResp(rep))
}

func (h *Market) Depth(c *gin.Context) {
	pair, err := engine.ParseTradingPair(c.Param("market"))
	if err != nil {
		fail(c, err)
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	depth, err := h.eng.Depth(ctx, pair, limit)
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, gin.H{"market": pair.String(), "bids": depth.Bids, "asks": depth.Asks})
}

// fail 引擎错误 -> http 状态码 + 业务码
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrBadPair):
		common.Fail(c, http.StatusBadRequest, common.CodeBadPair, err.Error())
	case errors.Is(err, matching.ErrInvalidOrder), errors.Is(err, matching.ErrInvalidPrice),
		errors.Is(err, matching.ErrInvalidSide):
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidOrder, err.Error())
	case errors.Is(err, engine.ErrMarketNotFound):
		common.Fail(c, http.StatusNotFound, common.CodeMarketNotFound, err.Error())
	case errors.Is(err, engine.ErrMarketExists):
		common.Fail(c, http.StatusConflict, common.CodeMarketExists, err.Error())
	case errors.Is(err, engine.ErrEngineBusy):
		common.FailLogged(c, http.StatusServiceUnavailable, common.CodeEngineBusy, "engine busy", err)
	case errors.Is(err, context.DeadlineExceeded):
		common.FailLogged(c, http.StatusGatewayTimeout, common.CodeTimeout, "timeout", err)
	default:
		common.FailLogged(c, http.StatusInternalServerError, common.CodeInternal, "internal error", err)
	}
}

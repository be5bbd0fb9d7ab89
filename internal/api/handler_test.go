package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"matchcore.com/internal/engine"
	"matchcore.com/internal/matching"
	"matchcore.com/pkg/common"
)

func init() { gin.SetMode(gin.TestMode) }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, opts Options) (*gin.Engine, *engine.Engine) {
	t.Helper()
	e := engine.NewEngine(engine.Config{EventBusSize: 256})
	t.Cleanup(e.Stop)
	require.NoError(t, e.AddNewMarket(engine.NewTradingPair("BTC", "USD")))
	return NewRouter(t.Context(), e, opts), e
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body=%s", w.Body.String())
	return w, env
}

func TestAddAndListMarkets(t *testing.T) {
	r, _ := newTestRouter(t, Options{})

	w, env := do(t, r, http.MethodPost, "/api/markets", gin.H{"base": "eth", "quote": "usd"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, common.CodeOK, env.Code)
	assert.NotEmpty(t, w.Header().Get(common.HeaderRequestID))

	w, env = do(t, r, http.MethodPost, "/api/markets", gin.H{"base": "ETH", "quote": "USD"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, common.CodeMarketExists, env.Code)

	w, env = do(t, r, http.MethodPost, "/api/markets", gin.H{"base": "ETH", "quote": "ETH"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, common.CodeBadPair, env.Code)

	w, env = do(t, r, http.MethodPost, "/api/markets", gin.H{"base": "ETH"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, common.CodeBadRequest, env.Code)

	_, env = do(t, r, http.MethodGet, "/api/markets", nil)
	var list []marketView
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "BTC/USD", list[0].Symbol)
	assert.Equal(t, "ETH-USD", list[1].Key)
}

func TestPlaceOrder_MatchThenRest(t *testing.T) {
	r, _ := newTestRouter(t, Options{})

	w, _ := do(t, r, http.MethodPost, "/api/markets/BTC-USD/orders",
		gin.H{"id": 1, "side": "sell", "price": "100", "size": "1.5"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := do(t, r, http.MethodPost, "/api/markets/btc_usd/orders",
		gin.H{"id": 2, "side": "buy", "type": "limit", "price": "101", "size": "2"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp orderResp
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, uint64(2), resp.Seq)
	require.Len(t, resp.Executions, 2)
	assert.Equal(t, "taker", resp.Executions[0].Liquidity)
	assert.Equal(t, "ask", resp.Executions[1].Side)
	assert.True(t, resp.Executions[1].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, resp.Remaining.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, resp.Rested)

	_, env = do(t, r, http.MethodGet, "/api/markets/BTC-USD/depth?limit=5", nil)
	var depth struct {
		Market string               `json:"market"`
		Bids   []matching.LevelView `json:"bids"`
		Asks   []matching.LevelView `json:"asks"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &depth))
	assert.Equal(t, "BTC/USD", depth.Market)
	assert.Empty(t, depth.Asks)
	require.Len(t, depth.Bids, 1)
	assert.True(t, depth.Bids[0].Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, depth.Bids[0].Volume.Equal(decimal.RequireFromString("0.5")))
}

func TestPlaceOrder_MarketDoesNotRest(t *testing.T) {
	r, e := newTestRouter(t, Options{})
	w, env := do(t, r, http.MethodPost, "/api/markets/BTC-USD/orders",
		gin.H{"id": 1, "side": "buy", "type": "market", "size": "3"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp orderResp
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Empty(t, resp.Executions)
	assert.False(t, resp.Rested)

	depth, err := e.Depth(context.Background(), engine.NewTradingPair("BTC", "USD"), 0)
	require.NoError(t, err)
	assert.Empty(t, depth.Bids)
}

func TestPlaceOrder_Errors(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	cases := []struct {
		name   string
		path   string
		body   gin.H
		status int
		code   int
	}{
		{"unknown market", "/api/markets/ETH-USD/orders", gin.H{"id": 1, "side": "buy", "price": "1", "size": "1"}, http.StatusNotFound, common.CodeMarketNotFound},
		{"bad market", "/api/markets/BTCUSD/orders", gin.H{"id": 1, "side": "buy", "price": "1", "size": "1"}, http.StatusBadRequest, common.CodeBadPair},
		{"bad side", "/api/markets/BTC-USD/orders", gin.H{"id": 1, "side": "hold", "price": "1", "size": "1"}, http.StatusBadRequest, common.CodeInvalidOrder},
		{"zero size", "/api/markets/BTC-USD/orders", gin.H{"id": 1, "side": "buy", "price": "1", "size": "0"}, http.StatusBadRequest, common.CodeInvalidOrder},
		{"huge price exponent", "/api/markets/BTC-USD/orders", gin.H{"id": 1, "side": "sell", "price": "1e70000", "size": "1"}, http.StatusBadRequest, common.CodeInvalidOrder},
		{"too many decimals", "/api/markets/BTC-USD/orders", gin.H{"id": 1, "side": "buy", "type": "market", "size": "1e-40"}, http.StatusBadRequest, common.CodeInvalidOrder},
		{"missing price", "/api/markets/BTC-USD/orders", gin.H{"id": 1, "side": "buy", "size": "1"}, http.StatusBadRequest, common.CodeInvalidOrder},
		{"bad type", "/api/markets/BTC-USD/orders", gin.H{"id": 1, "side": "buy", "type": "stop", "size": "1"}, http.StatusBadRequest, common.CodeInvalidOrder},
		{"missing id", "/api/markets/BTC-USD/orders", gin.H{"side": "buy", "price": "1", "size": "1"}, http.StatusBadRequest, common.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, env.Code)
		})
	}

	w, env := do(t, r, http.MethodGet, "/api/markets/BTC-USD/depth?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, common.CodeBadRequest, env.Code)
}

type busyEngine struct{ Engine }

func (busyEngine) PlaceMarketOrder(context.Context, engine.TradingPair, *matching.Order) (engine.Report, error) {
	return engine.Report{}, engine.ErrEngineBusy
}

func (busyEngine) Depth(context.Context, engine.TradingPair, int) (matching.Depth, error) {
	return matching.Depth{}, context.DeadlineExceeded
}

func TestErrorMapping_BusyAndTimeout(t *testing.T) {
	r := NewRouter(t.Context(), busyEngine{}, Options{})

	w, env := do(t, r, http.MethodPost, "/api/markets/BTC-USD/orders", gin.H{"id": 1, "side": "buy", "type": "market", "size": "1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, common.CodeEngineBusy, env.Code)

	w, env = do(t, r, http.MethodGet, "/api/markets/BTC-USD/depth", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, common.CodeTimeout, env.Code)
}

func TestRateLimitAndCors(t *testing.T) {
	r, _ := newTestRouter(t, Options{RateLimit: 0.001, Burst: 1, AllowOrigins: []string{"https://ex.example"}})

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://ex.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://ex.example", w.Header().Get("Access-Control-Allow-Origin"))

	w, env := do(t, r, http.MethodGet, "/api/markets", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, common.CodeTooManyReq, env.Code)
}

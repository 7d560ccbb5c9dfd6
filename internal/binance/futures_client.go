// internal/binance/futures_client.go
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"binance-copy-trader/pkg/precision"
)

const (
	balanceCacheTTL    = 5 * time.Second
	timeSyncAttempts   = 3
	timeSyncRetryDelay = time.Second
	maxBatchOrders     = 5
)

// FuturesClient 合约账户的签名请求网关
// 在现货内核之上增加余额缓存、杠杆/保证金/持仓模式管理与批量下单
type FuturesClient struct {
	*rest

	balanceMu        sync.Mutex
	balanceCache     map[string]decimal.Decimal
	balanceCacheTime time.Time
}

// NewFuturesClient 构造合约客户端
// 启动对时失败是致命错误：时钟漂移未知时无法安全签名
func NewFuturesClient(ctx context.Context, apiKey, apiSecret, baseURL string, logger *zap.Logger) (*FuturesClient, error) {
	c := &FuturesClient{
		rest:         newRest(apiKey, apiSecret, baseURL, "/fapi/v1/time", logger),
		balanceCache: make(map[string]decimal.Decimal),
	}
	if err := c.clock.SyncWithRetry(ctx, timeSyncAttempts, timeSyncRetryDelay); err != nil {
		return nil, err
	}
	return c, nil
}

// ==================== 账户 ====================

// futuresAccountInfo 合约账户信息响应片段
type futuresAccountInfo struct {
	Assets []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	} `json:"assets"`
	Positions []json.RawMessage `json:"positions"`
}

// AvailableBalance 查询资产可用余额，带 5 秒 TTL 缓存
func (c *FuturesClient) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	c.balanceMu.Lock()
	if bal, ok := c.balanceCache[asset]; ok && time.Since(c.balanceCacheTime) < balanceCacheTTL {
		c.balanceMu.Unlock()
		return bal, nil
	}
	c.balanceMu.Unlock()

	var info futuresAccountInfo
	if err := c.request(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &info); err != nil {
		return decimal.Zero, err
	}

	for _, a := range info.Assets {
		if a.Asset != asset {
			continue
		}
		bal, err := decimal.NewFromString(a.AvailableBalance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse available balance: %w", err)
		}
		c.balanceMu.Lock()
		c.balanceCache[asset] = bal
		c.balanceCacheTime = time.Now()
		c.balanceMu.Unlock()
		return bal, nil
	}
	return decimal.Zero, nil
}

// Position 查询指定交易对的当前持仓，空仓返回 nil
func (c *FuturesClient) Position(ctx context.Context, symbol string) (map[string]any, error) {
	var info struct {
		Positions []map[string]any `json:"positions"`
	}
	if err := c.request(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &info); err != nil {
		return nil, err
	}
	for _, pos := range info.Positions {
		if pos["symbol"] != symbol {
			continue
		}
		amt, _ := pos["positionAmt"].(string)
		d, err := decimal.NewFromString(amt)
		if err == nil && !d.IsZero() {
			return pos, nil
		}
	}
	return nil, nil
}

// ==================== 杠杆与保证金 ====================

// SetLeverage 设置交易对杠杆
func (c *FuturesClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p := newParams().
		Add("symbol", symbol).
		AddInt("leverage", int64(leverage))

	c.logger.Info("Setting leverage",
		zap.String("Symbol", symbol), zap.Int("Leverage", leverage))
	return c.request(ctx, http.MethodPost, "/fapi/v1/leverage", p, true, nil)
}

// SetMarginType 设置保证金模式，交易所回复"无需更改"视为成功
func (c *FuturesClient) SetMarginType(ctx context.Context, symbol string, marginType MarginType) error {
	p := newParams().
		Add("symbol", symbol).
		Add("marginType", string(marginType))

	c.logger.Info("Setting margin type",
		zap.String("Symbol", symbol), zap.String("MarginType", string(marginType)))

	err := c.request(ctx, http.MethodPost, "/fapi/v1/marginType", p, true, nil)
	if isNoChangeNeeded(err) {
		c.logger.Debug("Margin type already set", zap.String("Symbol", symbol))
		return nil
	}
	return err
}

// SetPositionMode 设置持仓模式，dualSide 为真表示双向（对冲）模式
func (c *FuturesClient) SetPositionMode(ctx context.Context, dualSide bool) error {
	value := "false"
	mode := "One-Way Mode"
	if dualSide {
		value = "true"
		mode = "Hedge Mode"
	}
	p := newParams().Add("dualSidePosition", value)

	c.logger.Info("Setting position mode", zap.String("Mode", mode))

	err := c.request(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", p, true, nil)
	if isNoChangeNeeded(err) {
		c.logger.Debug("Position mode already set", zap.String("Mode", mode))
		return nil
	}
	return err
}

// isNoChangeNeeded 识别交易所的"无需更改"幂等回复
func isNoChangeNeeded(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "no need to change")
}

// ==================== 交易规则与行情 ====================

// SymbolFilters 返回交易对的下单约束（带缓存）
func (c *FuturesClient) SymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	return c.symbolFilters(ctx, "/fapi/v1/exchangeInfo", symbol)
}

// CheckMinNotional 校验订单名义价值是否达到 MIN_NOTIONAL
func (c *FuturesClient) CheckMinNotional(ctx context.Context, symbol string, quantity, price float64) error {
	filters, err := c.SymbolFilters(ctx, symbol)
	if err != nil {
		return err
	}
	return checkMinNotional(filters, quantity, price)
}

// TickerPrice 查询最新成交价
func (c *FuturesClient) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p := newParams().Add("symbol", symbol)
	var out struct {
		Price string `json:"price"`
	}
	if err := c.request(ctx, http.MethodGet, "/fapi/v1/ticker/price", p, false, &out); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.Price)
}

// MarkPrice 查询标记价格
func (c *FuturesClient) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p := newParams().Add("symbol", symbol)
	var out struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := c.request(ctx, http.MethodGet, "/fapi/v1/premiumIndex", p, false, &out); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.MarkPrice)
}

// ==================== 下单 ====================

// buildOrderParams 量化数量/价格并组装下单参数
func (c *FuturesClient) buildOrderParams(ctx context.Context, order OrderRequest) (*params, error) {
	filters, err := c.SymbolFilters(ctx, order.Symbol)
	if err != nil {
		return nil, err
	}

	qty, err := precision.QuantizeFloat(order.Quantity, filters.LotSize)
	if err != nil {
		return nil, err
	}

	posSide := order.PositionSide
	if posSide == "" {
		posSide = PositionBoth
	}

	p := newParams().
		Add("symbol", order.Symbol).
		Add("side", string(order.Side)).
		Add("type", string(order.Type)).
		Add("quantity", qty).
		Add("positionSide", string(posSide))

	if order.ReduceOnly {
		p.Add("reduceOnly", "true")
	}

	if order.Type == OrderTypeLimit {
		if order.Price <= 0 {
			return nil, ErrMissingPrice
		}
		price, err := precision.QuantizeFloat(order.Price, filters.PriceFilter)
		if err != nil {
			return nil, err
		}
		p.Add("price", price)
		tif := order.TimeInForce
		if tif == "" {
			tif = TimeInForceGTC
		}
		p.Add("timeInForce", string(tif))

		if err := checkMinNotional(filters, order.Quantity, order.Price); err != nil {
			return nil, err
		}
	}

	if order.StopPrice > 0 {
		stop, err := precision.QuantizeFloat(order.StopPrice, filters.PriceFilter)
		if err != nil {
			return nil, err
		}
		p.Add("stopPrice", stop)
	}
	return p, nil
}

// PlaceOrder 提交合约订单
func (c *FuturesClient) PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error) {
	p, err := c.buildOrderParams(ctx, order)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Placing futures order",
		zap.String("Symbol", order.Symbol),
		zap.String("Side", string(order.Side)),
		zap.String("Type", string(order.Type)),
		zap.String("Quantity", p.Get("quantity")),
		zap.String("PositionSide", p.Get("positionSide")))

	var out OrderResponse
	if err := c.request(ctx, http.MethodPost, "/fapi/v1/order", p, true, &out); err != nil {
		return nil, err
	}

	c.logger.Info("Futures order placed",
		zap.Int64("OrderID", out.OrderID),
		zap.String("Status", out.Status))
	return &out, nil
}

// PlaceBatchOrders 单次请求最多提交 5 笔订单
func (c *FuturesClient) PlaceBatchOrders(ctx context.Context, orders []OrderRequest) ([]OrderResponse, error) {
	if len(orders) > maxBatchOrders {
		return nil, ErrTooManyBatchOrders
	}

	batch := make([]map[string]string, 0, len(orders))
	for _, order := range orders {
		p, err := c.buildOrderParams(ctx, order)
		if err != nil {
			return nil, err
		}
		entry := make(map[string]string, len(p.keys))
		for i, k := range p.keys {
			entry[k] = p.values[i]
		}
		batch = append(batch, entry)
	}

	encoded, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}
	p := newParams().Add("batchOrders", string(encoded))

	c.logger.Info("Placing batch orders", zap.Int("Count", len(batch)))

	var out []OrderResponse
	if err := c.request(ctx, http.MethodPost, "/fapi/v1/batchOrders", p, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ==================== 用户数据流 ====================

// CreateListenKey 创建合约用户数据流的 listenKey
func (c *FuturesClient) CreateListenKey(ctx context.Context) (string, error) {
	c.logger.Info("Creating new listen key")
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.request(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, false, &out); err != nil {
		return "", err
	}
	c.logger.Info("Listen key created", zap.String("Prefix", keyPrefix(out.ListenKey)))
	return out.ListenKey, nil
}

// KeepaliveListenKey 延长 listenKey 有效期
func (c *FuturesClient) KeepaliveListenKey(ctx context.Context, listenKey string) error {
	return c.request(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, false, nil)
}

// CloseListenKey 关闭用户数据流
func (c *FuturesClient) CloseListenKey(ctx context.Context, listenKey string) error {
	c.logger.Info("Closing listen key", zap.String("Prefix", keyPrefix(listenKey)))
	return c.request(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil, false, nil)
}

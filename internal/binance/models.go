// internal/binance/models.go
package binance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"binance-copy-trader/pkg/precision"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 解析事件流中的方向字段
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	default:
		return "", fmt.Errorf("unknown order side: %q", s)
	}
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// PositionSide 持仓方向，BOTH 表示单向持仓模式
type PositionSide string

const (
	PositionBoth  PositionSide = "BOTH"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// ParsePositionSide 解析事件流中的持仓方向，未知值回落到 BOTH
func ParsePositionSide(s string) PositionSide {
	switch PositionSide(s) {
	case PositionLong, PositionShort:
		return PositionSide(s)
	default:
		return PositionBoth
	}
}

// MarginType 保证金模式
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// TimeInForce 订单有效方式
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// SymbolFilters 单个交易对的下单约束，取自交易规则接口并缓存
type SymbolFilters struct {
	Symbol      string
	LotSize     precision.Bounds // 数量约束 (stepSize/minQty/maxQty)
	PriceFilter precision.Bounds // 价格约束 (tickSize/minPrice/maxPrice)
	MinNotional decimal.Decimal  // 最小名义价值，IsZero 表示未定义
}

// OrderRequest 下单参数
type OrderRequest struct {
	Symbol       string
	Side         Side
	Type         OrderType
	Quantity     float64
	Price        float64 // LIMIT 单必填
	PositionSide PositionSide
	ReduceOnly   bool
	StopPrice    float64
	TimeInForce  TimeInForce
}

// OrderResponse 交易所的下单回执
type OrderResponse struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	ClientID    string `json:"clientOrderId"`
}

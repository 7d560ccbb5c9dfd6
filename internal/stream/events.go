// internal/stream/events.go
package stream

import (
	"encoding/json"
	"fmt"
	"strconv"

	"binance-copy-trader/internal/binance"
)

// 事件流中关注的事件类型
const (
	eventExecutionReport  = "executionReport"   // 现货成交回报
	eventOrderTradeUpdate = "ORDER_TRADE_UPDATE" // 合约订单更新
	eventAccountUpdate    = "ACCOUNT_UPDATE"

	// execTypeTrade 表示实际发生了成交，而不是挂单/撤单/拒单
	execTypeTrade = "TRADE"
)

// FillKey 唯一标识一笔成交，用于去重
type FillKey struct {
	OrderID int64
	TradeID int64
}

func (k FillKey) String() string {
	return strconv.FormatInt(k.OrderID, 10) + "_" + strconv.FormatInt(k.TradeID, 10)
}

// FillEvent 一笔主账户成交的规范化表示，由解码器从原始消息生成
type FillEvent struct {
	Symbol        string
	Side          binance.Side
	OrderType     string
	OrderStatus   string
	OrderID       int64
	TradeID       int64
	ExecQty       float64 // 本笔成交数量 (l)
	ExecPrice     float64 // 本笔成交价格 (L)
	CumulativeQty float64 // 累计成交数量 (z)
	TotalQty      float64 // 订单原始数量 (q)
	PositionSide  binance.PositionSide
}

// Key 返回去重键 (orderId, tradeId)
func (e FillEvent) Key() FillKey {
	return FillKey{OrderID: e.OrderID, TradeID: e.TradeID}
}

// Filled 订单是否已全部成交
func (e FillEvent) Filled() bool {
	return e.OrderStatus == "FILLED"
}

// Decoder 将一条原始消息解码为成交事件
// 返回 (nil, "", nil) 表示消息不是成交，应当丢弃；事件类型用于调试日志
type Decoder func(raw []byte) (*FillEvent, string, error)

// spotExecutionReport 现货 executionReport 的字段布局
type spotExecutionReport struct {
	EventType   string `json:"e"`
	Symbol      string `json:"s"`
	Side        string `json:"S"`
	OrderType   string `json:"o"`
	OrderStatus string `json:"X"`
	ExecType    string `json:"x"`
	OrderID     int64  `json:"i"`
	TradeID     int64  `json:"t"`
	LastQty     string `json:"l"`
	LastPrice   string `json:"L"`
	CumQty      string `json:"z"`
	OrigQty     string `json:"q"`
}

// DecodeSpotEvent 解码现货用户数据流消息
func DecodeSpotEvent(raw []byte) (*FillEvent, string, error) {
	var report spotExecutionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, "", fmt.Errorf("decode spot event: %w", err)
	}
	if report.EventType != eventExecutionReport || report.ExecType != execTypeTrade {
		return nil, report.EventType, nil
	}
	event, err := buildFillEvent(
		report.Symbol, report.Side, report.OrderType, report.OrderStatus,
		report.OrderID, report.TradeID,
		report.LastQty, report.LastPrice, report.CumQty, report.OrigQty,
		binance.PositionBoth,
	)
	return event, report.EventType, err
}

// futuresOrderUpdate 合约 ORDER_TRADE_UPDATE 的字段布局，订单信息在嵌套对象里
type futuresOrderUpdate struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol       string `json:"s"`
		Side         string `json:"S"`
		OrderType    string `json:"o"`
		OrderStatus  string `json:"X"`
		ExecType     string `json:"x"`
		OrderID      int64  `json:"i"`
		TradeID      int64  `json:"t"`
		LastQty      string `json:"l"`
		LastPrice    string `json:"L"`
		CumQty       string `json:"z"`
		OrigQty      string `json:"q"`
		PositionSide string `json:"ps"`
	} `json:"o"`
}

// DecodeFuturesEvent 解码合约用户数据流消息
// ACCOUNT_UPDATE 之类的事件不产生成交，只返回事件类型供日志使用
func DecodeFuturesEvent(raw []byte) (*FillEvent, string, error) {
	var update futuresOrderUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, "", fmt.Errorf("decode futures event: %w", err)
	}
	if update.EventType != eventOrderTradeUpdate {
		return nil, update.EventType, nil
	}
	o := update.Order
	if o.ExecType != execTypeTrade {
		return nil, update.EventType, nil
	}
	event, err := buildFillEvent(
		o.Symbol, o.Side, o.OrderType, o.OrderStatus,
		o.OrderID, o.TradeID,
		o.LastQty, o.LastPrice, o.CumQty, o.OrigQty,
		binance.ParsePositionSide(o.PositionSide),
	)
	return event, update.EventType, err
}

func buildFillEvent(
	symbol, side, orderType, status string,
	orderID, tradeID int64,
	lastQty, lastPrice, cumQty, origQty string,
	positionSide binance.PositionSide,
) (*FillEvent, error) {
	parsedSide, err := binance.ParseSide(side)
	if err != nil {
		return nil, err
	}

	event := &FillEvent{
		Symbol:       symbol,
		Side:         parsedSide,
		OrderType:    orderType,
		OrderStatus:  status,
		OrderID:      orderID,
		TradeID:      tradeID,
		PositionSide: positionSide,
	}
	if event.ExecQty, err = strconv.ParseFloat(lastQty, 64); err != nil {
		return nil, fmt.Errorf("parse exec quantity %q: %w", lastQty, err)
	}
	if lastPrice != "" {
		if event.ExecPrice, err = strconv.ParseFloat(lastPrice, 64); err != nil {
			return nil, fmt.Errorf("parse exec price %q: %w", lastPrice, err)
		}
	}
	if event.CumulativeQty, err = strconv.ParseFloat(cumQty, 64); err != nil {
		return nil, fmt.Errorf("parse cumulative quantity %q: %w", cumQty, err)
	}
	if event.TotalQty, err = strconv.ParseFloat(origQty, 64); err != nil {
		return nil, fmt.Errorf("parse total quantity %q: %w", origQty, err)
	}
	return event, nil
}

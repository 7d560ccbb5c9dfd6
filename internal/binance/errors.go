// internal/binance/errors.go
package binance

import (
	"errors"
	"fmt"
)

// 交易所错误码
const (
	// codeTimestampOutOfRange 本地时间戳超出 recvWindow，触发重新对时
	codeTimestampOutOfRange = -1021
)

var (
	// ErrSymbolNotFound 交易规则列表中找不到目标交易对
	ErrSymbolNotFound = errors.New("symbol not found in exchange info")
	// ErrMissingPrice LIMIT 单缺少价格
	ErrMissingPrice = errors.New("price is required for LIMIT orders")
	// ErrNotionalTooSmall 订单名义价值低于 MIN_NOTIONAL
	ErrNotionalTooSmall = errors.New("order notional below minimum")
	// ErrTooManyBatchOrders 批量下单超过交易所单次上限
	ErrTooManyBatchOrders = errors.New("maximum 5 orders per batch")
)

// APIError 交易所返回的业务错误，带原始错误码和消息
type APIError struct {
	Code    int
	Message string
	Status  int // HTTP 状态码
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance API error [%d]: %s", e.Code, e.Message)
}

// TransportError 网络层失败，重试耗尽后返回
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimestampError 判断是否为时间戳漂移被拒
func IsTimestampError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeTimestampOutOfRange
}

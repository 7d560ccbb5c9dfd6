// internal/engine/fanout.go
package engine

import (
	"errors"
	"strings"

	"binance-copy-trader/internal/binance"
	"binance-copy-trader/pkg/precision"
)

// OutcomeKind 单个跟单账户一次复制尝试的结果分类
type OutcomeKind string

const (
	OutcomeSuccess             OutcomeKind = "SUCCESS"
	OutcomeSkippedBelowMin     OutcomeKind = "SKIPPED_BELOW_MIN" // 刻意跳过，不算失败
	OutcomeInvalidParameters   OutcomeKind = "INVALID_PARAMETERS"
	OutcomeInsufficientBalance OutcomeKind = "INSUFFICIENT_BALANCE"
	OutcomeNotionalTooSmall    OutcomeKind = "NOTIONAL_TOO_SMALL"
	OutcomeAPIRejected         OutcomeKind = "API_REJECTED"
	OutcomeTransportFailed     OutcomeKind = "TRANSPORT_FAILED"
	OutcomeUnexpected          OutcomeKind = "UNEXPECTED"
)

// Outcome 一次扇出中单个跟单账户的结果，只用于统计与日志
type Outcome struct {
	Follower    string
	Kind        OutcomeKind
	OrderID     int64
	ExecutedQty string
	Status      string
	Err         error
}

// scaleQuantity 计算并钳制跟单数量
// 低于下限返回 skip；高于上限钳制到上限并继续
func scaleQuantity(execQty, scale, minQty, maxQty float64) (qty float64, skip bool, clamped bool) {
	qty = execQty * scale
	if qty < minQty {
		return qty, true, false
	}
	if qty > maxQty {
		return maxQty, false, true
	}
	return qty, false, false
}

// classifyError 把下单路径上的错误映射到结果分类
func classifyError(err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, binance.ErrNotionalTooSmall):
		return OutcomeNotionalTooSmall
	case errors.Is(err, binance.ErrMissingPrice):
		return OutcomeInvalidParameters
	}

	var belowMin *precision.BelowMinimumError
	if errors.As(err, &belowMin) {
		return OutcomeInvalidParameters
	}

	var transportErr *binance.TransportError
	if errors.As(err, &transportErr) {
		return OutcomeTransportFailed
	}

	var apiErr *binance.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case strings.Contains(msg, "insufficient balance") || strings.Contains(msg, "margin is insufficient"):
			return OutcomeInsufficientBalance
		case strings.Contains(msg, "notional"):
			return OutcomeNotionalTooSmall
		default:
			return OutcomeAPIRejected
		}
	}
	return OutcomeUnexpected
}

// recordOutcome 按结果分类更新统计
func recordOutcome(stats *Stats, kind OutcomeKind) {
	switch kind {
	case OutcomeSuccess:
		stats.RecordSuccess()
	case OutcomeSkippedBelowMin:
		// 刻意跳过不计入任何失败
	case OutcomeInsufficientBalance:
		stats.RecordInsufficientBalance()
	case OutcomeNotionalTooSmall:
		stats.RecordNotionalRejected()
	default:
		stats.RecordFailure()
	}
}

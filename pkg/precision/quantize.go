// pkg/precision 提供交易所过滤器约束下的数量/价格合法化
package precision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Bounds 定义一个维度（数量或价格）的步长与上下界
type Bounds struct {
	Step decimal.Decimal // 最小增量 (stepSize / tickSize)
	Min  decimal.Decimal
	Max  decimal.Decimal
}

// BelowMinimumError 表示输入低于交易所允许的最小值
type BelowMinimumError struct {
	Value decimal.Decimal
	Min   decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("value %s below minimum %s", e.Value, e.Min)
}

// ParseBounds 从交易所过滤器的字符串字段构造 Bounds
func ParseBounds(step, min, max string) (Bounds, error) {
	var b Bounds
	var err error
	if b.Step, err = decimal.NewFromString(step); err != nil {
		return b, fmt.Errorf("parse step %q: %w", step, err)
	}
	if b.Min, err = decimal.NewFromString(min); err != nil {
		return b, fmt.Errorf("parse min %q: %w", min, err)
	}
	if b.Max, err = decimal.NewFromString(max); err != nil {
		return b, fmt.Errorf("parse max %q: %w", max, err)
	}
	return b, nil
}

// Quantize 将原始值调整为符合步长约束的合法值
// 规则：低于 Min 返回 BelowMinimumError；高于 Max 钳制到 Max；
// 向下取整到 Step 的整数倍；按 Step 隐含的小数位数格式化并去掉无效尾零。
func Quantize(value decimal.Decimal, b Bounds) (string, error) {
	if b.Step.IsZero() {
		return "", fmt.Errorf("step must not be zero")
	}
	if value.LessThan(b.Min) {
		return "", &BelowMinimumError{Value: value, Min: b.Min}
	}
	if b.Max.IsPositive() && value.GreaterThan(b.Max) {
		value = b.Max
	}

	// 向下取整到步长的整数倍
	quantized := value.Div(b.Step).Floor().Mul(b.Step)

	return formatTrimmed(quantized, stepPrecision(b.Step)), nil
}

// QuantizeFloat 是 Quantize 的 float64 便捷入口
func QuantizeFloat(value float64, b Bounds) (string, error) {
	return Quantize(decimal.NewFromFloat(value), b)
}

// stepPrecision 返回步长隐含的小数位数，例如 0.001 -> 3
func stepPrecision(step decimal.Decimal) int32 {
	if exp := step.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

// formatTrimmed 按固定精度格式化后去掉尾部的 0 和小数点
func formatTrimmed(d decimal.Decimal, precision int32) string {
	s := d.StringFixed(precision)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 金额与费率计算工具
// ============================================================================
//
// 【为什么用 decimal 而不是 float64？】
//
// float64 在重复结算中会产生舍入漂移：
//   0.1 + 0.2 = 0.30000000000000004
//
// 账务系统中余额、手续费、到账金额必须精确到分，
// 所以统一使用 shopspring/decimal 的定点十进制表示。
//
// ============================================================================

// IdentityRate 同币种转账的汇率，恒为 1
var IdentityRate = decimal.NewFromInt(1)

var (
	ErrInvalidAmount         = errors.New("金额必须大于0且最多保留2位小数")
	ErrInvalidRate           = errors.New("费率格式非法")
	ErrInvalidCommissionRate = errors.New("手续费率必须在 [0, 1) 区间内")
	ErrInvalidConversionRate = errors.New("汇率必须大于0")
)

// Round2 四舍五入保留2位小数（远离零方向）
// 账务口径：commission = round(sent * rate, 2)
//
//	received   = round((sent - commission) * conversion, 2)
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ParseAmount 解析交易金额
// 要求：正数，最多2位小数（分以下不允许）
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Exponent() < -2 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseRate 解析费率/汇率字符串
// 只负责格式，区间校验由 ValidateCommissionRate / ValidateConversionRate 完成
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidRate
	}
	return d, nil
}

// ValidateCommissionRate 校验手续费率：0 <= rate < 1
func ValidateCommissionRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidCommissionRate
	}
	return nil
}

// ValidateConversionRate 校验汇率：必须为正
func ValidateConversionRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return ErrInvalidConversionRate
	}
	return nil
}

// Commission 计算手续费：round(sent * commissionRate, 2)
func Commission(sent, commissionRate decimal.Decimal) decimal.Decimal {
	return Round2(sent.Mul(commissionRate))
}

// ReceivedAmount 计算到账金额：round((sent - commission) * conversionRate, 2)
func ReceivedAmount(sent, commission, conversionRate decimal.Decimal) decimal.Decimal {
	return Round2(sent.Sub(commission).Mul(conversionRate))
}

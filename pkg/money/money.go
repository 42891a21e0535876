// Package money 提供平台统一的金额舍入策略。
// 冻结/负债金额向上取整到 2 位小数，利润/佣金金额向下截断到 2 位小数。
package money

import "github.com/shopspring/decimal"

// RoundUp2 向上取整到 2 位小数。
// 用于冻结金额与负债金额：宁可多冻结一分钱，不让承诺超出抵押。
func RoundUp2(d decimal.Decimal) decimal.Decimal {
	return d.RoundUp(2)
}

// Truncate2 向下截断到 2 位小数。
// 用于利润与佣金：平台不支付没有来源的小数尾差。
func Truncate2(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}

// UsdtFromFiat 按存储汇率将法币金额换算为需冻结的 USDT 金额。
func UsdtFromFiat(amount, rate decimal.Decimal) decimal.Decimal {
	return RoundUp2(amount.Div(rate))
}

package icp

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// Decimals 是 ICP 的小数位数。
	Decimals = 8
	// E8sPerICP 是 1 ICP 对应的 e8s 数量。
	E8sPerICP uint64 = 100_000_000
)

var maxE8s = decimal.NewFromUint64(math.MaxUint64)

// Tokens 表示以 e8s 计量的 ICP 数量。
type Tokens struct {
	E8s uint64 `json:"e8s"`
}

// FromE8s 直接以 e8s 构造。
func FromE8s(e8s uint64) Tokens {
	return Tokens{E8s: e8s}
}

// FromDecimal 将 ICP 数量转换为 e8s，负数、超过 8 位小数或溢出都会报错。
func FromDecimal(amount decimal.Decimal) (Tokens, error) {
	if amount.IsNegative() {
		return Tokens{}, fmt.Errorf("金额不能为负: %s", amount)
	}
	scaled := amount.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Tokens{}, fmt.Errorf("金额 %s 超过 %d 位小数精度", amount, Decimals)
	}
	if scaled.GreaterThan(maxE8s) {
		return Tokens{}, fmt.Errorf("金额 %s 超出范围", amount)
	}
	return Tokens{E8s: scaled.BigInt().Uint64()}, nil
}

// ParseTokens 解析十进制字符串形式的 ICP 数量，例如 "1.5"。
func ParseTokens(text string) (Tokens, error) {
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return Tokens{}, fmt.Errorf("金额 %q 格式非法: %w", text, err)
	}
	return FromDecimal(amount)
}

// Decimal 返回 ICP 数量。
func (t Tokens) Decimal() decimal.Decimal {
	return decimal.NewFromUint64(t.E8s).Shift(-Decimals)
}

// Float64 返回浮点形式的 ICP 数量，仅用于线上协议与展示。
func (t Tokens) Float64() float64 {
	f, _ := t.Decimal().Float64()
	return f
}

// String 以固定 8 位小数输出，例如 "1.50000000"。
func (t Tokens) String() string {
	return t.Decimal().StringFixed(Decimals)
}

// LessThan 比较两个数量。
func (t Tokens) LessThan(other Tokens) bool {
	return t.E8s < other.E8s
}

// UnmarshalJSON 同时兼容 {"e8s":n} 与裸数字两种写法。
func (t *Tokens) UnmarshalJSON(data []byte) error {
	var plain uint64
	if err := json.Unmarshal(data, &plain); err == nil {
		t.E8s = plain
		return nil
	}
	var wrapped struct {
		E8s uint64 `json:"e8s"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("无法解析金额: %w", err)
	}
	t.E8s = wrapped.E8s
	return nil
}

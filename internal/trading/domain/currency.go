// Package domain 包含交易机器人的领域模型：货币金额、货币对、K 线、订单与成交，
// 以及保证这些记录在“交易所回报 → 持久化 → 策略消费”之间保持一致的不变量。
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// CurrencyCode 货币代码，统一为大写
type CurrencyCode string

// NewCurrencyCode 解析并规范化货币代码，只允许字母和数字
func NewCurrencyCode(s string) (CurrencyCode, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if code == "" {
		return "", &ParseError{Field: "currency", Value: s, Err: ErrInvalidCurrency}
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", &ParseError{Field: "currency", Value: s, Err: ErrInvalidCurrency}
		}
	}
	return CurrencyCode(code), nil
}

func (c CurrencyCode) String() string { return string(c) }

// CurrencyAmount 带货币单位的金额。零值表示“无金额”。
// 构造后不可变，变更时整体替换。
type CurrencyAmount struct {
	value    decimal.Decimal
	currency CurrencyCode
}

// NewCurrencyAmount 创建金额，货币不能为空
func NewCurrencyAmount(value decimal.Decimal, currency CurrencyCode) (CurrencyAmount, error) {
	if currency == "" {
		return CurrencyAmount{}, &ParseError{Field: "currency", Value: value.String(), Err: ErrMissingCurrency}
	}
	return CurrencyAmount{value: value, currency: currency}, nil
}

// MustAmount 解析 "1.5", "BTC" 形式的金额，失败时 panic。
// 只用于字面量常量与测试；外部输入必须走 NewCurrencyAmount。
func MustAmount(value string, currency string) CurrencyAmount {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	code, err := NewCurrencyCode(currency)
	if err != nil {
		panic(err)
	}
	return CurrencyAmount{value: d, currency: code}
}

// ZeroAmount 返回指定货币的零金额
func ZeroAmount(currency CurrencyCode) CurrencyAmount {
	return CurrencyAmount{value: decimal.Zero, currency: currency}
}

func (a CurrencyAmount) Value() decimal.Decimal { return a.value }
func (a CurrencyAmount) Currency() CurrencyCode { return a.currency }

// IsEmpty 报告是否为“无金额”
func (a CurrencyAmount) IsEmpty() bool { return a.currency == "" }

// IsZero 报告数值是否为零，“无金额”也视为零
func (a CurrencyAmount) IsZero() bool { return a.value.IsZero() }

// Equal 值与货币都相等才相等，不做任何货币换算
func (a CurrencyAmount) Equal(b CurrencyAmount) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return a.IsEmpty() && b.IsEmpty()
	}
	return a.currency == b.currency && a.value.Equal(b.value)
}

// Add 同币种相加
func (a CurrencyAmount) Add(b CurrencyAmount) (CurrencyAmount, error) {
	if a.currency != b.currency {
		return CurrencyAmount{}, fmt.Errorf("add %s to %s: %w", b.currency, a.currency, ErrCurrencyMismatch)
	}
	return CurrencyAmount{value: a.value.Add(b.value), currency: a.currency}, nil
}

func (a CurrencyAmount) String() string {
	if a.IsEmpty() {
		return "<none>"
	}
	return a.value.String() + " " + string(a.currency)
}

type amountJSON struct {
	Value    decimal.Decimal `json:"value"`
	Currency CurrencyCode    `json:"currency"`
}

func (a CurrencyAmount) MarshalJSON() ([]byte, error) {
	if a.IsEmpty() {
		return []byte("null"), nil
	}
	return json.Marshal(amountJSON{Value: a.value, Currency: a.currency})
}

func (a *CurrencyAmount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = CurrencyAmount{}
		return nil
	}
	var raw amountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	code, err := NewCurrencyCode(string(raw.Currency))
	if err != nil {
		return err
	}
	*a = CurrencyAmount{value: raw.Value, currency: code}
	return nil
}

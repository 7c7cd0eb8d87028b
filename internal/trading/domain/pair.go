package domain

import (
	"strings"
	"unicode"
)

// PairSeparator 货币对规范分隔符
const PairSeparator = "/"

// CurrencyPair 货币对，如 BTC/USDT，按值传递
type CurrencyPair struct {
	base  CurrencyCode
	quote CurrencyCode
}

// NewCurrencyPair 由两个货币代码组成货币对
func NewCurrencyPair(base, quote CurrencyCode) (CurrencyPair, error) {
	if base == "" || quote == "" {
		return CurrencyPair{}, &ParseError{Field: "currency_pair", Value: string(base) + PairSeparator + string(quote), Err: ErrMalformedPair}
	}
	return CurrencyPair{base: base, quote: quote}, nil
}

// ParseCurrencyPair 解析货币对字符串。
// 任何非字母数字字符都被视为分隔符（"BTC-USDT"、"btc_usdt" 均规范为 "BTC/USDT"），
// 但必须恰好切分出两个非空的货币代码。
func ParseCurrencyPair(s string) (CurrencyPair, error) {
	trimmed := strings.TrimSpace(s)
	parts := strings.FieldsFunc(trimmed, isPairSeparator)
	if len(parts) != 2 || separatorCount(trimmed) != 1 {
		return CurrencyPair{}, &ParseError{Field: "currency_pair", Value: s, Err: ErrMalformedPair}
	}

	base, err := NewCurrencyCode(parts[0])
	if err != nil {
		return CurrencyPair{}, &ParseError{Field: "currency_pair", Value: s, Err: ErrMalformedPair}
	}
	quote, err := NewCurrencyCode(parts[1])
	if err != nil {
		return CurrencyPair{}, &ParseError{Field: "currency_pair", Value: s, Err: ErrMalformedPair}
	}
	return CurrencyPair{base: base, quote: quote}, nil
}

// MustParseCurrencyPair 同 ParseCurrencyPair，失败时 panic。
// 只用于字面量常量与测试；外部输入必须走 ParseCurrencyPair。
func MustParseCurrencyPair(s string) CurrencyPair {
	p, err := ParseCurrencyPair(s)
	if err != nil {
		panic(err)
	}
	return p
}

func isPairSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func separatorCount(s string) int {
	n := 0
	for _, r := range s {
		if isPairSeparator(r) {
			n++
		}
	}
	return n
}

func (p CurrencyPair) Base() CurrencyCode  { return p.base }
func (p CurrencyPair) Quote() CurrencyCode { return p.quote }

// IsZero 报告是否为未设置的货币对
func (p CurrencyPair) IsZero() bool { return p.base == "" && p.quote == "" }

func (p CurrencyPair) Equal(o CurrencyPair) bool { return p == o }

// String 以规范分隔符输出
func (p CurrencyPair) String() string {
	if p.IsZero() {
		return ""
	}
	return string(p.base) + PairSeparator + string(p.quote)
}

func (p CurrencyPair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *CurrencyPair) UnmarshalText(text []byte) error {
	parsed, err := ParseCurrencyPair(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

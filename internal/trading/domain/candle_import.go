package domain

import (
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 导入数据必需的列名
const (
	ColumnCurrencyPair = "CURRENCY_PAIR"
	ColumnOpen         = "OPEN"
	ColumnHigh         = "HIGH"
	ColumnLow          = "LOW"
	ColumnClose        = "CLOSE"
	ColumnVolume       = "VOLUME"
	ColumnTimestamp    = "TIMESTAMP"
)

// RequiredCandleColumns 导入源必须提供的列
var RequiredCandleColumns = []string{
	ColumnCurrencyPair, ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume, ColumnTimestamp,
}

// CandleRow 导入源中的一行原始数据，Index 为从 1 开始的数据行号
type CandleRow struct {
	Index        int
	CurrencyPair string
	Open         string
	High         string
	Low          string
	Close        string
	Volume       string
	// 时间桶起点，epoch 秒
	Timestamp string
}

// CandleRowSource 表格形式的导入源。每次调用 Rows 都从第一行重新开始；
// 源本身的故障（I/O、缺列）以非 nil error 产出，并终止序列。
type CandleRowSource interface {
	Rows() iter.Seq2[CandleRow, error]
}

// BuildCandle 把原始行解析、校验为 K 线。
// 解析失败返回 *ParseError，违反 OHLCV 不变量返回 *ValidationError，均带行号。
func BuildCandle(row CandleRow) (*Candle, error) {
	pair, err := ParseCurrencyPair(row.CurrencyPair)
	if err != nil {
		return nil, &ParseError{Row: row.Index, Field: ColumnCurrencyPair, Value: row.CurrencyPair, Err: ErrMalformedPair}
	}

	fields := [...]struct {
		name string
		raw  string
	}{
		{ColumnOpen, row.Open},
		{ColumnHigh, row.High},
		{ColumnLow, row.Low},
		{ColumnClose, row.Close},
		{ColumnVolume, row.Volume},
	}
	var values [len(fields)]decimal.Decimal
	for i, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return nil, &ParseError{Row: row.Index, Field: f.name, Value: f.raw, Err: ErrInvalidNumber}
		}
		values[i] = d
	}

	bucketStart, err := parseEpochSeconds(row.Timestamp)
	if err != nil {
		return nil, &ParseError{Row: row.Index, Field: ColumnTimestamp, Value: row.Timestamp, Err: ErrInvalidTime}
	}

	candle, err := NewCandle(pair, values[0], values[1], values[2], values[3], values[4], bucketStart)
	if err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.Row = row.Index
		}
		return nil, err
	}
	return candle, nil
}

func parseEpochSeconds(raw string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if secs <= 0 {
		return time.Time{}, ErrInvalidTime
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Candles 惰性地把导入源转换为 K 线序列，可重复遍历。
// 单行失败时产出 (nil, 行错误) 并继续下一行，由调用方决定跳过还是整批拒绝；
// 源故障时产出 (nil, 源错误) 后结束。
func Candles(src CandleRowSource) iter.Seq2[*Candle, error] {
	return func(yield func(*Candle, error) bool) {
		for row, err := range src.Rows() {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(BuildCandle(row)) {
				return
			}
		}
	}
}

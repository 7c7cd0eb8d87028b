// Package importer 提供 K 线导入源的实现。
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/wyfcoding/tradingbot/internal/trading/domain"
)

// ErrMissingColumn 表头缺少必需列
var ErrMissingColumn = errors.New("missing required column")

// CSVSource 从带表头的 CSV 文件读取 K 线行，列名不区分大小写、顺序不限。
// 每次调用 Rows 都重新打开文件，因此序列可以重复遍历。
type CSVSource struct {
	open  func() (io.ReadCloser, error)
	comma rune
}

// NewCSVFile 以文件路径创建导入源
func NewCSVFile(path string) *CSVSource {
	return &CSVSource{
		open:  func() (io.ReadCloser, error) { return os.Open(path) },
		comma: ',',
	}
}

// NewCSVReader 以任意可重复打开的读取器创建导入源
func NewCSVReader(open func() (io.ReadCloser, error), comma rune) *CSVSource {
	if comma == 0 {
		comma = ','
	}
	return &CSVSource{open: open, comma: comma}
}

var _ domain.CandleRowSource = (*CSVSource)(nil)

// Rows 实现 domain.CandleRowSource
func (s *CSVSource) Rows() iter.Seq2[domain.CandleRow, error] {
	return func(yield func(domain.CandleRow, error) bool) {
		rc, err := s.open()
		if err != nil {
			yield(domain.CandleRow{}, fmt.Errorf("failed to open candle source: %w", err))
			return
		}
		defer rc.Close()

		r := csv.NewReader(rc)
		r.Comma = s.comma
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true

		header, err := r.Read()
		if err != nil {
			yield(domain.CandleRow{}, fmt.Errorf("failed to read candle header: %w", err))
			return
		}
		columns, err := columnIndex(header)
		if err != nil {
			yield(domain.CandleRow{}, err)
			return
		}

		for index := 1; ; index++ {
			record, err := r.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(domain.CandleRow{}, fmt.Errorf("failed to read candle row %d: %w", index, err))
				return
			}
			field := func(name string) string {
				if i := columns[name]; i < len(record) {
					return strings.TrimSpace(record[i])
				}
				return ""
			}
			row := domain.CandleRow{
				Index:        index,
				CurrencyPair: field(domain.ColumnCurrencyPair),
				Open:         field(domain.ColumnOpen),
				High:         field(domain.ColumnHigh),
				Low:          field(domain.ColumnLow),
				Close:        field(domain.ColumnClose),
				Volume:       field(domain.ColumnVolume),
				Timestamp:    field(domain.ColumnTimestamp),
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func columnIndex(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}
	var missing []string
	for _, name := range domain.RequiredCandleColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return columns, nil
}

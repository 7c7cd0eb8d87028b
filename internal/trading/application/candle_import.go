package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/logging"
	"github.com/wyfcoding/tradingbot/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// ImportPolicy 决定出现失败行时如何处理整批数据
type ImportPolicy string

const (
	// PolicySkip 跳过失败行，导入其余行并在报告中列出失败原因
	PolicySkip ImportPolicy = "skip"
	// PolicyReject 任意一行失败则整批不落库
	PolicyReject ImportPolicy = "reject"
)

var (
	// ErrImportRejected PolicyReject 下存在失败行
	ErrImportRejected = errors.New("candle import rejected")
	// ErrDuplicateCandle 业务键重复：同一批次内重复，或与已存储 K 线的 OHLCV 不一致
	ErrDuplicateCandle = errors.New("duplicate candle in batch")
)

// ParsePolicy 解析配置中的策略名，空串为 PolicySkip
func ParsePolicy(s string) (ImportPolicy, error) {
	switch ImportPolicy(s) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown import policy %q", s)
}

// RowFault 一行导入失败的原因
type RowFault struct {
	Row int
	Err error
}

// ImportReport 导入结果
type ImportReport struct {
	Rows     int
	Imported int
	Faults   []RowFault
	Duration time.Duration
}

// ImportConfig 导入参数
type ImportConfig struct {
	Policy    ImportPolicy
	BatchSize int
	Workers   int
}

// CandleImportService K 线导入与历史查询服务
type CandleImportService struct {
	repo    domain.CandleRepository
	cache   domain.CandleCache
	metrics *metrics.Metrics
	cfg     ImportConfig
}

// NewCandleImportService 创建导入服务，cache 与 m 可以为 nil
func NewCandleImportService(repo domain.CandleRepository, cache domain.CandleCache, m *metrics.Metrics, cfg ImportConfig) *CandleImportService {
	if cfg.Policy == "" {
		cfg.Policy = PolicySkip
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &CandleImportService{repo: repo, cache: cache, metrics: m, cfg: cfg}
}

// Import 读取整个导入源，按策略校验后分批落库并写入缓存。
// 源故障直接返回错误且不落库；PolicyReject 下存在失败行时返回 ErrImportRejected 与完整报告。
// 与已存储 K 线冲突的行记为失败行，不计入导入数量也不写缓存。
func (s *CandleImportService) Import(ctx context.Context, src domain.CandleRowSource) (*ImportReport, error) {
	start := time.Now()
	defer logging.LogDuration(ctx, "candle import finished", "policy", string(s.cfg.Policy))()

	report := &ImportReport{}
	var built []rowCandle
	chunk := make([]domain.CandleRow, 0, s.cfg.BatchSize)

	flush := func() error {
		ok, faults, err := s.build(ctx, chunk)
		if err != nil {
			return err
		}
		built = append(built, ok...)
		report.Faults = append(report.Faults, faults...)
		chunk = chunk[:0]
		return nil
	}

	for row, err := range src.Rows() {
		if err != nil {
			logging.Error(ctx, "candle_import.read failed", "row", report.Rows+1, "error", err)
			return nil, fmt.Errorf("failed to read candle source: %w", err)
		}
		report.Rows++
		chunk = append(chunk, row)
		if len(chunk) == s.cfg.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if len(chunk) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	kept, dupes := dedupe(built)
	report.Faults = append(report.Faults, dupes...)
	if s.cfg.Policy == PolicyReject && len(report.Faults) == 0 {
		conflicts, err := s.storedConflicts(ctx, kept)
		if err != nil {
			return nil, err
		}
		report.Faults = append(report.Faults, conflicts...)
	}
	sortFaults(report.Faults)
	s.countRejected(len(report.Faults))

	if len(report.Faults) > 0 && s.cfg.Policy == PolicyReject {
		return report, s.rejected(ctx, report)
	}

	rowOf := make(map[*domain.Candle]int, len(kept))
	candles := make([]*domain.Candle, len(kept))
	for i, b := range kept {
		rowOf[b.candle] = b.row
		candles[i] = b.candle
	}
	domain.SortCandles(candles)
	for i := 0; i < len(candles); i += s.cfg.BatchSize {
		batch := candles[i:min(i+s.cfg.BatchSize, len(candles))]
		conflicts, err := s.repo.SaveBatch(ctx, batch)
		if err != nil {
			return report, err
		}
		if len(conflicts) > 0 {
			batch = slices.DeleteFunc(slices.Clone(batch), func(c *domain.Candle) bool {
				return slices.Contains(conflicts, c)
			})
			faults := make([]RowFault, len(conflicts))
			for j, c := range conflicts {
				faults[j] = conflictFault(rowOf[c], c)
			}
			report.Faults = append(report.Faults, faults...)
			sortFaults(report.Faults)
			s.countRejected(len(faults))
		}
		report.Imported += len(batch)
		if s.cache != nil && len(batch) > 0 {
			if err := s.cache.Append(ctx, batch); err != nil {
				logging.Warn(ctx, "candle cache append failed", "count", len(batch), "error", err)
			}
		}
		if len(conflicts) > 0 && s.cfg.Policy == PolicyReject {
			return report, s.rejected(ctx, report)
		}
	}

	report.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.CandlesImported.Add(float64(report.Imported))
		s.metrics.ImportDuration.Observe(report.Duration.Seconds())
	}
	logging.Info(ctx, "candles imported", "rows", report.Rows, "imported", report.Imported, "faults", len(report.Faults))
	return report, nil
}

type rowCandle struct {
	row    int
	candle *domain.Candle
}

// build 并行解析一批行，结果保持行序
func (s *CandleImportService) build(ctx context.Context, rows []domain.CandleRow) ([]rowCandle, []RowFault, error) {
	results := make([]*domain.Candle, len(rows))
	errs := make([]error, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, row := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = domain.BuildCandle(row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	built := make([]rowCandle, 0, len(rows))
	var faults []RowFault
	for i := range rows {
		if errs[i] != nil {
			faults = append(faults, RowFault{Row: rows[i].Index, Err: errs[i]})
			continue
		}
		built = append(built, rowCandle{row: rows[i].Index, candle: results[i]})
	}
	return built, faults, nil
}

// dedupe 同一业务键只保留第一次出现的行
func dedupe(built []rowCandle) ([]rowCandle, []RowFault) {
	seen := make(map[string]int, len(built))
	out := make([]rowCandle, 0, len(built))
	var faults []RowFault
	for _, b := range built {
		key := importKey(b.candle)
		if first, ok := seen[key]; ok {
			faults = append(faults, RowFault{Row: b.row, Err: fmt.Errorf("%w: %s first seen at row %d", ErrDuplicateCandle, key, first)})
			continue
		}
		seen[key] = b.row
		out = append(out, b)
	}
	return out, faults
}

// storedConflicts 按货币对查询已存储的区间，找出业务键相同但 OHLCV 不同的行
func (s *CandleImportService) storedConflicts(ctx context.Context, kept []rowCandle) ([]RowFault, error) {
	type span struct{ from, to time.Time }
	spans := make(map[domain.CurrencyPair]span)
	for _, b := range kept {
		at := b.candle.BucketStart()
		sp, ok := spans[b.candle.Pair()]
		if !ok {
			sp = span{from: at, to: at}
		}
		if at.Before(sp.from) {
			sp.from = at
		}
		if at.After(sp.to) {
			sp.to = at
		}
		spans[b.candle.Pair()] = sp
	}

	stored := make(map[string]*domain.Candle)
	for pair, sp := range spans {
		existing, err := s.repo.Range(ctx, pair, sp.from, sp.to.Add(time.Second))
		if err != nil {
			return nil, err
		}
		for _, c := range existing {
			stored[importKey(c)] = c
		}
	}

	var faults []RowFault
	for _, b := range kept {
		if c, ok := stored[importKey(b.candle)]; ok && !domain.CandleBusinessEquals(c, b.candle) {
			faults = append(faults, conflictFault(b.row, b.candle))
		}
	}
	return faults, nil
}

func importKey(c *domain.Candle) string {
	return fmt.Sprintf("%s@%d", c.Pair(), c.BucketStart().Unix())
}

func conflictFault(row int, c *domain.Candle) RowFault {
	return RowFault{Row: row, Err: fmt.Errorf("%w: %s: %w", ErrDuplicateCandle, importKey(c), domain.ErrCandleConflict)}
}

func sortFaults(faults []RowFault) {
	slices.SortStableFunc(faults, func(a, b RowFault) int { return cmp.Compare(a.Row, b.Row) })
}

func (s *CandleImportService) countRejected(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.CandleRowsRejected.Add(float64(n))
	}
}

func (s *CandleImportService) rejected(ctx context.Context, report *ImportReport) error {
	first := report.Faults[0]
	logging.Warn(ctx, "candle import rejected", "faults", len(report.Faults), "first_row", first.Row, "error", first.Err)
	return fmt.Errorf("%w: %d faulty rows, first at row %d: %w", ErrImportRejected, len(report.Faults), first.Row, first.Err)
}

// History 返回 [from, to) 内的 K 线，优先读缓存，未命中时回源并回填缓存
func (s *CandleImportService) History(ctx context.Context, pair domain.CurrencyPair, from, to time.Time) ([]*domain.Candle, error) {
	if !from.Before(to) {
		return nil, nil
	}
	if s.cache != nil {
		cached, err := s.cache.Range(ctx, pair, from, to)
		if err != nil {
			logging.Warn(ctx, "candle cache range failed", "pair", pair.String(), "error", err)
		} else if len(cached) > 0 {
			return cached, nil
		}
	}

	candles, err := s.repo.Range(ctx, pair, from, to)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && len(candles) > 0 {
		if err := s.cache.Append(ctx, candles); err != nil {
			logging.Warn(ctx, "candle cache fill failed", "pair", pair.String(), "error", err)
		}
	}
	return candles, nil
}

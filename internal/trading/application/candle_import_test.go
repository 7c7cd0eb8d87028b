package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/metrics"
)

type rowsSource struct {
	rows []domain.CandleRow
	err  error
}

func (s rowsSource) Rows() iter.Seq2[domain.CandleRow, error] {
	return func(yield func(domain.CandleRow, error) bool) {
		for _, r := range s.rows {
			if !yield(r, nil) {
				return
			}
		}
		if s.err != nil {
			yield(domain.CandleRow{}, s.err)
		}
	}
}

func row(index int, pair string, ts int64, closePrice string) domain.CandleRow {
	return domain.CandleRow{
		Index:        index,
		CurrencyPair: pair,
		Open:         "100",
		High:         "110",
		Low:          "90",
		Close:        closePrice,
		Volume:       "2",
		Timestamp:    fmt.Sprint(ts),
	}
}

func series(n int) []domain.CandleRow {
	rows := make([]domain.CandleRow, n)
	for i := range rows {
		rows[i] = row(i+1, "ETH/EUR", int64(60*(n-i)), "105")
	}
	return rows
}

func TestImportSkipPolicy(t *testing.T) {
	repo := newMemoryCandleRepo()
	cache := &memoryCandleCache{}
	m := metrics.New("import_skip_test")
	svc := NewCandleImportService(repo, cache, m, ImportConfig{Policy: PolicySkip, BatchSize: 4, Workers: 3})

	rows := series(10)
	rows[2].High = "80"
	rows[6].Close = "n/a"

	report, err := svc.Import(context.Background(), rowsSource{rows: rows})
	require.NoError(t, err)
	assert.Equal(t, 10, report.Rows)
	assert.Equal(t, 8, report.Imported)
	require.Len(t, report.Faults, 2)
	assert.Equal(t, 3, report.Faults[0].Row)
	assert.ErrorIs(t, report.Faults[0].Err, domain.ErrHighBelowLow)
	assert.Equal(t, 7, report.Faults[1].Row)
	assert.ErrorIs(t, report.Faults[1].Err, domain.ErrInvalidNumber)

	assert.Equal(t, 2, repo.batches)
	assert.Len(t, cache.candles, 8)
	for _, c := range cache.candles {
		assert.True(t, c.Assigned())
	}
	assert.Equal(t, 8.0, testutil.ToFloat64(m.CandlesImported))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CandleRowsRejected))
}

func TestImportRejectPolicy(t *testing.T) {
	repo := newMemoryCandleRepo()
	svc := NewCandleImportService(repo, nil, nil, ImportConfig{Policy: PolicyReject, BatchSize: 3, Workers: 2})

	rows := series(5)
	rows[4].CurrencyPair = "ETHEUR"

	report, err := svc.Import(context.Background(), rowsSource{rows: rows})
	require.ErrorIs(t, err, ErrImportRejected)
	assert.ErrorIs(t, err, domain.ErrMalformedPair)
	require.NotNil(t, report)
	assert.Zero(t, report.Imported)
	assert.Len(t, report.Faults, 1)
	assert.Zero(t, repo.batches)
}

func TestImportReportsDuplicateRows(t *testing.T) {
	repo := newMemoryCandleRepo()
	svc := NewCandleImportService(repo, nil, nil, ImportConfig{})

	rows := []domain.CandleRow{
		row(1, "ETH/EUR", 60, "101"),
		row(2, "eth-eur", 60, "102"),
		row(3, "ETH/EUR", 120, "103"),
	}
	report, err := svc.Import(context.Background(), rowsSource{rows: rows})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	require.Len(t, report.Faults, 1)
	assert.Equal(t, 2, report.Faults[0].Row)
	assert.ErrorIs(t, report.Faults[0].Err, ErrDuplicateCandle)

	stored, err := repo.FindByBusinessKey(context.Background(), domain.MustParseCurrencyPair("ETH/EUR"), time.Unix(60, 0))
	require.NoError(t, err)
	assert.Equal(t, "101", stored.Close().String())
}

func TestImportReportsChangedRowsAsConflicts(t *testing.T) {
	repo := newMemoryCandleRepo()
	ctx := context.Background()
	first := NewCandleImportService(repo, nil, nil, ImportConfig{})
	_, err := first.Import(ctx, rowsSource{rows: []domain.CandleRow{
		row(1, "ETH/EUR", 60, "101"),
		row(2, "ETH/EUR", 120, "102"),
	}})
	require.NoError(t, err)

	cache := &memoryCandleCache{}
	m := metrics.New("import_conflict_test")
	svc := NewCandleImportService(repo, cache, m, ImportConfig{BatchSize: 10})
	report, err := svc.Import(ctx, rowsSource{rows: []domain.CandleRow{
		row(1, "ETH/EUR", 60, "105"),
		row(2, "ETH/EUR", 120, "102"),
		row(3, "ETH/EUR", 180, "103"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	require.Len(t, report.Faults, 1)
	assert.Equal(t, 1, report.Faults[0].Row)
	assert.ErrorIs(t, report.Faults[0].Err, ErrDuplicateCandle)
	assert.ErrorIs(t, report.Faults[0].Err, domain.ErrCandleConflict)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandleRowsRejected))

	require.Len(t, cache.candles, 2)
	for _, c := range cache.candles {
		assert.NotEqual(t, int64(60), c.BucketStart().Unix())
		assert.True(t, c.Assigned())
	}

	stored, err := repo.FindByBusinessKey(ctx, domain.MustParseCurrencyPair("ETH/EUR"), time.Unix(60, 0))
	require.NoError(t, err)
	assert.Equal(t, "101", stored.Close().String())
}

func TestImportRejectPolicyChecksStoredRows(t *testing.T) {
	repo := newMemoryCandleRepo()
	ctx := context.Background()
	_, err := NewCandleImportService(repo, nil, nil, ImportConfig{}).
		Import(ctx, rowsSource{rows: []domain.CandleRow{row(1, "ETH/EUR", 60, "101")}})
	require.NoError(t, err)
	batches := repo.batches

	svc := NewCandleImportService(repo, nil, nil, ImportConfig{Policy: PolicyReject})
	report, err := svc.Import(ctx, rowsSource{rows: []domain.CandleRow{
		row(1, "ETH/EUR", 120, "102"),
		row(2, "ETH/EUR", 60, "105"),
	}})
	require.ErrorIs(t, err, ErrImportRejected)
	assert.ErrorIs(t, err, domain.ErrCandleConflict)
	require.Len(t, report.Faults, 1)
	assert.Equal(t, 2, report.Faults[0].Row)
	assert.Zero(t, report.Imported)
	assert.Equal(t, batches, repo.batches)

	report, err = svc.Import(ctx, rowsSource{rows: []domain.CandleRow{
		row(1, "ETH/EUR", 60, "101"),
		row(2, "ETH/EUR", 120, "102"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	assert.Empty(t, report.Faults)
}

func TestImportSourceFailure(t *testing.T) {
	repo := newMemoryCandleRepo()
	svc := NewCandleImportService(repo, nil, nil, ImportConfig{BatchSize: 2})
	ioErr := errors.New("truncated file")

	_, err := svc.Import(context.Background(), rowsSource{rows: series(3), err: ioErr})
	assert.ErrorIs(t, err, ioErr)
	assert.Zero(t, repo.batches)
}

func TestImportRepositoryFailure(t *testing.T) {
	repo := newMemoryCandleRepo()
	repo.err = errBoom
	svc := NewCandleImportService(repo, nil, nil, ImportConfig{})

	_, err := svc.Import(context.Background(), rowsSource{rows: series(2)})
	assert.ErrorIs(t, err, errBoom)
}

func TestImportCacheFailureIsNotFatal(t *testing.T) {
	svc := NewCandleImportService(newMemoryCandleRepo(), &memoryCandleCache{err: errBoom}, nil, ImportConfig{})
	report, err := svc.Import(context.Background(), rowsSource{rows: series(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
}

func TestImportCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewCandleImportService(newMemoryCandleRepo(), nil, nil, ImportConfig{Workers: 2})

	_, err := svc.Import(ctx, rowsSource{rows: series(4)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHistoryReadsThroughCache(t *testing.T) {
	repo := newMemoryCandleRepo()
	cache := &memoryCandleCache{}
	svc := NewCandleImportService(repo, nil, nil, ImportConfig{})
	_, err := svc.Import(context.Background(), rowsSource{rows: series(5)})
	require.NoError(t, err)

	svc = NewCandleImportService(repo, cache, nil, ImportConfig{})
	pair := domain.MustParseCurrencyPair("ETH/EUR")

	got, err := svc.History(context.Background(), pair, time.Unix(60, 0), time.Unix(240, 0))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(60), got[0].BucketStart().Unix())
	assert.Equal(t, 1, repo.ranges)
	assert.Len(t, cache.candles, 3)

	again, err := svc.History(context.Background(), pair, time.Unix(60, 0), time.Unix(240, 0))
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.Equal(t, 1, repo.ranges)

	empty, err := svc.History(context.Background(), pair, time.Unix(240, 0), time.Unix(60, 0))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	p, err = ParsePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}

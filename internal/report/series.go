package report

import (
	"context"
	"fmt"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// SeriesBuilder assembles the allocator's input from the aggregate cache: a
// trailing 12-month saldo series plus the older bucket.
type SeriesBuilder struct {
	repo *storage.Repository
}

func NewSeriesBuilder(repo *storage.Repository) *SeriesBuilder {
	return &SeriesBuilder{repo: repo}
}

// Build returns the 12 months ending at (year, month), oldest first, with
// months missing from the cache filled in as zero saldo, and the summed net
// of everything older.
func (b *SeriesBuilder) Build(ctx context.Context, year, month int) ([]MonthSaldo, int64, error) {
	if month < 1 || month > 12 {
		return nil, 0, core.ErrInvalidMonth
	}

	end := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, -11, 0)

	q := b.repo.Queries()
	rows, err := q.ListAggregatesBetween(ctx,
		start.Year(), int(start.Month()), year, month)
	if err != nil {
		return nil, 0, fmt.Errorf("build saldo series: %w", err)
	}

	byMonth := make(map[MonthRef]core.MonthlyAggregate, len(rows))
	for _, a := range rows {
		byMonth[MonthRef{Year: a.Year, Month: a.Month}] = a
	}

	series := make([]MonthSaldo, 0, 12)
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 1, 0) {
		ref := MonthRef{Year: cur.Year(), Month: int(cur.Month())}
		var saldo int64
		if a, ok := byMonth[ref]; ok {
			saldo = a.Income.Cents - a.Expense.Cents
		}
		series = append(series, MonthSaldo{MonthRef: ref, Saldo: saldo})
	}

	older, err := q.SumAggregatesBefore(ctx, start.Year(), int(start.Month()))
	if err != nil {
		return nil, 0, fmt.Errorf("sum older bucket: %w", err)
	}

	return series, older, nil
}

// Coverage builds the series and runs the allocator in one call.
func (b *SeriesBuilder) Coverage(ctx context.Context, year, month int) ([]MonthCoverage, error) {
	series, older, err := b.Build(ctx, year, month)
	if err != nil {
		return nil, err
	}
	return Cover(series, older), nil
}

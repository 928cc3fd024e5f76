package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"bilancio/internal/storage"
)

// Auditor verifies that the cached monthly aggregates still match a direct
// sum over surviving entries. The worker runs it after every change event;
// drift means a bug in the delta bookkeeping, not something to auto-repair.
type Auditor struct {
	repo *storage.Repository
}

func NewAuditor(repo *storage.Repository) *Auditor {
	return &Auditor{repo: repo}
}

// CheckMonth compares the cached aggregate row against a recomputation.
// Returns true when they agree.
func (a *Auditor) CheckMonth(ctx context.Context, year, month int) (bool, error) {
	q := a.repo.Queries()

	cached, err := q.GetAggregate(ctx, year, month)
	if err != nil {
		return false, fmt.Errorf("read cached aggregate: %w", err)
	}
	actual, err := q.RecomputeAggregate(ctx, year, month)
	if err != nil {
		return false, fmt.Errorf("recompute aggregate: %w", err)
	}

	ok := cached.Income.Cents == actual.Income.Cents &&
		cached.Expense.Cents == actual.Expense.Cents
	if !ok {
		slog.WarnContext(ctx, "Aggregate drift detected",
			"year", year,
			"month", month,
			"cached_income", cached.Income.Cents,
			"actual_income", actual.Income.Cents,
			"cached_expense", cached.Expense.Cents,
			"actual_expense", actual.Expense.Cents)
	}
	return ok, nil
}

package report

import (
	"context"
	"fmt"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// LimitResolver answers "which spending cap applies to this category in this
// month" and how much of it is used. Read-only; snapshot semantics come from
// the storage engine.
type LimitResolver struct {
	repo *storage.Repository
}

func NewLimitResolver(repo *storage.Repository) *LimitResolver {
	return &LimitResolver{repo: repo}
}

// Usage is the spending position against the resolved limit. Left may be
// negative: overage is a reportable state, not an error.
type Usage struct {
	Used     core.Money
	Limit    core.Money
	HasLimit bool
	Percent  float64
	Left     core.Money
}

// ResolveLimit picks the winning limit for (category, year, month) by
// priority: exact year+month, month-recurring, year-only, global.
// Returns nil when no scope matches.
func (r *LimitResolver) ResolveLimit(ctx context.Context, categoryID int64, year, month int) (*core.CategoryLimit, error) {
	if month < 1 || month > 12 {
		return nil, core.ErrInvalidMonth
	}

	limits, err := r.repo.Queries().ListLimitsByCategory(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("resolve limit: %w", err)
	}

	var monthRecurring, yearly, global *core.CategoryLimit
	for i := range limits {
		l := limits[i]
		switch l.Scope() {
		case core.ScopeMonthly:
			if *l.Year == year && *l.Month == month {
				return &l, nil
			}
		case core.ScopeMonthRecurring:
			if *l.Month == month {
				monthRecurring = &l
			}
		case core.ScopeYearly:
			if *l.Year == year {
				yearly = &l
			}
		case core.ScopeGlobal:
			global = &l
		}
	}

	switch {
	case monthRecurring != nil:
		return monthRecurring, nil
	case yearly != nil:
		return yearly, nil
	case global != nil:
		return global, nil
	}
	return nil, nil
}

// ComputeUsage sums the month's spending for the category and relates it to
// the resolved limit.
func (r *LimitResolver) ComputeUsage(ctx context.Context, categoryID int64, year, month int) (Usage, error) {
	limit, err := r.ResolveLimit(ctx, categoryID, year, month)
	if err != nil {
		return Usage{}, err
	}

	used, err := r.repo.Queries().SumCategoryExpenses(ctx, categoryID, year, month)
	if err != nil {
		return Usage{}, fmt.Errorf("compute usage: %w", err)
	}

	u := Usage{Used: core.Money{Cents: used}}
	if limit != nil {
		u.HasLimit = true
		u.Limit = limit.Limit
		u.Left = core.Money{Cents: limit.Limit.Cents - used}
		if limit.Limit.Cents > 0 {
			u.Percent = float64(used) / float64(limit.Limit.Cents) * 100
		}
	}
	return u, nil
}

// RemoveLimit drops a cap. Removing an absent one is a no-op.
func (r *LimitResolver) RemoveLimit(ctx context.Context, id int64) error {
	if err := r.repo.Queries().DeleteLimit(ctx, id); err != nil {
		return fmt.Errorf("remove limit: %w", err)
	}
	return nil
}

// SetLimit stores a new cap after validation. One limit per (category, scope)
// is enforced by the storage schema.
func (r *LimitResolver) SetLimit(ctx context.Context, l core.CategoryLimit) (int64, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}
	if _, err := r.repo.Queries().GetCategory(ctx, l.CategoryID); err != nil {
		return 0, err
	}
	id, err := r.repo.Queries().CreateLimit(ctx, l)
	if err != nil {
		return 0, fmt.Errorf("set limit: %w", err)
	}
	return id, nil
}

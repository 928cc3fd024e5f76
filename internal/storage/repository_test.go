package storage

import (
	"context"
	"errors"
	"testing"

	"bilancio/internal/core"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestEntryRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	envID, err := q.CreateEnvelope(ctx, core.Envelope{Name: "Vacanze", Color: "#00ff00"})
	if err != nil {
		t.Fatalf("CreateEnvelope failed: %v", err)
	}

	in := core.Entry{
		Date:              core.NewDate(2025, 3, 15),
		Amount:            core.Money{Cents: 12345},
		SubcategoryID:     FundSubcategoryID,
		Description:       "deposit",
		DepositEnvelopeID: &envID,
	}
	id, err := q.CreateEntry(ctx, in)
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}

	got, err := q.GetEntry(ctx, id)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Amount.Cents != 12345 || got.SubcategoryID != FundSubcategoryID {
		t.Fatalf("GetEntry = %+v, amount/subcategory mismatch", got)
	}
	if got.Date.Year() != 2025 || got.Date.Month() != 3 || got.Date.Day() != 15 {
		t.Fatalf("GetEntry date = %v, want 2025-03-15", got.Date)
	}
	if got.DepositEnvelopeID == nil || *got.DepositEnvelopeID != envID {
		t.Fatalf("GetEntry deposit ref = %v, want %d", got.DepositEnvelopeID, envID)
	}
	if got.FinancedEnvelopeID != nil || got.LinkedEntryID != nil || got.Archived {
		t.Fatalf("GetEntry unexpected extra state: %+v", got)
	}
}

func TestGetEntryNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Queries().GetEntry(context.Background(), 4242)
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("GetEntry on missing id = %v, want ErrNotFound", err)
	}
}

func TestListEntriesByMonth(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	dates := []core.Date{
		core.NewDate(2025, 2, 28),
		core.NewDate(2025, 3, 1),
		core.NewDate(2025, 3, 31),
		core.NewDate(2025, 4, 1),
	}
	for _, d := range dates {
		if _, err := q.CreateEntry(ctx, core.Entry{
			Date: d, Amount: core.Money{Cents: 100}, SubcategoryID: 3,
		}); err != nil {
			t.Fatalf("CreateEntry failed: %v", err)
		}
	}

	entries, err := q.ListEntriesByMonth(ctx, 2025, 3)
	if err != nil {
		t.Fatalf("ListEntriesByMonth failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListEntriesByMonth returned %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Date.Month() != 3 {
			t.Fatalf("entry dated %v leaked into March listing", e.Date)
		}
	}
}

func TestClassifySubcategory(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	tests := []struct {
		name          string
		subcategoryID int64
		want          core.Kind
	}{
		{name: "fund subcategory is expense-typed", subcategoryID: FundSubcategoryID, want: core.KindExpense},
		{name: "other income is income-typed", subcategoryID: OtherIncomeSubcategoryID, want: core.KindIncome},
		{name: "varie is expense-typed", subcategoryID: 3, want: core.KindExpense},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.ClassifySubcategory(ctx, tt.subcategoryID)
			if err != nil {
				t.Fatalf("ClassifySubcategory failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ClassifySubcategory(%d) = %v, want %v", tt.subcategoryID, got, tt.want)
			}
		})
	}

	if _, err := q.ClassifySubcategory(ctx, 99); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("ClassifySubcategory on missing id = %v, want ErrNotFound", err)
	}
}

func TestApplyAggregateDelta(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	// missing row reads as zero
	agg, err := q.GetAggregate(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Income.Cents != 0 || agg.Expense.Cents != 0 {
		t.Fatalf("GetAggregate on missing month = %+v, want zeros", agg)
	}

	if err := q.ApplyAggregateDelta(ctx, 2025, 6, 5000, 1200); err != nil {
		t.Fatalf("ApplyAggregateDelta failed: %v", err)
	}
	if err := q.ApplyAggregateDelta(ctx, 2025, 6, -2000, 300); err != nil {
		t.Fatalf("ApplyAggregateDelta failed: %v", err)
	}

	agg, err = q.GetAggregate(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Income.Cents != 3000 || agg.Expense.Cents != 1500 {
		t.Fatalf("aggregate = %+v, want income 3000 expense 1500", agg)
	}

	if err := q.ApplyAggregateDelta(ctx, 2025, 13, 1, 0); !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("ApplyAggregateDelta month 13 = %v, want ErrInvalidMonth", err)
	}
}

func TestSumAggregatesBefore(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	// December of the prior year must sort before January: plain (year, month)
	// tuple comparison, not string order.
	if err := q.ApplyAggregateDelta(ctx, 2024, 12, 10000, 4000); err != nil {
		t.Fatalf("ApplyAggregateDelta failed: %v", err)
	}
	if err := q.ApplyAggregateDelta(ctx, 2025, 1, 500, 0); err != nil {
		t.Fatalf("ApplyAggregateDelta failed: %v", err)
	}

	saldo, err := q.SumAggregatesBefore(ctx, 2025, 1)
	if err != nil {
		t.Fatalf("SumAggregatesBefore failed: %v", err)
	}
	if saldo != 6000 {
		t.Fatalf("SumAggregatesBefore = %d, want 6000", saldo)
	}
}

func TestFindLeftoverEntry(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	envID, err := q.CreateEnvelope(ctx, core.Envelope{Name: "Bici"})
	if err != nil {
		t.Fatalf("CreateEnvelope failed: %v", err)
	}
	purchaseID, err := q.CreateEntry(ctx, core.Entry{
		Date: core.NewDate(2025, 5, 10), Amount: core.Money{Cents: 30000},
		SubcategoryID: 3, FinancedEnvelopeID: &envID,
	})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}

	if _, err := q.FindLeftoverEntry(ctx, purchaseID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("FindLeftoverEntry before posting = %v, want ErrNotFound", err)
	}

	leftoverID, err := q.CreateEntry(ctx, core.Entry{
		Date: core.NewDate(2025, 5, 10), Amount: core.Money{Cents: 2500},
		SubcategoryID: OtherIncomeSubcategoryID, LinkedEntryID: &purchaseID,
	})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}

	got, err := q.FindLeftoverEntry(ctx, purchaseID)
	if err != nil {
		t.Fatalf("FindLeftoverEntry failed: %v", err)
	}
	if got.ID != leftoverID || got.Amount.Cents != 2500 {
		t.Fatalf("FindLeftoverEntry = %+v, want id %d amount 2500", got, leftoverID)
	}
}

func TestFindTopUpDeposit(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	envID, err := q.CreateEnvelope(ctx, core.Envelope{Name: "Regali"})
	if err != nil {
		t.Fatalf("CreateEnvelope failed: %v", err)
	}
	// deposit in a different month must not match
	if _, err := q.CreateEntry(ctx, core.Entry{
		Date: core.NewDate(2025, 4, 1), Amount: core.Money{Cents: 5000},
		SubcategoryID: FundSubcategoryID, DepositEnvelopeID: &envID,
	}); err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	topUpID, err := q.CreateEntry(ctx, core.Entry{
		Date: core.NewDate(2025, 5, 1), Amount: core.Money{Cents: 8000},
		SubcategoryID: FundSubcategoryID, DepositEnvelopeID: &envID,
	})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}

	got, err := q.FindTopUpDeposit(ctx, envID, 2025, 5)
	if err != nil {
		t.Fatalf("FindTopUpDeposit failed: %v", err)
	}
	if got.ID != topUpID {
		t.Fatalf("FindTopUpDeposit = entry %d, want %d", got.ID, topUpID)
	}

	if _, err := q.FindTopUpDeposit(ctx, envID, 2025, 6); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("FindTopUpDeposit empty month = %v, want ErrNotFound", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	id, err := q.CreateEnvelope(ctx, core.Envelope{
		Name: "Auto", Color: "#ff0000", Target: &core.Money{Cents: 500000},
	})
	if err != nil {
		t.Fatalf("CreateEnvelope failed: %v", err)
	}

	env, err := q.GetEnvelope(ctx, id)
	if err != nil {
		t.Fatalf("GetEnvelope failed: %v", err)
	}
	if env.Name != "Auto" || env.Target == nil || env.Target.Cents != 500000 {
		t.Fatalf("GetEnvelope = %+v", env)
	}
	if env.Saldo.Cents != 0 || env.Finished != nil || env.Closed != nil || env.EntryID != nil {
		t.Fatalf("new envelope has unexpected state: %+v", env)
	}

	if err := q.UpdateEnvelopeSaldo(ctx, id, 7500); err != nil {
		t.Fatalf("UpdateEnvelopeSaldo failed: %v", err)
	}
	env, err = q.GetEnvelope(ctx, id)
	if err != nil {
		t.Fatalf("GetEnvelope failed: %v", err)
	}
	if env.Saldo.Cents != 7500 {
		t.Fatalf("saldo = %d, want 7500", env.Saldo.Cents)
	}
}

func TestMarkAndReopenEnvelope(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	id, err := q.CreateEnvelope(ctx, core.Envelope{Name: "Pc nuovo"})
	if err != nil {
		t.Fatalf("CreateEnvelope failed: %v", err)
	}

	if err := q.MarkEnvelopeFinished(ctx, id, core.NewDate(2025, 7, 1), int64Ptr(42)); err != nil {
		t.Fatalf("MarkEnvelopeFinished failed: %v", err)
	}
	env, err := q.GetEnvelope(ctx, id)
	if err != nil {
		t.Fatalf("GetEnvelope failed: %v", err)
	}
	if env.Finished == nil || env.EntryID == nil || *env.EntryID != 42 {
		t.Fatalf("finished envelope = %+v", env)
	}

	envs, err := q.ListActiveEnvelopes(ctx)
	if err != nil {
		t.Fatalf("ListActiveEnvelopes failed: %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("finished envelope listed as active: %+v", envs)
	}

	if err := q.ReopenEnvelope(ctx, id, 1234); err != nil {
		t.Fatalf("ReopenEnvelope failed: %v", err)
	}
	env, err = q.GetEnvelope(ctx, id)
	if err != nil {
		t.Fatalf("GetEnvelope failed: %v", err)
	}
	if env.Finished != nil || env.EntryID != nil || env.Saldo.Cents != 1234 {
		t.Fatalf("reopened envelope = %+v", env)
	}
}

func TestLimitScopeUniqueness(t *testing.T) {
	repo := newTestRepo(t)
	q := repo.Queries()
	ctx := context.Background()

	global := core.CategoryLimit{CategoryID: 3, Limit: core.Money{Cents: 100000}}
	if _, err := q.CreateLimit(ctx, global); err != nil {
		t.Fatalf("CreateLimit failed: %v", err)
	}
	if _, err := q.CreateLimit(ctx, global); err == nil {
		t.Fatal("duplicate global limit for the same category must be rejected")
	}

	// a different scope for the same category is fine
	monthly := core.CategoryLimit{
		CategoryID: 3, Year: intPtr(2025), Month: intPtr(6),
		Limit: core.Money{Cents: 50000},
	}
	if _, err := q.CreateLimit(ctx, monthly); err != nil {
		t.Fatalf("CreateLimit for monthly scope failed: %v", err)
	}

	limits, err := q.ListLimitsByCategory(ctx, 3)
	if err != nil {
		t.Fatalf("ListLimitsByCategory failed: %v", err)
	}
	if len(limits) != 2 {
		t.Fatalf("ListLimitsByCategory returned %d rows, want 2", len(limits))
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := repo.InTx(ctx, func(q *Queries) error {
		if _, err := q.CreateEntry(ctx, core.Entry{
			Date: core.NewDate(2025, 1, 1), Amount: core.Money{Cents: 100}, SubcategoryID: 3,
		}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("InTx error = %v, want %v", err, wantErr)
	}

	entries, err := repo.Queries().ListEntriesByMonth(ctx, 2025, 1)
	if err != nil {
		t.Fatalf("ListEntriesByMonth failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rolled-back entry is still visible: %+v", entries)
	}
}

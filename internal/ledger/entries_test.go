package ledger

import (
	"context"
	"errors"
	"testing"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// checkAggregateConsistency asserts the cached month totals equal a direct
// recomputation over surviving entries.
func checkAggregateConsistency(t *testing.T, repo *storage.Repository, year, month int) {
	t.Helper()
	ctx := context.Background()
	q := repo.Queries()

	cached, err := q.GetAggregate(ctx, year, month)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	actual, err := q.RecomputeAggregate(ctx, year, month)
	if err != nil {
		t.Fatalf("RecomputeAggregate failed: %v", err)
	}
	if cached.Income.Cents != actual.Income.Cents || cached.Expense.Cents != actual.Expense.Cents {
		t.Fatalf("aggregate drift for %d-%02d: cached %+v, actual %+v", year, month, cached, actual)
	}
}

type fakePublisher struct {
	msgs []*amqp.LedgerEventMessage
}

func (f *fakePublisher) PublishLedgerEvent(_ context.Context, msg *amqp.LedgerEventMessage) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

const (
	incomeSubcategory  = storage.OtherIncomeSubcategoryID
	expenseSubcategory = int64(3) // Varie, seeded under the expense category
)

func TestAddEntryAppliesAggregates(t *testing.T) {
	repo := newTestRepo(t)
	l := NewEntryLedger(repo, nil)
	ctx := context.Background()

	if _, err := l.AddEntry(ctx, incomeSubcategory, core.Money{Cents: 250000}, "stipendio", core.NewDate(2025, 6, 1)); err != nil {
		t.Fatalf("AddEntry income failed: %v", err)
	}
	if _, err := l.AddEntry(ctx, expenseSubcategory, core.Money{Cents: 4300}, "spesa", core.NewDate(2025, 6, 12)); err != nil {
		t.Fatalf("AddEntry expense failed: %v", err)
	}

	agg, err := repo.Queries().GetAggregate(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Income.Cents != 250000 || agg.Expense.Cents != 4300 {
		t.Fatalf("aggregate = %+v, want income 250000 expense 4300", agg)
	}
	checkAggregateConsistency(t, repo, 2025, 6)
}

func TestAddEntryValidation(t *testing.T) {
	repo := newTestRepo(t)
	l := NewEntryLedger(repo, nil)
	ctx := context.Background()

	tests := []struct {
		name          string
		subcategoryID int64
		amount        core.Money
		date          core.Date
		wantErr       error
	}{
		{name: "zero amount", subcategoryID: expenseSubcategory, amount: core.Money{}, date: core.NewDate(2025, 6, 1), wantErr: core.ErrInvalidAmount},
		{name: "zero date", subcategoryID: expenseSubcategory, amount: core.Money{Cents: 100}, wantErr: core.ErrInvalidDate},
		{name: "unknown subcategory", subcategoryID: 99, amount: core.Money{Cents: 100}, date: core.NewDate(2025, 6, 1), wantErr: core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.AddEntry(ctx, tt.subcategoryID, tt.amount, "", tt.date)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddEntry error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// nothing may have landed
	entries, err := repo.Queries().ListEntriesByMonth(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("ListEntriesByMonth failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected entries persisted: %+v", entries)
	}
}

func TestAmendAmount(t *testing.T) {
	repo := newTestRepo(t)
	l := NewEntryLedger(repo, nil)
	ctx := context.Background()

	id, err := l.AddEntry(ctx, expenseSubcategory, core.Money{Cents: 1200}, "cena", core.NewDate(2025, 6, 20))
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	if err := l.AmendAmount(ctx, id, core.Money{Cents: 2000}); err != nil {
		t.Fatalf("AmendAmount failed: %v", err)
	}

	agg, err := repo.Queries().GetAggregate(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Expense.Cents != 2000 {
		t.Fatalf("expense after amend = %d, want 2000", agg.Expense.Cents)
	}
	checkAggregateConsistency(t, repo, 2025, 6)

	// same amount is a no-op
	if err := l.AmendAmount(ctx, id, core.Money{Cents: 2000}); err != nil {
		t.Fatalf("AmendAmount no-op failed: %v", err)
	}

	if err := l.AmendAmount(ctx, 4242, core.Money{Cents: 100}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("AmendAmount on missing entry = %v, want ErrNotFound", err)
	}
}

func TestAmendDepositRewritesSaldo(t *testing.T) {
	repo := newTestRepo(t)
	entries := NewEntryLedger(repo, nil)
	envelopes := NewEnvelopeLedger(repo, nil)
	ctx := context.Background()

	env, err := envelopes.CreateEnvelope(ctx, "Vacanze", "#00ff00", nil, nil, core.Date{})
	if err != nil {
		t.Fatalf("CreateEnvelope failed: %v", err)
	}
	depositID, err := envelopes.Deposit(ctx, env.ID, core.Money{Cents: 10000}, core.NewDate(2025, 6, 1), "")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if err := entries.AmendAmount(ctx, depositID, core.Money{Cents: 15000}); err != nil {
		t.Fatalf("AmendAmount failed: %v", err)
	}

	got, err := repo.Queries().GetEnvelope(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetEnvelope failed: %v", err)
	}
	if got.Saldo.Cents != 15000 {
		t.Fatalf("saldo after amending deposit = %d, want 15000", got.Saldo.Cents)
	}
	checkAggregateConsistency(t, repo, 2025, 6)
}

func TestDeleteEntryReversesAggregates(t *testing.T) {
	repo := newTestRepo(t)
	l := NewEntryLedger(repo, nil)
	ctx := context.Background()

	id, err := l.AddEntry(ctx, incomeSubcategory, core.Money{Cents: 9000}, "", core.NewDate(2025, 7, 3))
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	if err := l.DeleteEntry(ctx, id); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}

	agg, err := repo.Queries().GetAggregate(ctx, 2025, 7)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Income.Cents != 0 || agg.Expense.Cents != 0 {
		t.Fatalf("aggregate after delete = %+v, want zeros", agg)
	}
	checkAggregateConsistency(t, repo, 2025, 7)

	// deleting again must stay a silent no-op
	if err := l.DeleteEntry(ctx, id); err != nil {
		t.Fatalf("repeated DeleteEntry failed: %v", err)
	}
}

func TestDeleteDepositDecrementsSaldo(t *testing.T) {
	repo := newTestRepo(t)
	entries := NewEntryLedger(repo, nil)
	envelopes := NewEnvelopeLedger(repo, nil)
	ctx := context.Background()

	env, err := envelopes.CreateEnvelope(ctx, "Regali", "", nil, nil, core.Date{})
	if err != nil {
		t.Fatalf("CreateEnvelope failed: %v", err)
	}
	depositID, err := envelopes.Deposit(ctx, env.ID, core.Money{Cents: 20000}, core.NewDate(2025, 6, 1), "")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if err := entries.DeleteEntry(ctx, depositID); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}

	got, err := repo.Queries().GetEnvelope(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetEnvelope failed: %v", err)
	}
	if got.Saldo.Cents != 0 {
		t.Fatalf("saldo after deleting deposit = %d, want 0", got.Saldo.Cents)
	}
	checkAggregateConsistency(t, repo, 2025, 6)
}

func TestSetArchived(t *testing.T) {
	repo := newTestRepo(t)
	l := NewEntryLedger(repo, nil)
	ctx := context.Background()

	id, err := l.AddEntry(ctx, expenseSubcategory, core.Money{Cents: 3000}, "", core.NewDate(2025, 8, 5))
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	if err := l.SetArchived(ctx, id, true); err != nil {
		t.Fatalf("SetArchived failed: %v", err)
	}
	agg, err := repo.Queries().GetAggregate(ctx, 2025, 8)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Expense.Cents != 0 {
		t.Fatalf("archived entry still counted: expense = %d", agg.Expense.Cents)
	}
	checkAggregateConsistency(t, repo, 2025, 8)

	// archiving twice is a no-op
	if err := l.SetArchived(ctx, id, true); err != nil {
		t.Fatalf("repeated SetArchived failed: %v", err)
	}

	if err := l.SetArchived(ctx, id, false); err != nil {
		t.Fatalf("unarchive failed: %v", err)
	}
	agg, err = repo.Queries().GetAggregate(ctx, 2025, 8)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Expense.Cents != 3000 {
		t.Fatalf("unarchived entry missing: expense = %d, want 3000", agg.Expense.Cents)
	}
	checkAggregateConsistency(t, repo, 2025, 8)
}

func TestSetArchivedRejectsEnvelopeEntries(t *testing.T) {
	repo := newTestRepo(t)
	entries := NewEntryLedger(repo, nil)
	envelopes := NewEnvelopeLedger(repo, nil)
	ctx := context.Background()

	env, err := envelopes.CreateEnvelope(ctx, "Bici", "", nil, nil, core.Date{})
	if err != nil {
		t.Fatalf("CreateEnvelope failed: %v", err)
	}
	depositID, err := envelopes.Deposit(ctx, env.ID, core.Money{Cents: 5000}, core.NewDate(2025, 6, 1), "")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if err := entries.SetArchived(ctx, depositID, true); !errors.Is(err, core.ErrConstraintViolation) {
		t.Fatalf("SetArchived on deposit = %v, want ErrConstraintViolation", err)
	}
}

func TestAggregateConsistencyAfterMixedSequence(t *testing.T) {
	repo := newTestRepo(t)
	l := NewEntryLedger(repo, nil)
	ctx := context.Background()

	a, err := l.AddEntry(ctx, incomeSubcategory, core.Money{Cents: 100000}, "", core.NewDate(2025, 9, 1))
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}
	b, err := l.AddEntry(ctx, expenseSubcategory, core.Money{Cents: 4500}, "", core.NewDate(2025, 9, 10))
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}
	c, err := l.AddEntry(ctx, expenseSubcategory, core.Money{Cents: 700}, "", core.NewDate(2025, 9, 11))
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	if err := l.AmendAmount(ctx, b, core.Money{Cents: 6000}); err != nil {
		t.Fatalf("AmendAmount failed: %v", err)
	}
	if err := l.DeleteEntry(ctx, c); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if err := l.SetArchived(ctx, a, true); err != nil {
		t.Fatalf("SetArchived failed: %v", err)
	}
	if err := l.AmendAmount(ctx, b, core.Money{Cents: 5500}); err != nil {
		t.Fatalf("AmendAmount failed: %v", err)
	}

	agg, err := repo.Queries().GetAggregate(ctx, 2025, 9)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Income.Cents != 0 || agg.Expense.Cents != 5500 {
		t.Fatalf("aggregate = %+v, want income 0 expense 5500", agg)
	}
	checkAggregateConsistency(t, repo, 2025, 9)
}

func TestAddEntryPublishesEvent(t *testing.T) {
	repo := newTestRepo(t)
	pub := &fakePublisher{}
	l := NewEntryLedger(repo, pub)
	ctx := context.Background()

	id, err := l.AddEntry(ctx, expenseSubcategory, core.Money{Cents: 999}, "", core.NewDate(2025, 6, 2))
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Kind != amqp.EventEntryCreated || msg.EntryID != id || msg.Year != 2025 || msg.Month != 6 {
		t.Fatalf("published event = %+v", msg)
	}
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
)

// Reserved taxonomy rows seeded by migration 0002. Every envelope deposit is
// posted under the fund subcategory; leftover entries go to other income.
const (
	FundSubcategoryID        int64 = 1
	OtherIncomeSubcategoryID int64 = 2
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every query can run
// standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns queries bound to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const dateLayout = "2006-01-02"

// monthBounds returns the [start, end) date strings covering a calendar month.
func monthBounds(year, month int) (string, string) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start.Format(dateLayout), start.AddDate(0, 1, 0).Format(dateLayout)
}

func nullID(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func idPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

const entryColumns = `id, entry_date, amount_cents, subcategory_id, description,
	is_archived, deposit_envelope_id, financed_envelope_id, linked_entry_id`

func scanEntry(row interface{ Scan(...any) error }) (core.Entry, error) {
	var (
		e        core.Entry
		rawDate  string
		deposit  sql.NullInt64
		financed sql.NullInt64
		linked   sql.NullInt64
	)
	err := row.Scan(&e.ID, &rawDate, &e.Amount.Cents, &e.SubcategoryID,
		&e.Description, &e.Archived, &deposit, &financed, &linked)
	if err != nil {
		return core.Entry{}, err
	}
	t, err := time.Parse(dateLayout, rawDate)
	if err != nil {
		return core.Entry{}, fmt.Errorf("parse entry date %q: %w", rawDate, err)
	}
	e.Date = core.Date{Time: t}
	e.DepositEnvelopeID = idPtr(deposit)
	e.FinancedEnvelopeID = idPtr(financed)
	e.LinkedEntryID = idPtr(linked)
	return e, nil
}

// CreateEntry inserts an entry and returns its assigned id.
func (q *Queries) CreateEntry(ctx context.Context, e core.Entry) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO entries (entry_date, amount_cents, subcategory_id, description,
			is_archived, deposit_envelope_id, financed_envelope_id, linked_entry_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Date.Format(dateLayout), e.Amount.Cents, e.SubcategoryID, e.Description,
		e.Archived, nullID(e.DepositEnvelopeID), nullID(e.FinancedEnvelopeID),
		nullID(e.LinkedEntryID))
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) GetEntry(ctx context.Context, id int64) (core.Entry, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, core.ErrNotFound
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

func (q *Queries) UpdateEntryAmount(ctx context.Context, id, cents int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE entries SET amount_cents = ? WHERE id = ?`, cents, id)
	if err != nil {
		return fmt.Errorf("update entry %d amount: %w", id, err)
	}
	return nil
}

// UpdateEntryAmountAndDescription rewrites both fields in one statement; the
// reconciliation path uses it when it grows a top-up deposit back.
func (q *Queries) UpdateEntryAmountAndDescription(ctx context.Context, id, cents int64, description string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE entries SET amount_cents = ?, description = ? WHERE id = ?`,
		cents, description, id)
	if err != nil {
		return fmt.Errorf("update entry %d amount and description: %w", id, err)
	}
	return nil
}

func (q *Queries) SetEntryArchived(ctx context.Context, id int64, archived bool) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE entries SET is_archived = ? WHERE id = ?`, archived, id)
	if err != nil {
		return fmt.Errorf("set entry %d archived: %w", id, err)
	}
	return nil
}

func (q *Queries) DeleteEntry(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	return nil
}

func (q *Queries) listEntries(ctx context.Context, query string, args ...any) ([]core.Entry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEntriesByMonth returns all entries dated in the given calendar month.
func (q *Queries) ListEntriesByMonth(ctx context.Context, year, month int) ([]core.Entry, error) {
	start, end := monthBounds(year, month)
	entries, err := q.listEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE entry_date >= ? AND entry_date < ?
		ORDER BY entry_date, id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("list entries %d-%02d: %w", year, month, err)
	}
	return entries, nil
}

// ListEntriesByRange returns entries with from <= date < to.
func (q *Queries) ListEntriesByRange(ctx context.Context, from, to core.Date) ([]core.Entry, error) {
	entries, err := q.listEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE entry_date >= ? AND entry_date < ?
		ORDER BY entry_date, id`,
		from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list entries in range: %w", err)
	}
	return entries, nil
}

// FindLeftoverEntry returns the auto-generated leftover income entry linked to
// a financed purchase, if one exists.
func (q *Queries) FindLeftoverEntry(ctx context.Context, purchaseID int64) (core.Entry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE linked_entry_id = ?
		  AND deposit_envelope_id IS NULL
		  AND financed_envelope_id IS NULL`, purchaseID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, core.ErrNotFound
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("find leftover for entry %d: %w", purchaseID, err)
	}
	return e, nil
}

// FindTopUpDeposit returns the monthly top-up deposit for an envelope: the
// fund-subcategory deposit entry dated in the given month.
func (q *Queries) FindTopUpDeposit(ctx context.Context, envelopeID int64, year, month int) (core.Entry, error) {
	start, end := monthBounds(year, month)
	row := q.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE deposit_envelope_id = ?
		  AND subcategory_id = ?
		  AND entry_date >= ? AND entry_date < ?
		ORDER BY id
		LIMIT 1`, envelopeID, FundSubcategoryID, start, end)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, core.ErrNotFound
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("find top-up deposit for envelope %d: %w", envelopeID, err)
	}
	return e, nil
}

// ClassifySubcategory resolves whether the owning category of a subcategory is
// income- or expense-typed.
func (q *Queries) ClassifySubcategory(ctx context.Context, subcategoryID int64) (core.Kind, error) {
	var positive bool
	err := q.db.QueryRowContext(ctx, `
		SELECT c.positive FROM subcategories s
		JOIN categories c ON c.id = s.category_id
		WHERE s.id = ?`, subcategoryID).Scan(&positive)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("classify subcategory %d: %w", subcategoryID, err)
	}
	if positive {
		return core.KindIncome, nil
	}
	return core.KindExpense, nil
}

func (q *Queries) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	var c core.Category
	err := q.db.QueryRowContext(ctx, `
		SELECT id, name, icon_id, color, positive, is_default
		FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.IconID, &c.Color, &c.Positive, &c.Default)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}
	return c, nil
}

// GetAggregate reads the cached totals for a month. A missing row reads as zero.
func (q *Queries) GetAggregate(ctx context.Context, year, month int) (core.MonthlyAggregate, error) {
	agg := core.MonthlyAggregate{Year: year, Month: month}
	err := q.db.QueryRowContext(ctx, `
		SELECT income_cents, expense_cents FROM monthly_aggregates
		WHERE year = ? AND month = ?`, year, month).
		Scan(&agg.Income.Cents, &agg.Expense.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, nil
	}
	if err != nil {
		return agg, fmt.Errorf("get aggregate %d-%02d: %w", year, month, err)
	}
	return agg, nil
}

// ApplyAggregateDelta adds signed deltas to the (year, month) row, creating a
// zero row first if absent. Add, delete and amend all flow through here with
// signs flipped as needed.
func (q *Queries) ApplyAggregateDelta(ctx context.Context, year, month int, incomeDelta, expenseDelta int64) error {
	if month < 1 || month > 12 {
		return core.ErrInvalidMonth
	}
	// getOrCreate, then update: two statements inside the caller's transaction.
	var exists int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM monthly_aggregates WHERE year = ? AND month = ?`,
		year, month).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check aggregate %d-%02d: %w", year, month, err)
	}
	if exists == 0 {
		_, err = q.db.ExecContext(ctx, `
			INSERT INTO monthly_aggregates (year, month, income_cents, expense_cents)
			VALUES (?, ?, 0, 0)`, year, month)
		if err != nil {
			return fmt.Errorf("create aggregate %d-%02d: %w", year, month, err)
		}
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE monthly_aggregates
		SET income_cents = income_cents + ?, expense_cents = expense_cents + ?
		WHERE year = ? AND month = ?`, incomeDelta, expenseDelta, year, month)
	if err != nil {
		return fmt.Errorf("apply aggregate delta %d-%02d: %w", year, month, err)
	}
	return nil
}

// RecomputeAggregate sums surviving entries for a month directly, bypassing
// the cache. Financed purchases and archived entries never count.
func (q *Queries) RecomputeAggregate(ctx context.Context, year, month int) (core.MonthlyAggregate, error) {
	start, end := monthBounds(year, month)
	agg := core.MonthlyAggregate{Year: year, Month: month}
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN c.positive = 1 THEN e.amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN c.positive = 0 THEN e.amount_cents ELSE 0 END), 0)
		FROM entries e
		JOIN subcategories s ON s.id = e.subcategory_id
		JOIN categories c ON c.id = s.category_id
		WHERE e.entry_date >= ? AND e.entry_date < ?
		  AND e.financed_envelope_id IS NULL
		  AND e.is_archived = 0`, start, end).
		Scan(&agg.Income.Cents, &agg.Expense.Cents)
	if err != nil {
		return agg, fmt.Errorf("recompute aggregate %d-%02d: %w", year, month, err)
	}
	return agg, nil
}

// ListAggregatesBetween returns the stored aggregate rows with
// from <= (year, month) <= to, ordered chronologically.
func (q *Queries) ListAggregatesBetween(ctx context.Context, fromYear, fromMonth, toYear, toMonth int) ([]core.MonthlyAggregate, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT year, month, income_cents, expense_cents FROM monthly_aggregates
		WHERE (year * 100 + month) >= ? AND (year * 100 + month) <= ?
		ORDER BY year, month`,
		fromYear*100+fromMonth, toYear*100+toMonth)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyAggregate
	for rows.Next() {
		var a core.MonthlyAggregate
		if err := rows.Scan(&a.Year, &a.Month, &a.Income.Cents, &a.Expense.Cents); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SumAggregatesBefore returns the net saldo (income - expense) of all months
// strictly before (year, month): the allocator's older bucket.
func (q *Queries) SumAggregatesBefore(ctx context.Context, year, month int) (int64, error) {
	var saldo int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(income_cents - expense_cents), 0) FROM monthly_aggregates
		WHERE (year * 100 + month) < ?`, year*100+month).Scan(&saldo)
	if err != nil {
		return 0, fmt.Errorf("sum aggregates before %d-%02d: %w", year, month, err)
	}
	return saldo, nil
}

const envelopeColumns = `id, name, color, target_cents, saldo_cents, finished_at, closed_at, entry_id`

func scanEnvelope(row interface{ Scan(...any) error }) (core.Envelope, error) {
	var (
		env      core.Envelope
		target   sql.NullInt64
		finished sql.NullString
		closed   sql.NullString
		entryID  sql.NullInt64
	)
	err := row.Scan(&env.ID, &env.Name, &env.Color, &target, &env.Saldo.Cents,
		&finished, &closed, &entryID)
	if err != nil {
		return core.Envelope{}, err
	}
	if target.Valid {
		env.Target = &core.Money{Cents: target.Int64}
	}
	if finished.Valid {
		t, err := time.Parse(dateLayout, finished.String)
		if err != nil {
			return core.Envelope{}, fmt.Errorf("parse finished date %q: %w", finished.String, err)
		}
		env.Finished = &core.Date{Time: t}
	}
	if closed.Valid {
		t, err := time.Parse(dateLayout, closed.String)
		if err != nil {
			return core.Envelope{}, fmt.Errorf("parse closed date %q: %w", closed.String, err)
		}
		env.Closed = &core.Date{Time: t}
	}
	env.EntryID = idPtr(entryID)
	return env, nil
}

func (q *Queries) CreateEnvelope(ctx context.Context, env core.Envelope) (int64, error) {
	var target sql.NullInt64
	if env.Target != nil {
		target = sql.NullInt64{Int64: env.Target.Cents, Valid: true}
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO envelopes (name, color, target_cents, saldo_cents)
		VALUES (?, ?, ?, 0)`, env.Name, env.Color, target)
	if err != nil {
		return 0, fmt.Errorf("insert envelope: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) GetEnvelope(ctx context.Context, id int64) (core.Envelope, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+envelopeColumns+` FROM envelopes WHERE id = ?`, id)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Envelope{}, core.ErrNotFound
	}
	if err != nil {
		return core.Envelope{}, fmt.Errorf("get envelope %d: %w", id, err)
	}
	return env, nil
}

// ListActiveEnvelopes returns envelopes that are neither finished nor closed.
func (q *Queries) ListActiveEnvelopes(ctx context.Context) ([]core.Envelope, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+envelopeColumns+` FROM envelopes
		WHERE finished_at IS NULL AND closed_at IS NULL
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list active envelopes: %w", err)
	}
	defer rows.Close()

	var out []core.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateEnvelopeSaldo(ctx context.Context, id, saldoCents int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE envelopes SET saldo_cents = ? WHERE id = ?`, saldoCents, id)
	if err != nil {
		return fmt.Errorf("update envelope %d saldo: %w", id, err)
	}
	return nil
}

// MarkEnvelopeFinished records goal completion, optionally back-referencing
// the financed purchase that triggered it.
func (q *Queries) MarkEnvelopeFinished(ctx context.Context, id int64, finished core.Date, entryID *int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE envelopes SET finished_at = ?, entry_id = ? WHERE id = ?`,
		finished.Format(dateLayout), nullID(entryID), id)
	if err != nil {
		return fmt.Errorf("mark envelope %d finished: %w", id, err)
	}
	return nil
}

// ReopenEnvelope clears completion state and writes the recomputed saldo.
func (q *Queries) ReopenEnvelope(ctx context.Context, id, saldoCents int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE envelopes SET saldo_cents = ?, finished_at = NULL, entry_id = NULL
		WHERE id = ?`, saldoCents, id)
	if err != nil {
		return fmt.Errorf("reopen envelope %d: %w", id, err)
	}
	return nil
}

func (q *Queries) DeleteEnvelope(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM envelopes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete envelope %d: %w", id, err)
	}
	return nil
}

// SumEnvelopeDeposits totals all deposit entries targeting an envelope.
func (q *Queries) SumEnvelopeDeposits(ctx context.Context, envelopeID int64) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM entries
		WHERE deposit_envelope_id = ?`, envelopeID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum deposits for envelope %d: %w", envelopeID, err)
	}
	return sum, nil
}

// SumEnvelopePurchases totals all financed purchases paid from an envelope.
func (q *Queries) SumEnvelopePurchases(ctx context.Context, envelopeID int64) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM entries
		WHERE financed_envelope_id = ?`, envelopeID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum purchases for envelope %d: %w", envelopeID, err)
	}
	return sum, nil
}

func (q *Queries) CountEnvelopePurchases(ctx context.Context, envelopeID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries WHERE financed_envelope_id = ?`,
		envelopeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count purchases for envelope %d: %w", envelopeID, err)
	}
	return n, nil
}

// CountEnvelopeEntries counts every entry referencing an envelope, deposits
// and purchases alike. Envelope deletion is rejected while this is non-zero.
func (q *Queries) CountEnvelopeEntries(ctx context.Context, envelopeID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries
		WHERE deposit_envelope_id = ? OR financed_envelope_id = ?`,
		envelopeID, envelopeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries for envelope %d: %w", envelopeID, err)
	}
	return n, nil
}

func (q *Queries) CreateLimit(ctx context.Context, l core.CategoryLimit) (int64, error) {
	var year, month sql.NullInt64
	if l.Year != nil {
		year = sql.NullInt64{Int64: int64(*l.Year), Valid: true}
	}
	if l.Month != nil {
		month = sql.NullInt64{Int64: int64(*l.Month), Valid: true}
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO category_limits (category_id, year, month, limit_cents)
		VALUES (?, ?, ?, ?)`, l.CategoryID, year, month, l.Limit.Cents)
	if err != nil {
		return 0, fmt.Errorf("insert limit: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) DeleteLimit(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM category_limits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete limit %d: %w", id, err)
	}
	return nil
}

// ListLimitsByCategory returns every limit row for a category, all scopes.
func (q *Queries) ListLimitsByCategory(ctx context.Context, categoryID int64) ([]core.CategoryLimit, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, category_id, year, month, limit_cents FROM category_limits
		WHERE category_id = ?`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list limits for category %d: %w", categoryID, err)
	}
	defer rows.Close()

	var out []core.CategoryLimit
	for rows.Next() {
		var (
			l           core.CategoryLimit
			year, month sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &l.CategoryID, &year, &month, &l.Limit.Cents); err != nil {
			return nil, err
		}
		if year.Valid {
			y := int(year.Int64)
			l.Year = &y
		}
		if month.Valid {
			m := int(month.Int64)
			l.Month = &m
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SumCategoryExpenses totals non-archived, non-envelope entries under
// expense-typed subcategories of a category within one calendar month.
func (q *Queries) SumCategoryExpenses(ctx context.Context, categoryID int64, year, month int) (int64, error) {
	start, end := monthBounds(year, month)
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(e.amount_cents), 0)
		FROM entries e
		JOIN subcategories s ON s.id = e.subcategory_id
		JOIN categories c ON c.id = s.category_id
		WHERE s.category_id = ?
		  AND c.positive = 0
		  AND e.entry_date >= ? AND e.entry_date < ?
		  AND e.is_archived = 0
		  AND e.deposit_envelope_id IS NULL
		  AND e.financed_envelope_id IS NULL`,
		categoryID, start, end).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum category %d expenses %d-%02d: %w", categoryID, year, month, err)
	}
	return sum, nil
}

package core

import (
	"errors"
	"strings"
	"time"
)

type (
	// Kind is the budget classification of a category: money coming in or going out.
	Kind int

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Entry is a single dated money movement.
	//
	// At most one of DepositEnvelopeID / FinancedEnvelopeID may be set: an entry
	// cannot fund and spend an envelope at the same time. LinkedEntryID ties an
	// auto-generated leftover entry to the financed purchase that produced it.
	Entry struct {
		ID                 int64
		Date               Date
		Amount             Money
		SubcategoryID      int64
		Description        string
		Archived           bool
		DepositEnvelopeID  *int64
		FinancedEnvelopeID *int64
		LinkedEntryID      *int64
	}

	Category struct {
		ID       int64
		Name     string
		IconID   int64
		Color    string
		Positive bool // true = income-typed
		Default  bool // system-protected, cannot be deleted
	}

	Subcategory struct {
		ID         int64
		Name       string
		IconID     int64
		Color      string
		CategoryID int64
		Default    bool
	}

	// Envelope is an earmarked sub-account. Saldo is a cached balance and must
	// always equal total deposits minus total financed purchases.
	Envelope struct {
		ID       int64
		Name     string
		Color    string
		Target   *Money
		Saldo    Money
		Finished *Date
		Closed   *Date
		EntryID  *int64 // financed purchase that completed the envelope
	}

	// CategoryLimit is a spending cap at one of three granularities:
	// global (both nil), yearly (year set), monthly (both set). A limit with
	// only the month set recurs every year in that month.
	CategoryLimit struct {
		ID         int64
		CategoryID int64
		Year       *int
		Month      *int
		Limit      Money
	}

	// MonthlyAggregate caches income and expense totals for one (year, month).
	MonthlyAggregate struct {
		Year    int
		Month   int
		Income  Money
		Expense Money
	}
)

const (
	KindIncome Kind = iota
	KindExpense
)

func (k Kind) String() string {
	if k == KindIncome {
		return "income"
	}
	return "expense"
}

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidDate         = errors.New("invalid date")
	ErrInvalidMonth        = errors.New("invalid month")
	ErrNotFound            = errors.New("not found")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrEmptyName           = errors.New("empty name")
)

// NewDate creates a Date at UTC midnight for year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as 1-12.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e Entry) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if e.DepositEnvelopeID != nil && e.FinancedEnvelopeID != nil {
		return ErrConstraintViolation
	}
	return nil
}

func (env Envelope) Validate() error {
	if strings.TrimSpace(env.Name) == "" {
		return ErrEmptyName
	}
	if env.Target != nil {
		if err := env.Target.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (l CategoryLimit) Validate() error {
	if err := l.Limit.Validate(); err != nil {
		return err
	}
	if l.Month != nil && (*l.Month < 1 || *l.Month > 12) {
		return ErrInvalidMonth
	}
	return nil
}

// LimitScope is the granularity a CategoryLimit applies at.
type LimitScope int

const (
	ScopeGlobal LimitScope = iota
	ScopeYearly
	ScopeMonthRecurring
	ScopeMonthly
)

func (l CategoryLimit) Scope() LimitScope {
	switch {
	case l.Year != nil && l.Month != nil:
		return ScopeMonthly
	case l.Year != nil:
		return ScopeYearly
	case l.Month != nil:
		return ScopeMonthRecurring
	default:
		return ScopeGlobal
	}
}

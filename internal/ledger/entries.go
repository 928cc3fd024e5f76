package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// EventPublisher is the change-notification sink. The concrete AMQP client
// satisfies it; a nil publisher disables notifications.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error
}

// EntryLedger mutates dated entries and keeps the monthly aggregate cache in
// lockstep. Every operation is a single transaction: the entry write and the
// aggregate delta land together or not at all.
type EntryLedger struct {
	repo   *storage.Repository
	events EventPublisher
}

func NewEntryLedger(repo *storage.Repository, events EventPublisher) *EntryLedger {
	return &EntryLedger{repo: repo, events: events}
}

// aggregateDelta routes a signed cent amount into the bucket matching the
// classification.
func aggregateDelta(kind core.Kind, cents int64) (incomeDelta, expenseDelta int64) {
	if kind == core.KindIncome {
		return cents, 0
	}
	return 0, cents
}

// AddEntry inserts a dated entry and applies its amount to the matching
// aggregate bucket for the entry's month.
func (l *EntryLedger) AddEntry(ctx context.Context, subcategoryID int64, amount core.Money, description string, date core.Date) (int64, error) {
	if err := amount.Validate(); err != nil {
		return 0, err
	}
	if err := date.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := l.repo.InTx(ctx, func(q *storage.Queries) error {
		kind, err := q.ClassifySubcategory(ctx, subcategoryID)
		if err != nil {
			return fmt.Errorf("classify subcategory: %w", err)
		}

		id, err = q.CreateEntry(ctx, core.Entry{
			Date:          date,
			Amount:        amount,
			SubcategoryID: subcategoryID,
			Description:   description,
		})
		if err != nil {
			return err
		}

		inc, exp := aggregateDelta(kind, amount.Cents)
		return q.ApplyAggregateDelta(ctx, date.Year(), date.Month(), inc, exp)
	})
	if err != nil {
		return 0, fmt.Errorf("add entry: %w", err)
	}

	slog.InfoContext(ctx, "Entry added",
		"id", id,
		"subcategory_id", subcategoryID,
		"amount_cents", amount.Cents,
		"date", date.Format("2006-01-02"))

	l.publish(ctx, amqp.NewLedgerEvent(amqp.EventEntryCreated, id, 0, date.Year(), date.Month()))
	return id, nil
}

// AmendAmount corrects an entry's amount. Aggregates are adjusted by the
// difference, except for envelope-financed purchases which never count there.
// Deposits also rewrite the target envelope's cached saldo.
func (l *EntryLedger) AmendAmount(ctx context.Context, entryID int64, newAmount core.Money) error {
	if err := newAmount.Validate(); err != nil {
		return err
	}

	var touched core.Entry
	err := l.repo.InTx(ctx, func(q *storage.Queries) error {
		e, err := q.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		touched = e

		if e.Amount.Cents == newAmount.Cents {
			return nil
		}

		if err := q.UpdateEntryAmount(ctx, entryID, newAmount.Cents); err != nil {
			return err
		}

		// Financed purchases are an internal envelope transfer, not a budget
		// flow event; their amounts never touched the aggregates.
		if e.FinancedEnvelopeID == nil && !e.Archived {
			kind, err := q.ClassifySubcategory(ctx, e.SubcategoryID)
			if err != nil {
				return fmt.Errorf("classify subcategory: %w", err)
			}
			inc, exp := aggregateDelta(kind, newAmount.Cents-e.Amount.Cents)
			if err := q.ApplyAggregateDelta(ctx, e.Date.Year(), e.Date.Month(), inc, exp); err != nil {
				return err
			}
		}

		if e.DepositEnvelopeID != nil {
			if err := rewriteSaldo(ctx, q, *e.DepositEnvelopeID); err != nil {
				return err
			}
		}
		if e.FinancedEnvelopeID != nil {
			if err := rewriteSaldo(ctx, q, *e.FinancedEnvelopeID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("amend entry %d: %w", entryID, err)
	}

	l.publish(ctx, amqp.NewLedgerEvent(amqp.EventEntryAmended, entryID, 0,
		touched.Date.Year(), touched.Date.Month()))
	return nil
}

// DeleteEntry removes an entry and unwinds its aggregate and envelope effects.
// Deleting an id that no longer exists is a no-op so retries stay safe.
// Envelope-financed purchases go through the reconciliation path.
func (l *EntryLedger) DeleteEntry(ctx context.Context, entryID int64) error {
	var (
		deleted   bool
		touched   core.Entry
		eventKind = amqp.EventEntryDeleted
	)
	err := l.repo.InTx(ctx, func(q *storage.Queries) error {
		e, err := q.GetEntry(ctx, entryID)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		touched = e

		if e.FinancedEnvelopeID != nil {
			eventKind = amqp.EventEnvelopeReconciled
			return reconcileFinancedDeletion(ctx, q, e)
		}

		if err := q.DeleteEntry(ctx, e.ID); err != nil {
			return err
		}

		// Archived entries already had their contribution reversed.
		if !e.Archived {
			kind, err := q.ClassifySubcategory(ctx, e.SubcategoryID)
			if err != nil {
				return fmt.Errorf("classify subcategory: %w", err)
			}
			inc, exp := aggregateDelta(kind, -e.Amount.Cents)
			if err := q.ApplyAggregateDelta(ctx, e.Date.Year(), e.Date.Month(), inc, exp); err != nil {
				return err
			}
		}

		if e.DepositEnvelopeID != nil {
			return rewriteSaldo(ctx, q, *e.DepositEnvelopeID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", entryID, err)
	}
	if !deleted {
		slog.DebugContext(ctx, "Delete of absent entry treated as no-op", "id", entryID)
		return nil
	}

	var envelopeID int64
	if touched.FinancedEnvelopeID != nil {
		envelopeID = *touched.FinancedEnvelopeID
	} else if touched.DepositEnvelopeID != nil {
		envelopeID = *touched.DepositEnvelopeID
	}
	l.publish(ctx, amqp.NewLedgerEvent(eventKind, entryID, envelopeID,
		touched.Date.Year(), touched.Date.Month()))
	return nil
}

// SetArchived flips the archive flag and moves the entry's contribution out
// of (or back into) the monthly aggregates. Envelope-tagged entries cannot be
// archived: the envelope sums would diverge from the budget view.
func (l *EntryLedger) SetArchived(ctx context.Context, entryID int64, archived bool) error {
	var touched core.Entry
	err := l.repo.InTx(ctx, func(q *storage.Queries) error {
		e, err := q.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		touched = e

		if e.Archived == archived {
			return nil
		}
		if e.DepositEnvelopeID != nil || e.FinancedEnvelopeID != nil {
			return core.ErrConstraintViolation
		}

		if err := q.SetEntryArchived(ctx, entryID, archived); err != nil {
			return err
		}

		kind, err := q.ClassifySubcategory(ctx, e.SubcategoryID)
		if err != nil {
			return fmt.Errorf("classify subcategory: %w", err)
		}
		cents := e.Amount.Cents
		if archived {
			cents = -cents
		}
		inc, exp := aggregateDelta(kind, cents)
		return q.ApplyAggregateDelta(ctx, e.Date.Year(), e.Date.Month(), inc, exp)
	})
	if err != nil {
		return fmt.Errorf("archive entry %d: %w", entryID, err)
	}

	l.publish(ctx, amqp.NewLedgerEvent(amqp.EventEntryArchived, entryID, 0,
		touched.Date.Year(), touched.Date.Month()))
	return nil
}

// ListMonth is a pass-through reporting query for UI collaborators.
func (l *EntryLedger) ListMonth(ctx context.Context, year, month int) ([]core.Entry, error) {
	if month < 1 || month > 12 {
		return nil, core.ErrInvalidMonth
	}
	return l.repo.Queries().ListEntriesByMonth(ctx, year, month)
}

// ListRange returns entries with from <= date < to.
func (l *EntryLedger) ListRange(ctx context.Context, from, to core.Date) ([]core.Entry, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	return l.repo.Queries().ListEntriesByRange(ctx, from, to)
}

// publish sends a change event. The mutation is already committed; a publish
// failure is logged and never propagated.
func (l *EntryLedger) publish(ctx context.Context, msg *amqp.LedgerEventMessage) {
	publishEvent(ctx, l.events, msg)
}

func publishEvent(ctx context.Context, events EventPublisher, msg *amqp.LedgerEventMessage) {
	if events == nil {
		return
	}
	if err := events.PublishLedgerEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", msg.Kind, "entry_id", msg.EntryID, "error", err)
	}
}

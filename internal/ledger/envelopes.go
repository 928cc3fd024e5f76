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

// EnvelopeLedger manages earmarked sub-accounts and their deposit entries.
// The cached saldo is rewritten from the deposit/purchase sums inside the
// same transaction as every mutation that touches it.
type EnvelopeLedger struct {
	repo   *storage.Repository
	events EventPublisher
}

func NewEnvelopeLedger(repo *storage.Repository, events EventPublisher) *EnvelopeLedger {
	return &EnvelopeLedger{repo: repo, events: events}
}

// CreateEnvelope creates an envelope, optionally with a day-one deposit.
func (l *EnvelopeLedger) CreateEnvelope(ctx context.Context, name, color string, target *core.Money, opening *core.Money, date core.Date) (core.Envelope, error) {
	env := core.Envelope{Name: name, Color: color, Target: target}
	if err := env.Validate(); err != nil {
		return core.Envelope{}, err
	}
	if opening != nil {
		if err := opening.Validate(); err != nil {
			return core.Envelope{}, err
		}
		if err := date.Validate(); err != nil {
			return core.Envelope{}, err
		}
	}

	var created core.Envelope
	err := l.repo.InTx(ctx, func(q *storage.Queries) error {
		id, err := q.CreateEnvelope(ctx, env)
		if err != nil {
			return err
		}
		if opening != nil {
			if _, err := depositTx(ctx, q, id, *opening, date, depositDescription(name)); err != nil {
				return err
			}
		}
		created, err = q.GetEnvelope(ctx, id)
		return err
	})
	if err != nil {
		return core.Envelope{}, fmt.Errorf("create envelope: %w", err)
	}

	slog.InfoContext(ctx, "Envelope created",
		"id", created.ID, "name", created.Name, "saldo_cents", created.Saldo.Cents)

	publishEvent(ctx, l.events, amqp.NewLedgerEvent(amqp.EventEnvelopeCreated, 0, created.ID,
		date.Year(), date.Month()))
	return created, nil
}

// Deposit posts a fund-subcategory entry into the envelope and bumps its
// saldo. The deposit is an ordinary budget entry and counts in the monthly
// aggregates under its classification.
func (l *EnvelopeLedger) Deposit(ctx context.Context, envelopeID int64, amount core.Money, date core.Date, note string) (int64, error) {
	if err := amount.Validate(); err != nil {
		return 0, err
	}
	if err := date.Validate(); err != nil {
		return 0, err
	}

	var entryID int64
	err := l.repo.InTx(ctx, func(q *storage.Queries) error {
		var err error
		entryID, err = depositTx(ctx, q, envelopeID, amount, date, note)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deposit to envelope %d: %w", envelopeID, err)
	}

	publishEvent(ctx, l.events, amqp.NewLedgerEvent(amqp.EventEnvelopeDeposit, entryID, envelopeID,
		date.Year(), date.Month()))
	return entryID, nil
}

// DeleteEnvelope removes an envelope. Deletion is rejected while any entry
// still references it; deleting an absent envelope is a no-op.
func (l *EnvelopeLedger) DeleteEnvelope(ctx context.Context, envelopeID int64) error {
	var deleted bool
	err := l.repo.InTx(ctx, func(q *storage.Queries) error {
		_, err := q.GetEnvelope(ctx, envelopeID)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := q.CountEnvelopeEntries(ctx, envelopeID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("envelope %d has %d dependent entries: %w",
				envelopeID, n, core.ErrConstraintViolation)
		}

		deleted = true
		return q.DeleteEnvelope(ctx, envelopeID)
	})
	if err != nil {
		return fmt.Errorf("delete envelope %d: %w", envelopeID, err)
	}
	if deleted {
		publishEvent(ctx, l.events, amqp.NewLedgerEvent(amqp.EventEnvelopeDeleted, 0, envelopeID, 0, 0))
	}
	return nil
}

// ListActive is a pass-through reporting query for UI collaborators.
func (l *EnvelopeLedger) ListActive(ctx context.Context) ([]core.Envelope, error) {
	return l.repo.Queries().ListActiveEnvelopes(ctx)
}

// Get returns one envelope.
func (l *EnvelopeLedger) Get(ctx context.Context, envelopeID int64) (core.Envelope, error) {
	return l.repo.Queries().GetEnvelope(ctx, envelopeID)
}

// depositTx inserts the deposit entry, applies its aggregate contribution and
// rewrites the envelope saldo. Runs inside the caller's transaction.
func depositTx(ctx context.Context, q *storage.Queries, envelopeID int64, amount core.Money, date core.Date, note string) (int64, error) {
	if _, err := q.GetEnvelope(ctx, envelopeID); err != nil {
		return 0, err
	}

	id, err := q.CreateEntry(ctx, core.Entry{
		Date:              date,
		Amount:            amount,
		SubcategoryID:     storage.FundSubcategoryID,
		Description:       note,
		DepositEnvelopeID: &envelopeID,
	})
	if err != nil {
		return 0, err
	}

	kind, err := q.ClassifySubcategory(ctx, storage.FundSubcategoryID)
	if err != nil {
		return 0, fmt.Errorf("classify fund subcategory: %w", err)
	}
	inc, exp := aggregateDelta(kind, amount.Cents)
	if err := q.ApplyAggregateDelta(ctx, date.Year(), date.Month(), inc, exp); err != nil {
		return 0, err
	}

	if err := rewriteSaldo(ctx, q, envelopeID); err != nil {
		return 0, err
	}
	return id, nil
}

// rewriteSaldo recomputes deposits minus purchases from scratch and stores it.
func rewriteSaldo(ctx context.Context, q *storage.Queries, envelopeID int64) error {
	deposits, err := q.SumEnvelopeDeposits(ctx, envelopeID)
	if err != nil {
		return err
	}
	purchases, err := q.SumEnvelopePurchases(ctx, envelopeID)
	if err != nil {
		return err
	}
	return q.UpdateEnvelopeSaldo(ctx, envelopeID, deposits-purchases)
}

// reconcileFinancedDeletion unwinds an envelope-financed purchase together
// with the side-entries its completion flow generated.
//
// The purchase itself never counted in the aggregates, but the leftover
// income entry and the reduced top-up deposit did, so they are reversed in
// the opposite order of magnitude they were created: first the leftover
// disappears, then the top-up grows back by whatever part of the surplus it
// had given up.
func reconcileFinancedDeletion(ctx context.Context, q *storage.Queries, e core.Entry) error {
	envelopeID := *e.FinancedEnvelopeID
	env, err := q.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return fmt.Errorf("load envelope %d: %w", envelopeID, err)
	}

	deposits, err := q.SumEnvelopeDeposits(ctx, envelopeID)
	if err != nil {
		return err
	}
	purchases, err := q.SumEnvelopePurchases(ctx, envelopeID)
	if err != nil {
		return err
	}
	// purchases still includes the entry being deleted
	saldoBefore := deposits - purchases

	// surplus immediately after this purchase, before later adjustments
	rest := saldoBefore - e.Amount.Cents
	if rest < 0 {
		rest = 0
	}

	// The leftover goes first: it back-references the purchase row.
	var restLeft int64
	leftover, err := q.FindLeftoverEntry(ctx, e.ID)
	switch {
	case err == nil:
		restLeft = leftover.Amount.Cents
		if err := q.DeleteEntry(ctx, leftover.ID); err != nil {
			return err
		}
		kind, err := q.ClassifySubcategory(ctx, leftover.SubcategoryID)
		if err != nil {
			return fmt.Errorf("classify leftover subcategory: %w", err)
		}
		inc, exp := aggregateDelta(kind, -leftover.Amount.Cents)
		if err := q.ApplyAggregateDelta(ctx, leftover.Date.Year(), leftover.Date.Month(), inc, exp); err != nil {
			return err
		}
	case errors.Is(err, core.ErrNotFound):
		// no leftover was ever posted for this purchase
	default:
		return err
	}

	// The purchase itself never counted in the aggregates.
	if err := q.DeleteEntry(ctx, e.ID); err != nil {
		return err
	}

	// portion of the surplus that had been siphoned off as a reduced top-up
	reduce := rest - restLeft
	if reduce < 0 {
		reduce = 0
	}
	if reduce > 0 {
		topup, err := q.FindTopUpDeposit(ctx, envelopeID, e.Date.Year(), e.Date.Month())
		switch {
		case err == nil:
			newCents := topup.Amount.Cents + reduce
			desc := topUpDescription(env.Name, e.Date.Year(), e.Date.Month())
			if err := q.UpdateEntryAmountAndDescription(ctx, topup.ID, newCents, desc); err != nil {
				return err
			}
			kind, err := q.ClassifySubcategory(ctx, topup.SubcategoryID)
			if err != nil {
				return fmt.Errorf("classify top-up subcategory: %w", err)
			}
			inc, exp := aggregateDelta(kind, reduce)
			if err := q.ApplyAggregateDelta(ctx, topup.Date.Year(), topup.Date.Month(), inc, exp); err != nil {
				return err
			}
		case errors.Is(err, core.ErrNotFound):
			slog.WarnContext(ctx, "Top-up deposit not found during reconciliation",
				"envelope_id", envelopeID,
				"entry_id", e.ID,
				"reduce_cents", reduce)
		default:
			return err
		}
	}

	deposits, err = q.SumEnvelopeDeposits(ctx, envelopeID)
	if err != nil {
		return err
	}
	purchases, err = q.SumEnvelopePurchases(ctx, envelopeID)
	if err != nil {
		return err
	}
	newSaldo := deposits - purchases

	remaining, err := q.CountEnvelopePurchases(ctx, envelopeID)
	if err != nil {
		return err
	}

	// Reopen when the deleted purchase is the one that completed the
	// envelope, or when no completion back-reference exists and no financed
	// purchase remains.
	reopen := (env.EntryID != nil && *env.EntryID == e.ID) ||
		(env.EntryID == nil && remaining == 0)
	if reopen {
		return q.ReopenEnvelope(ctx, envelopeID, newSaldo)
	}
	return q.UpdateEnvelopeSaldo(ctx, envelopeID, newSaldo)
}

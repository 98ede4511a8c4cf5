package ledger

import (
	"context" // Request context
	"errors"  // Error classification
	"fmt"     // Error wrapping

	"crowdfund_ledger/internal/clock"  // Time source
	"crowdfund_ledger/internal/domain" // Domain models
	"crowdfund_ledger/internal/store"  // Persistence
)

// Guard admits each external reference at most once. It relies on the
// store's unique key, never on a read before the insert.
type Guard struct {
	store store.Store // Receipts table
	clock clock.Clock // Time source
}

func NewGuard(s store.Store, clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Guard{store: s, clock: clk}
}

// Admit records the receipt as processing. A reference seen before yields
// ErrAlreadyProcessed and nothing is written.
func (g *Guard) Admit(ctx context.Context, r *domain.PaymentReceipt) error {
	if r.ExternalRef == "" {
		return fmt.Errorf("%w: empty external reference", ErrInvalidAmount)
	}
	now := clock.Millis(g.clock)
	r.Status = domain.ReceiptProcessing
	r.CreatedAt = now
	r.UpdatedAt = now
	err := g.store.InsertReceipt(ctx, r)
	if errors.Is(err, store.ErrDuplicateReference) {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, r.ExternalRef)
	}
	if err != nil {
		return fmt.Errorf("admit %s: %w", r.ExternalRef, err)
	}
	return nil
}

// Complete links the receipt to the transaction it produced.
func (g *Guard) Complete(ctx context.Context, ref, transactionID string) error {
	return g.store.UpdateReceipt(ctx, ref, store.ReceiptUpdate{
		Status:        domain.ReceiptCompleted,
		TransactionID: domain.StrPtr(transactionID),
		UpdatedAt:     clock.Millis(g.clock),
	})
}

// Hold links the transaction but leaves the receipt processing until the
// gateway reports the final outcome.
func (g *Guard) Hold(ctx context.Context, ref, transactionID string) error {
	return g.store.UpdateReceipt(ctx, ref, store.ReceiptUpdate{
		Status:        domain.ReceiptProcessing,
		TransactionID: domain.StrPtr(transactionID),
		UpdatedAt:     clock.Millis(g.clock),
	})
}

func (g *Guard) Fail(ctx context.Context, ref string) error {
	return g.store.UpdateReceipt(ctx, ref, store.ReceiptUpdate{
		Status:    domain.ReceiptFailed,
		UpdatedAt: clock.Millis(g.clock),
	})
}

func (g *Guard) FlagReconciliation(ctx context.Context, ref, transactionID string) error {
	return g.store.UpdateReceipt(ctx, ref, store.ReceiptUpdate{
		Status:        domain.ReceiptReconciliationNeeded,
		TransactionID: domain.StrPtr(transactionID),
		UpdatedAt:     clock.Millis(g.clock),
	})
}

// Release forgets a receipt whose transfer wrote nothing, so a redelivery
// can be admitted again.
func (g *Guard) Release(ctx context.Context, ref string) error {
	return g.store.DeleteReceipt(ctx, ref)
}

// Lookup returns the stored receipt for ref.
func (g *Guard) Lookup(ctx context.Context, ref string) (*domain.PaymentReceipt, error) {
	return g.store.GetReceipt(ctx, ref)
}

package ledger

import (
	"context" // Request context
	"errors"  // Error classification
	"fmt"     // Error wrapping

	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/domain" // Domain models
	"crowdfund_ledger/internal/store"  // Persistence
)

// appliedWrite is a committed balance or funding change that compensation may undo.
type appliedWrite struct {
	step       string // Step name
	walletID   string // Wallet written
	campaignID string // Campaign written
	delta      int64  // Signed change to undo
}

// transferOp is the in-flight state of one Transfer call.
type transferOp struct {
	e        *Engine
	req      TransferRequest
	src      *domain.Wallet
	dest     *domain.Wallet
	campaign *domain.Campaign

	records []*domain.Transaction // anchor first
	applied []appliedWrite
	steps   []StepOutcome
}

// peer reports whether the payee gets its own credit record.
func (op *transferOp) peer() bool {
	return op.src != nil && !op.dest.IsPlatform()
}

func (op *transferOp) fields() logrus.Fields {
	f := logrus.Fields{
		"dest_wallet": op.dest.ID,
		"amount":      op.req.AmountMinorUnits,
		"currency":    op.dest.Currency,
		"kind":        op.req.Kind,
	}
	if op.src != nil {
		f["source_wallet"] = op.src.ID
	}
	if op.campaign != nil {
		f["campaign_id"] = op.campaign.ID
	}
	if op.req.ExternalRef != "" {
		f["external_ref"] = op.req.ExternalRef
	}
	if len(op.records) > 0 {
		f["transaction_id"] = op.records[0].ID
	}
	return f
}

func (op *transferOp) buildAnchor(now int64) *domain.Transaction {
	tx := &domain.Transaction{
		ID:               op.e.newID(),
		Kind:             op.req.Kind,
		AmountMinorUnits: op.req.AmountMinorUnits,
		Currency:         op.dest.Currency,
		Status:           domain.StatusPending,
		ExternalRef:      domain.StrPtr(op.req.ExternalRef),
		Description:      op.req.Note,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if op.src != nil {
		tx.UserID = op.src.OwnerID
		tx.WalletID = op.src.ID
		tx.Type = domain.TypeDebit
		if op.req.Kind == domain.KindReversal {
			tx.Type = domain.TypeTransfer
		}
		tx.CounterpartyID = domain.StrPtr(op.dest.OwnerID)
	} else {
		tx.UserID = op.dest.OwnerID
		tx.WalletID = op.dest.ID
		tx.Type = domain.TypeCredit
	}
	// Only the anchor references the campaign, so campaign funding equals the
	// sum of completed anchors.
	if op.campaign != nil && !op.req.unfund {
		tx.CampaignID = domain.StrPtr(op.campaign.ID)
	}
	return tx
}

func (op *transferOp) buildPayee(now int64) *domain.Transaction {
	return &domain.Transaction{
		ID:               op.e.newID(),
		UserID:           op.dest.OwnerID,
		WalletID:         op.dest.ID,
		Type:             domain.TypeCredit,
		Kind:             op.req.Kind,
		AmountMinorUnits: op.req.AmountMinorUnits,
		Currency:         op.dest.Currency,
		Status:           domain.StatusCompleted,
		CounterpartyID:   domain.StrPtr(op.src.OwnerID),
		ExternalRef:      domain.StrPtr(op.req.ExternalRef),
		Description:      op.req.Note,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (op *transferOp) ok(step string) {
	op.steps = append(op.steps, StepOutcome{Step: step, Applied: true})
}

func (op *transferOp) apply(w appliedWrite) {
	op.applied = append(op.applied, w)
	op.ok(w.step)
}

func (op *transferOp) run(ctx context.Context) (*TransferResult, error) {
	e := op.e
	amount := op.req.AmountMinorUnits
	now := e.now()

	anchor := op.buildAnchor(now)
	if err := e.store.CreateTransaction(ctx, anchor); err != nil {
		e.metrics.Transfer(string(op.req.Kind), "error")
		e.log.WithFields(op.fields()).WithError(err).Error("Transfer failed before any write")
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	op.records = append(op.records, anchor)
	op.ok(StepRecordAnchor)

	// Write 1: debit source.
	if op.src != nil {
		if err := e.adjustWallet(ctx, op.src.ID, -amount); err != nil {
			return nil, op.fail(ctx, StepDebitSource, err)
		}
		op.apply(appliedWrite{step: StepDebitSource, walletID: op.src.ID, delta: -amount})
	}

	// Write 2: credit destination.
	if err := e.adjustWallet(ctx, op.dest.ID, amount); err != nil {
		return nil, op.fail(ctx, StepCreditDest, err)
	}
	op.apply(appliedWrite{step: StepCreditDest, walletID: op.dest.ID, delta: amount})

	// Write 3: campaign funding.
	if op.campaign != nil {
		delta := amount
		if op.req.unfund {
			delta = -amount
		}
		if err := e.adjustCampaign(ctx, op.campaign.ID, delta, !op.req.unfund); err != nil {
			return nil, op.fail(ctx, StepFundCampaign, err)
		}
		op.apply(appliedWrite{step: StepFundCampaign, campaignID: op.campaign.ID, delta: delta})
	}

	// Writes 4-5: transaction records.
	if op.peer() {
		payee := op.buildPayee(e.now())
		if err := e.store.CreateTransaction(ctx, payee); err != nil {
			return nil, op.fail(ctx, StepRecordPayee, err)
		}
		op.records = append(op.records, payee)
		op.ok(StepRecordPayee)
	}
	completed := domain.StatusCompleted
	updatedAt := e.now()
	if err := e.store.UpdateTransaction(ctx, anchor.ID, store.TransactionUpdate{Status: &completed, UpdatedAt: updatedAt}); err != nil {
		return nil, op.fail(ctx, StepCompleteAnchor, err)
	}
	anchor.Status = completed
	anchor.UpdatedAt = updatedAt

	e.metrics.Transfer(string(op.req.Kind), "completed")
	e.log.WithFields(op.fields()).Info("Transfer completed")

	out := &TransferResult{Transactions: make([]domain.Transaction, 0, len(op.records))}
	for _, rec := range op.records {
		out.Transactions = append(out.Transactions, *rec)
	}
	return out, nil
}

// fail handles a failed write. Before any money write the transfer is simply
// declined; afterwards it is a partial failure.
func (op *transferOp) fail(ctx context.Context, step string, cause error) error {
	op.steps = append(op.steps, StepOutcome{Step: step, Error: cause.Error()})
	if len(op.applied) > 0 {
		return op.partial(ctx, cause)
	}

	result := "error"
	switch {
	case errors.Is(cause, ErrContention):
		result = "contention"
	case IsRejection(cause):
		result = "rejected"
	}
	op.e.metrics.Transfer(string(op.req.Kind), result)

	failed := domain.StatusFailed
	note := describeSteps(op.steps)
	err := op.e.store.UpdateTransaction(context.WithoutCancel(ctx), op.records[0].ID, store.TransactionUpdate{
		Status:             &failed,
		ReconciliationNote: &note,
		UpdatedAt:          op.e.now(),
	})
	entry := op.e.log.WithFields(op.fields()).WithField("steps", note).WithField("error", cause.Error())
	if err != nil {
		entry.WithField("marker_error", err.Error()).Error("Transfer declined, failed to mark transaction failed")
	} else {
		entry.Warn("Transfer declined")
	}
	return cause
}

// partial compensates every applied write in reverse order, then marks the
// records for reconciliation.
func (op *transferOp) partial(ctx context.Context, cause error) error {
	e := op.e
	ctx = context.WithoutCancel(ctx)

	compensated := true
	for i := len(op.applied) - 1; i >= 0; i-- {
		w := op.applied[i]
		var err error
		if w.campaignID != "" {
			err = e.adjustCampaign(ctx, w.campaignID, -w.delta, false)
		} else {
			err = e.adjustWallet(ctx, w.walletID, -w.delta)
		}
		outcome := StepOutcome{Step: "compensate_" + w.step, Applied: err == nil}
		if err != nil {
			compensated = false
			outcome.Error = err.Error()
			e.metrics.Compensation("failed")
		} else {
			e.metrics.Compensation("applied")
		}
		op.steps = append(op.steps, outcome)
	}

	// Compensated transfers are closed as failed; the rest stay pending until repaired.
	status := domain.StatusFailed
	if !compensated {
		status = domain.StatusPending
	}
	flag := true
	note := describeSteps(op.steps)
	var markerErr error
	for _, rec := range op.records {
		err := e.store.UpdateTransaction(ctx, rec.ID, store.TransactionUpdate{
			Status:               &status,
			ReconciliationNeeded: &flag,
			Compensated:          &compensated,
			ReconciliationNote:   &note,
			UpdatedAt:            e.now(),
		})
		if err != nil && markerErr == nil {
			markerErr = err
		}
	}

	e.metrics.Partial()
	e.metrics.Transfer(string(op.req.Kind), "partial")
	entry := e.log.WithFields(op.fields()).WithFields(logrus.Fields{
		"steps":       note,
		"compensated": compensated,
		"error":       cause.Error(),
	})
	if markerErr != nil {
		entry.WithField("marker_error", markerErr.Error()).Error("Transfer partially applied and reconciliation marker was not persisted")
	} else {
		entry.Error("Transfer partially applied")
	}

	steps := make([]StepOutcome, len(op.steps))
	copy(steps, op.steps)
	return &PartialError{
		TransactionID: op.records[0].ID,
		Steps:         steps,
		Compensated:   compensated,
		Cause:         cause,
	}
}

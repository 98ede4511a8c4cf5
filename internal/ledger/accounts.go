package ledger

import (
	"context" // Request context
	"errors"  // Error classification
	"fmt"     // Error wrapping
	"strings" // String helpers

	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/domain" // Domain models
	"crowdfund_ledger/internal/store"  // Persistence
)

// EnsureWallet returns the owner's wallet in currency, creating an empty one
// if needed. Concurrent callers converge on the single row the unique index allows.
func (e *Engine) EnsureWallet(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	currency = strings.ToUpper(currency)
	if ownerID == "" || len(currency) != 3 {
		return nil, fmt.Errorf("%w: owner %q currency %q", ErrWalletNotFound, ownerID, currency)
	}
	w, err := e.store.GetWalletByOwner(ctx, ownerID, currency)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup wallet: %w", err)
	}
	now := e.now()
	w = &domain.Wallet{
		ID:        e.newID(),
		OwnerID:   ownerID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = e.store.CreateWallet(ctx, w)
	if errors.Is(err, store.ErrDuplicateWallet) {
		return e.store.GetWalletByOwner(ctx, ownerID, currency)
	}
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"owner_id":  ownerID,
		"wallet_id": w.ID,
		"currency":  currency,
	}).Info("Wallet created")
	return w, nil
}

// PlatformWallet returns the float wallet that holds payouts in flight.
func (e *Engine) PlatformWallet(ctx context.Context, currency string) (*domain.Wallet, error) {
	return e.EnsureWallet(ctx, domain.PlatformOwnerID, currency)
}

// CreateCampaign opens a funding campaign and makes sure its owner can receive funds.
func (e *Engine) CreateCampaign(ctx context.Context, ownerID, currency string, goalMinorUnits int64) (*domain.Campaign, error) {
	if goalMinorUnits <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := e.EnsureWallet(ctx, ownerID, currency); err != nil {
		return nil, err
	}
	now := e.now()
	c := &domain.Campaign{
		ID:             e.newID(),
		OwnerID:        ownerID,
		Currency:       strings.ToUpper(currency),
		GoalMinorUnits: goalMinorUnits,
		Status:         domain.CampaignActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"campaign_id": c.ID,
		"owner_id":    ownerID,
		"goal":        goalMinorUnits,
		"currency":    c.Currency,
	}).Info("Campaign created")
	return c, nil
}

// CloseCampaign moves an active campaign to completed or cancelled. Funding is untouched.
func (e *Engine) CloseCampaign(ctx context.Context, campaignID, ownerID string, status domain.CampaignStatus) (*domain.Campaign, error) {
	if status != domain.CampaignCompleted && status != domain.CampaignCancelled {
		return nil, fmt.Errorf("%w: cannot close campaign as %q", ErrInvalidStatus, status)
	}
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		c, err := e.loadCampaign(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if c.OwnerID != ownerID {
			return nil, ErrNotOwner
		}
		if c.Status != domain.CampaignActive {
			return nil, ErrCampaignInactive
		}
		err = e.store.CompareAndSetCampaign(ctx, c.ID, c.Version, c.CurrentMinorUnits, status, e.now())
		if err == nil {
			c.Status = status
			c.Version++
			return c, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("close campaign: %w", err)
		}
		e.metrics.CASConflict("campaign")
		if err := e.pause(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: campaign %s", ErrContention, campaignID)
}

// ReversalRef is the guard key that admits the reversal of transactionID once.
func ReversalRef(transactionID string) string {
	return "reversal:" + transactionID
}

// Reverse moves the money of a completed wallet-to-wallet transfer back and
// cancels the original. Campaign funding it added is taken back out.
func (e *Engine) Reverse(ctx context.Context, transactionID, note string) (*TransferResult, error) {
	orig, err := e.store.GetTransaction(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: transaction %s not found", ErrNotReversible, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if orig.Status != domain.StatusCompleted || orig.Type != domain.TypeDebit || orig.CounterpartyID == nil {
		return nil, fmt.Errorf("%w: transaction %s is %s %s", ErrNotReversible, transactionID, orig.Status, orig.Type)
	}
	payee, err := e.store.GetWalletByOwner(ctx, *orig.CounterpartyID, orig.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: payee wallet: %v", ErrNotReversible, err)
	}

	// The receipts table doubles as the once-only guard for reversals.
	ref := ReversalRef(orig.ID)
	now := e.now()
	err = e.store.InsertReceipt(ctx, &domain.PaymentReceipt{
		ExternalRef:         ref,
		Kind:                domain.ReceiptReversal,
		AmountMinorUnits:    orig.AmountMinorUnits,
		Currency:            orig.Currency,
		Status:              domain.ReceiptProcessing,
		CampaignID:          orig.CampaignID,
		BeneficiaryWalletID: domain.StrPtr(orig.WalletID),
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if errors.Is(err, store.ErrDuplicateReference) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("admit reversal: %w", err)
	}

	res, err := e.Transfer(ctx, TransferRequest{
		SourceWalletID:   payee.ID,
		DestWalletID:     orig.WalletID,
		AmountMinorUnits: orig.AmountMinorUnits,
		Kind:             domain.KindReversal,
		CampaignID:       domain.Deref(orig.CampaignID),
		ExternalRef:      ref,
		Note:             note,
		unfund:           true,
	})
	if err != nil {
		e.settleReceipt(ctx, ref, "", err)
		return nil, err
	}
	e.settleReceipt(ctx, ref, res.Anchor().ID, nil)

	cancelled := domain.StatusCancelled
	if err := e.store.UpdateTransaction(context.WithoutCancel(ctx), orig.ID, store.TransactionUpdate{
		Status:    &cancelled,
		UpdatedAt: e.now(),
	}); err != nil {
		steps := []StepOutcome{
			{Step: "reversal_transfer", Applied: true},
			{Step: "cancel_original", Error: err.Error()},
		}
		e.metrics.Partial()
		entry := e.log.WithFields(logrus.Fields{
			"transaction_id": orig.ID,
			"reversal_id":    res.Anchor().ID,
			"steps":          describeSteps(steps),
		})
		entry.Error("Reversal applied but original transaction was not cancelled")
		// The reversal anchor carries the marker so the operator queue shows it.
		flag := true
		text := fmt.Sprintf("original %s still completed after reversal: %s", orig.ID, describeSteps(steps))
		if ferr := e.store.UpdateTransaction(context.WithoutCancel(ctx), res.Anchor().ID, store.TransactionUpdate{
			ReconciliationNeeded: &flag,
			ReconciliationNote:   &text,
			UpdatedAt:            e.now(),
		}); ferr != nil {
			entry.WithField("marker_error", ferr.Error()).Error("Failed to flag reversal for reconciliation")
		} else {
			res.Transactions[0].ReconciliationNeeded = true
			res.Transactions[0].ReconciliationNote = text
		}
		return res, &PartialError{TransactionID: orig.ID, Steps: steps, Cause: err}
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": orig.ID,
		"reversal_id":    res.Anchor().ID,
	}).Info("Transaction reversed")
	return res, nil
}

// Suspend books a verified inflow that cannot reach its destination into the
// platform wallet and flags it, so an operator can refund or redirect it.
func (e *Engine) Suspend(ctx context.Context, currency string, amount int64, externalRef, reason string) (*TransferResult, error) {
	pool, err := e.PlatformWallet(ctx, currency)
	if err != nil {
		return nil, err
	}
	res, err := e.Transfer(ctx, TransferRequest{
		DestWalletID:     pool.ID,
		AmountMinorUnits: amount,
		Kind:             domain.KindSettlement,
		ExternalRef:      externalRef,
		Note:             "held for review: " + reason,
	})
	if err != nil {
		return nil, err
	}
	flag := true
	text := "unallocated inflow: " + reason
	entry := e.log.WithFields(logrus.Fields{
		"transaction_id": res.Anchor().ID,
		"external_ref":   externalRef,
		"amount":         amount,
		"reason":         reason,
	})
	if err := e.store.UpdateTransaction(context.WithoutCancel(ctx), res.Anchor().ID, store.TransactionUpdate{
		ReconciliationNeeded: &flag,
		ReconciliationNote:   &text,
		UpdatedAt:            e.now(),
	}); err != nil {
		entry.WithField("marker_error", err.Error()).Error("Inflow held but not flagged for reconciliation")
		return res, nil
	}
	res.Transactions[0].ReconciliationNeeded = true
	res.Transactions[0].ReconciliationNote = text
	entry.Warn("Inflow held in platform wallet")
	return res, nil
}

// ResolveReconciliation clears the marker once an operator has repaired the
// records. status, when given, is the final state the operator settled on.
func (e *Engine) ResolveReconciliation(ctx context.Context, transactionID string, status domain.TransactionStatus, note string) (*domain.Transaction, error) {
	if status != "" && status != domain.StatusCompleted && status != domain.StatusFailed {
		return nil, fmt.Errorf("%w: cannot resolve as %q", ErrInvalidStatus, status)
	}
	tx, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.ReconciliationNeeded {
		return tx, nil
	}
	// A pending record has nothing left in flight once it is resolved.
	if status == "" && tx.Status == domain.StatusPending {
		status = domain.StatusFailed
	}
	cleared := false
	text := tx.ReconciliationNote
	if note != "" {
		text += "; resolved: " + note
	}
	upd := store.TransactionUpdate{
		ReconciliationNeeded: &cleared,
		ReconciliationNote:   &text,
		UpdatedAt:            e.now(),
	}
	if status != "" {
		upd.Status = &status
		tx.Status = status
	}
	if err := e.store.UpdateTransaction(ctx, transactionID, upd); err != nil {
		return nil, err
	}
	tx.ReconciliationNeeded = false
	tx.ReconciliationNote = text
	e.log.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"status":         tx.Status,
		"note":           note,
	}).Info("Reconciliation resolved")
	return tx, nil
}

// settleReceipt closes an internally admitted receipt according to the transfer outcome.
func (e *Engine) settleReceipt(ctx context.Context, ref, transactionID string, transferErr error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	var partial *PartialError
	switch {
	case transferErr == nil:
		err = e.store.UpdateReceipt(ctx, ref, store.ReceiptUpdate{
			Status:        domain.ReceiptCompleted,
			TransactionID: domain.StrPtr(transactionID),
			UpdatedAt:     e.now(),
		})
	case errors.As(transferErr, &partial) && partial.Compensated:
		// Every write was undone; free the key so the same request can run again.
		err = e.store.DeleteReceipt(ctx, ref)
	case errors.As(transferErr, &partial):
		err = e.store.UpdateReceipt(ctx, ref, store.ReceiptUpdate{
			Status:        domain.ReceiptReconciliationNeeded,
			TransactionID: domain.StrPtr(partial.TransactionID),
			UpdatedAt:     e.now(),
		})
	default:
		err = e.store.DeleteReceipt(ctx, ref)
	}
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"external_ref": ref,
			"error":        err.Error(),
		}).Error("Failed to update receipt")
	}
}

// Support moves amount from the donor's wallet to the campaign owner's wallet
// and adds it to the campaign. A non-empty requestKey makes client retries of
// the same request settle once.
func (e *Engine) Support(ctx context.Context, donorID, campaignID string, amount int64, requestKey string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	c, err := e.loadCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignActive {
		return nil, ErrCampaignInactive
	}
	donor, err := e.store.GetWalletByOwner(ctx, donorID, c.Currency)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no %s wallet", ErrWalletNotFound, donorID, c.Currency)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup wallet: %w", err)
	}
	owner, err := e.EnsureWallet(ctx, c.OwnerID, c.Currency)
	if err != nil {
		return nil, err
	}
	req := TransferRequest{
		SourceWalletID:   donor.ID,
		DestWalletID:     owner.ID,
		AmountMinorUnits: amount,
		Kind:             domain.KindSupport,
		CampaignID:       c.ID,
	}
	if requestKey == "" {
		return e.Transfer(ctx, req)
	}

	req.ExternalRef = "support:" + donorID + ":" + requestKey
	now := e.now()
	err = e.store.InsertReceipt(ctx, &domain.PaymentReceipt{
		ExternalRef:         req.ExternalRef,
		Kind:                domain.ReceiptSupport,
		AmountMinorUnits:    amount,
		Currency:            c.Currency,
		Status:              domain.ReceiptProcessing,
		CampaignID:          domain.StrPtr(c.ID),
		BeneficiaryWalletID: domain.StrPtr(owner.ID),
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if errors.Is(err, store.ErrDuplicateReference) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, req.ExternalRef)
	}
	if err != nil {
		return nil, fmt.Errorf("admit support: %w", err)
	}
	res, err := e.Transfer(ctx, req)
	if err != nil {
		e.settleReceipt(ctx, req.ExternalRef, "", err)
		return nil, err
	}
	e.settleReceipt(ctx, req.ExternalRef, res.Anchor().ID, nil)
	return res, nil
}

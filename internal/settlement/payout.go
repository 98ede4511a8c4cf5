package settlement

import (
	"context" // Request context
	"errors"  // Error classification
	"fmt"     // Error wrapping
	"strings" // String helpers

	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/domain"  // Domain models
	"crowdfund_ledger/internal/gateway" // Payment gateway client
	"crowdfund_ledger/internal/ledger"  // Ledger engine
	"crowdfund_ledger/internal/store"   // Persistence
)

// BankDetails identify the account a withdrawal is paid into.
type BankDetails struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

type WithdrawalRequest struct {
	UserID           string      // Wallet owner
	AmountMinorUnits int64       // Always > 0
	Currency         string      // Wallet currency
	Bank             BankDetails // Payout account
	Reason           string      // Shown on the bank statement
}

// Withdrawal payout states reported to callers
const (
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

type Withdrawal struct {
	Reference        string `json:"reference"`
	TransactionID    string `json:"transaction_id"`
	AccountName      string `json:"account_name"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
}

func gatewayError(err error) error {
	if gateway.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrPayoutRejected, err)
}

// RequestWithdrawal moves funds from the user's wallet into the platform float
// and asks the gateway to pay them out. A definitive gateway rejection refunds
// the wallet; an unknown outcome is left processing for the transfer webhook.
func (s *Service) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*Withdrawal, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if req.Bank.AccountNumber == "" || req.Bank.BankCode == "" {
		return nil, fmt.Errorf("%w: bank account number and bank code are required", ErrPayoutRejected)
	}
	currency := strings.ToUpper(req.Currency)
	wallet, err := s.engine.Store().GetWalletByOwner(ctx, req.UserID, currency)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no %s wallet", ledger.ErrWalletNotFound, req.UserID, currency)
	}
	if err != nil {
		return nil, err
	}
	if wallet.BalanceMinorUnits < req.AmountMinorUnits {
		return nil, ledger.ErrInsufficientFunds
	}

	client := s.adapter.Client()
	acct, err := client.ResolveAccountName(ctx, req.Bank.AccountNumber, req.Bank.BankCode)
	if err != nil {
		return nil, gatewayError(err)
	}
	recipient, err := client.CreateTransferRecipient(ctx, acct.AccountName, req.Bank.AccountNumber, req.Bank.BankCode, currency)
	if err != nil {
		return nil, gatewayError(err)
	}
	pool, err := s.engine.PlatformWallet(ctx, currency)
	if err != nil {
		return nil, err
	}

	ref := s.newReference("wd")
	entry := s.log.WithFields(logrus.Fields{
		"reference": ref,
		"user_id":   req.UserID,
		"wallet_id": wallet.ID,
		"amount":    req.AmountMinorUnits,
	})
	err = s.guard.Admit(ctx, &domain.PaymentReceipt{
		ExternalRef:         ref,
		Kind:                domain.ReceiptPayout,
		AmountMinorUnits:    req.AmountMinorUnits,
		Currency:            currency,
		BeneficiaryWalletID: domain.StrPtr(wallet.ID),
	})
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Transfer(ctx, ledger.TransferRequest{
		SourceWalletID:   wallet.ID,
		DestWalletID:     pool.ID,
		AmountMinorUnits: req.AmountMinorUnits,
		Kind:             domain.KindWithdrawal,
		ExternalRef:      ref,
		Note:             "withdrawal to " + acct.AccountName,
	})
	if err != nil {
		s.closeReceipt(ctx, ref, err)
		return nil, err
	}
	s.invalidate(ctx, "", wallet.ID, pool.ID)
	// Link before the payout call so an early transfer webhook finds the transaction.
	if err := s.guard.Hold(context.WithoutCancel(ctx), ref, res.Anchor().ID); err != nil {
		entry.WithField("error", err.Error()).Error("Failed to link payout receipt")
	}

	out := &Withdrawal{
		Reference:        ref,
		TransactionID:    res.Anchor().ID,
		AccountName:      acct.AccountName,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         currency,
		Status:           PayoutProcessing,
	}
	reason := req.Reason
	if reason == "" {
		reason = "Wallet withdrawal"
	}
	tr, err := client.InitiateBankTransfer(ctx, req.AmountMinorUnits, recipient.RecipientCode, ref, reason)
	switch {
	case gateway.IsDeclined(err):
		entry.WithField("error", err.Error()).Warn("Payout rejected, refunding wallet")
		if rerr := s.refund(ctx, ref, out.TransactionID, "payout rejected"); rerr != nil {
			return out, rerr
		}
		out.Status = PayoutFailed
		return out, gatewayError(err)
	case err != nil:
		entry.WithField("error", err.Error()).Warn("Payout outcome unknown, waiting for transfer webhook")
	case tr.Status == gateway.TransferSuccess:
		if err := s.guard.Complete(context.WithoutCancel(ctx), ref, out.TransactionID); err != nil {
			entry.WithField("error", err.Error()).Error("Failed to complete payout receipt")
		}
		out.Status = PayoutCompleted
		s.metrics.Settlement("payout_completed")
		entry.Info("Payout completed")
		return out, nil
	}
	s.metrics.Settlement("payout_pending")
	entry.Info("Payout queued")
	return out, nil
}

// refund returns a failed payout to the user's wallet through an engine
// reversal, which admits each withdrawal transaction at most once.
func (s *Service) refund(ctx context.Context, ref, transactionID, note string) error {
	ctx = context.WithoutCancel(ctx)
	res, err := s.engine.Reverse(ctx, transactionID, note)
	switch {
	case err == nil:
		s.invalidate(ctx, "", res.Anchor().WalletID)
		for _, tx := range res.Transactions[1:] {
			s.invalidate(ctx, "", tx.WalletID)
		}
	case errors.Is(err, ledger.ErrAlreadyProcessed), errors.Is(err, ledger.ErrNotReversible):
		// Only a completed reversal receipt proves an earlier delivery refunded.
		status := s.reversalStatus(ctx, transactionID)
		if status == domain.ReceiptProcessing {
			return fmt.Errorf("%w: refund of %s in progress", ledger.ErrAlreadyProcessed, ref)
		}
		if status != domain.ReceiptCompleted {
			s.metrics.Settlement("refund_failed")
			s.log.WithFields(logrus.Fields{
				"reference":       ref,
				"transaction_id":  transactionID,
				"reversal_status": status,
				"error":           err.Error(),
			}).Error("Payout refund not confirmed")
			if ferr := s.guard.FlagReconciliation(ctx, ref, transactionID); ferr != nil {
				s.log.WithField("reference", ref).WithField("error", ferr.Error()).Error("Failed to flag payout receipt")
			}
			return fmt.Errorf("%w: %s: %v", ErrRefundIncomplete, ref, err)
		}
	default:
		s.metrics.Settlement("refund_failed")
		s.log.WithFields(logrus.Fields{
			"reference":      ref,
			"transaction_id": transactionID,
			"error":          err.Error(),
		}).Error("Failed to refund payout")
		if ferr := s.guard.FlagReconciliation(ctx, ref, transactionID); ferr != nil {
			s.log.WithField("reference", ref).WithField("error", ferr.Error()).Error("Failed to flag payout receipt")
		}
		return err
	}
	if err := s.guard.Fail(ctx, ref); err != nil {
		s.log.WithField("reference", ref).WithField("error", err.Error()).Error("Failed to mark payout receipt failed")
	}
	s.metrics.Settlement("payout_refunded")
	return nil
}

// reversalStatus reports the state of the reversal receipt for a withdrawal
// transaction, empty when none was admitted.
func (s *Service) reversalStatus(ctx context.Context, transactionID string) domain.ReceiptStatus {
	r, err := s.guard.Lookup(ctx, ledger.ReversalRef(transactionID))
	if err != nil {
		return ""
	}
	return r.Status
}

// HandleTransferEvent applies a payout webhook. Redeliveries are harmless.
func (s *Service) HandleTransferEvent(ctx context.Context, reference, event string) error {
	r, err := s.guard.Lookup(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownReference, reference)
	}
	if err != nil {
		return err
	}
	if r.Kind != domain.ReceiptPayout || r.TransactionID == nil {
		return fmt.Errorf("%w: %s is not a pending payout", ErrUnknownReference, reference)
	}
	entry := s.log.WithFields(logrus.Fields{"reference": reference, "event": event, "receipt_status": r.Status})

	switch event {
	case gateway.EventTransferSuccess:
		if r.Status != domain.ReceiptProcessing {
			return ledger.ErrAlreadyProcessed
		}
		if err := s.guard.Complete(ctx, reference, *r.TransactionID); err != nil {
			return err
		}
		s.metrics.Settlement("payout_completed")
		entry.Info("Payout completed")
		return nil
	case gateway.EventTransferFailed, gateway.EventTransferReversed:
		if r.Status == domain.ReceiptFailed {
			return ledger.ErrAlreadyProcessed
		}
		entry.Warn("Payout failed, refunding wallet")
		return s.refund(ctx, reference, *r.TransactionID, "payout "+strings.TrimPrefix(event, "transfer."))
	}
	entry.Info("Ignoring transfer event")
	return nil
}

// HandleWebhook authenticates and dispatches a gateway webhook delivery.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !gateway.ValidSignature(s.adapter.Client().SecretKey(), body, signature) {
		return ErrBadSignature
	}
	ev, err := gateway.ParseEvent(body)
	if err != nil {
		return err
	}
	switch ev.Event {
	case gateway.EventChargeSuccess:
		ref, err := ev.Reference()
		if err != nil {
			return err
		}
		_, err = s.Settle(ctx, ref)
		return err
	case gateway.EventTransferSuccess, gateway.EventTransferFailed, gateway.EventTransferReversed:
		ref, err := ev.Reference()
		if err != nil {
			return err
		}
		return s.HandleTransferEvent(ctx, ref, ev.Event)
	}
	s.log.WithField("event", ev.Event).Debug("Ignoring webhook event")
	return nil
}

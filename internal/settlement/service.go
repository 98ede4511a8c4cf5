// Package settlement connects gateway payments and payouts to the ledger.
// Every external reference is admitted through the ledger guard before any
// money moves, so redelivered callbacks settle at most once.
package settlement

import (
	"context" // Request context
	"errors"  // Error classification
	"fmt"     // Error wrapping
	"strings" // String helpers
	"time"    // Timeouts

	"github.com/oklog/ulid/v2"   // Sortable references
	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/domain"  // Domain models
	"crowdfund_ledger/internal/gateway" // Payment gateway client
	"crowdfund_ledger/internal/ledger"  // Ledger engine
	"crowdfund_ledger/internal/metrics" // Ledger metrics
	"crowdfund_ledger/internal/store"   // Persistence
)

var (
	ErrNoDestination      = errors.New("settlement: payment carries no campaign or wallet")
	ErrUnknownReference   = errors.New("settlement: unknown reference")
	ErrBadSignature       = errors.New("settlement: invalid webhook signature")
	ErrPayoutRejected     = errors.New("settlement: payout rejected by gateway")
	ErrGatewayUnavailable = errors.New("settlement: gateway unavailable, try again")
	ErrRefundIncomplete   = errors.New("settlement: payout refund not applied, flagged for reconciliation")
)

// Invalidator drops cached read models after money moved.
type Invalidator interface {
	Invalidate(ctx context.Context, walletIDs []string, campaignID string)
}

// Service orchestrates gateway collections and payouts.
type Service struct {
	engine  *ledger.Engine     // Ledger engine
	guard   *ledger.Guard      // Once-only receipts
	adapter *gateway.Adapter   // Gateway verification
	cache   Invalidator        // Read model invalidation, optional
	metrics *metrics.Metrics   // Settlement counters
	log     logrus.FieldLogger // Structured logger

	callbackURL    string                     // Where the gateway sends payers back
	verifyAttempts int                        // Transient verification retries
	verifyBackoff  time.Duration              // Pause between them
	newReference   func(prefix string) string // pay_ and wd_ references
}

type Option func(*Service)

func WithInvalidator(i Invalidator) Option {
	return func(s *Service) { s.cache = i }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

func WithCallbackURL(u string) Option {
	return func(s *Service) { s.callbackURL = u }
}

// WithVerifyRetry bounds the caller-side retries of transient verification failures.
func WithVerifyRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		s.verifyAttempts = attempts
		s.verifyBackoff = backoff
	}
}

func WithReferenceGenerator(fn func(prefix string) string) Option {
	return func(s *Service) { s.newReference = fn }
}

func NewService(engine *ledger.Engine, guard *ledger.Guard, adapter *gateway.Adapter, opts ...Option) *Service {
	s := &Service{
		engine:         engine,
		guard:          guard,
		adapter:        adapter,
		log:            logrus.StandardLogger(),
		verifyAttempts: 3,
		verifyBackoff:  500 * time.Millisecond,
		newReference:   newReference,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newReference makes a sortable, unique gateway reference.
func newReference(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}

func (s *Service) invalidate(ctx context.Context, campaignID string, walletIDs ...string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(context.WithoutCancel(ctx), walletIDs, campaignID)
}

// Collection outcomes
const (
	OutcomeSettled = "settled"
	OutcomeHeld    = "held_for_review" // booked to the platform wallet, flagged for an operator
)

// Outcome describes a settled collection.
type Outcome struct {
	Reference        string `json:"reference"`
	Status           string `json:"status"`
	TransactionID    string `json:"transaction_id,omitempty"`
	WalletID         string `json:"wallet_id"`
	CampaignID       string `json:"campaign_id,omitempty"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
}

// Settle verifies reference with the gateway and credits the destination
// exactly once. A replay returns ledger.ErrAlreadyProcessed together with the
// stored outcome.
func (s *Service) Settle(ctx context.Context, reference string) (*Outcome, error) {
	entry := s.log.WithField("reference", reference)

	ev, err := s.adapter.VerifyWithRetry(ctx, reference, s.verifyAttempts, s.verifyBackoff)
	if err != nil {
		result := "declined"
		if gateway.IsTransient(err) {
			result = "transient"
		}
		s.metrics.Settlement(result)
		entry.WithField("error", err.Error()).Warn("Payment verification failed")
		return nil, err
	}

	out := &Outcome{
		Reference:        reference,
		Status:           OutcomeSettled,
		AmountMinorUnits: ev.AmountMinorUnits,
		Currency:         ev.Currency,
	}
	dest, campaignID, err := s.destination(ctx, ev)
	if err != nil {
		if !unroutable(err) {
			s.metrics.Settlement("error")
			return nil, err
		}
		s.metrics.Settlement("unroutable")
		entry.WithField("error", err.Error()).Error("Verified payment cannot be routed")
		return s.hold(ctx, out, err, false)
	}
	out.WalletID = dest.ID
	out.CampaignID = campaignID

	err = s.guard.Admit(ctx, &domain.PaymentReceipt{
		ExternalRef:         reference,
		Kind:                domain.ReceiptCollection,
		AmountMinorUnits:    ev.AmountMinorUnits,
		Currency:            ev.Currency,
		CampaignID:          domain.StrPtr(campaignID),
		BeneficiaryWalletID: domain.StrPtr(dest.ID),
	})
	if errors.Is(err, ledger.ErrAlreadyProcessed) {
		return s.duplicate(ctx, out, err)
	}
	if err != nil {
		s.metrics.Settlement("error")
		return nil, err
	}

	kind := domain.KindDeposit
	if campaignID != "" {
		kind = domain.KindSettlement
	}
	res, err := s.engine.Transfer(ctx, ledger.TransferRequest{
		DestWalletID:     dest.ID,
		AmountMinorUnits: ev.AmountMinorUnits,
		Kind:             kind,
		CampaignID:       campaignID,
		ExternalRef:      reference,
		Note:             "gateway settlement",
	})
	if ledger.IsRejection(err) {
		entry.WithField("error", err.Error()).Warn("Destination refused verified payment")
		return s.hold(ctx, out, err, true)
	}
	if err != nil {
		s.closeReceipt(ctx, reference, err)
		return nil, err
	}
	out.TransactionID = res.Anchor().ID
	if err := s.guard.Complete(context.WithoutCancel(ctx), reference, out.TransactionID); err != nil {
		entry.WithField("error", err.Error()).Error("Payment settled but receipt was not completed")
	}
	s.invalidate(ctx, campaignID, dest.ID)
	s.metrics.Settlement("completed")
	entry.WithFields(logrus.Fields{
		"transaction_id": out.TransactionID,
		"wallet_id":      dest.ID,
		"campaign_id":    campaignID,
		"amount":         ev.AmountMinorUnits,
	}).Info("Payment settled")
	return out, nil
}

// unroutable reports whether a verified payment can never reach the
// destination it was initialized for.
func unroutable(err error) bool {
	return errors.Is(err, ErrNoDestination) || ledger.IsRejection(err)
}

// duplicate reports the stored result of a reference settled before.
func (s *Service) duplicate(ctx context.Context, out *Outcome, err error) (*Outcome, error) {
	s.metrics.Settlement("duplicate")
	if r, lerr := s.guard.Lookup(ctx, out.Reference); lerr == nil {
		out.TransactionID = domain.Deref(r.TransactionID)
		if r.Status == domain.ReceiptReconciliationNeeded && out.TransactionID != "" {
			tx, terr := s.engine.Store().GetTransaction(ctx, out.TransactionID)
			if terr == nil && tx.UserID == domain.PlatformOwnerID {
				out.Status = OutcomeHeld
				out.WalletID = tx.WalletID
				out.CampaignID = ""
			}
		}
	}
	s.log.WithField("reference", out.Reference).Info("Payment already settled")
	return out, err
}

// hold books a verified payment its destination refused into the platform
// wallet, flagged for an operator, so the inflow stays on the ledger.
// admitted tells whether the receipt is already in place.
func (s *Service) hold(ctx context.Context, out *Outcome, cause error, admitted bool) (*Outcome, error) {
	entry := s.log.WithFields(logrus.Fields{"reference": out.Reference, "cause": cause.Error()})
	if !admitted {
		err := s.guard.Admit(ctx, &domain.PaymentReceipt{
			ExternalRef:      out.Reference,
			Kind:             domain.ReceiptCollection,
			AmountMinorUnits: out.AmountMinorUnits,
			Currency:         out.Currency,
		})
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			return s.duplicate(ctx, out, err)
		}
		if err != nil {
			s.metrics.Settlement("error")
			return nil, err
		}
	}
	res, err := s.engine.Suspend(ctx, out.Currency, out.AmountMinorUnits, out.Reference, cause.Error())
	if err != nil {
		s.closeReceipt(ctx, out.Reference, err)
		return nil, err
	}
	out.Status = OutcomeHeld
	out.TransactionID = res.Anchor().ID
	out.WalletID = res.Anchor().WalletID
	out.CampaignID = ""
	if err := s.guard.FlagReconciliation(context.WithoutCancel(ctx), out.Reference, out.TransactionID); err != nil {
		entry.WithField("marker_error", err.Error()).Error("Held payment receipt not flagged")
	}
	s.invalidate(ctx, "", res.Anchor().WalletID)
	s.metrics.Settlement("held")
	entry.WithFields(logrus.Fields{
		"transaction_id": out.TransactionID,
		"amount":         out.AmountMinorUnits,
	}).Warn("Payment held for review")
	return out, nil
}

// closeReceipt releases the receipt of a transfer that wrote nothing, so a
// retry can run it again, and flags the receipt of a partial one.
func (s *Service) closeReceipt(ctx context.Context, reference string, transferErr error) {
	ctx = context.WithoutCancel(ctx)
	entry := s.log.WithFields(logrus.Fields{"reference": reference, "error": transferErr.Error()})
	var partial *ledger.PartialError
	if errors.As(transferErr, &partial) {
		s.metrics.Settlement("partial")
		if err := s.guard.FlagReconciliation(ctx, reference, partial.TransactionID); err != nil {
			entry.WithField("marker_error", err.Error()).Error("Failed to flag receipt for reconciliation")
		}
		return
	}
	s.metrics.Settlement("failed")
	if err := s.guard.Release(ctx, reference); err != nil {
		entry.WithField("release_error", err.Error()).Error("Failed to release receipt")
		return
	}
	entry.Warn("Settlement transfer declined, receipt released")
}

// destination picks the wallet a verified payment credits: the campaign
// owner's wallet for contributions, otherwise the wallet named at initialization.
func (s *Service) destination(ctx context.Context, ev *gateway.SettlementEvent) (*domain.Wallet, string, error) {
	st := s.engine.Store()
	md := ev.Metadata
	switch {
	case md.CampaignID != "":
		c, err := st.GetCampaign(ctx, md.CampaignID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", ledger.ErrCampaignNotFound, md.CampaignID)
		}
		if err != nil {
			return nil, "", err
		}
		if !strings.EqualFold(c.Currency, ev.Currency) {
			return nil, "", ledger.ErrCurrencyMismatch
		}
		w, err := s.engine.EnsureWallet(ctx, c.OwnerID, c.Currency)
		if err != nil {
			return nil, "", err
		}
		return w, c.ID, nil
	case md.WalletID != "":
		w, err := st.GetWallet(ctx, md.WalletID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", ledger.ErrWalletNotFound, md.WalletID)
		}
		if err != nil {
			return nil, "", err
		}
		if !strings.EqualFold(w.Currency, ev.Currency) {
			return nil, "", ledger.ErrCurrencyMismatch
		}
		return w, "", nil
	case md.UserID != "":
		w, err := s.engine.EnsureWallet(ctx, md.UserID, ev.Currency)
		if err != nil {
			return nil, "", err
		}
		return w, "", nil
	}
	return nil, "", ErrNoDestination
}

// PaymentRequest opens a gateway checkout for a contribution or a wallet top-up.
type PaymentRequest struct {
	UserID           string
	Email            string
	CampaignID       string
	WalletID         string
	AmountMinorUnits int64
	Currency         string
}

type PaymentIntent struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
}

// InitializePayment registers the payment with the gateway. Nothing is
// written to the ledger until the payment is verified.
func (s *Service) InitializePayment(ctx context.Context, req PaymentRequest) (*PaymentIntent, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	st := s.engine.Store()
	md := gateway.Metadata{UserID: req.UserID}
	currency := strings.ToUpper(req.Currency)
	switch {
	case req.CampaignID != "":
		c, err := st.GetCampaign(ctx, req.CampaignID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrCampaignNotFound, req.CampaignID)
		}
		if err != nil {
			return nil, err
		}
		if c.Status != domain.CampaignActive {
			return nil, ledger.ErrCampaignInactive
		}
		if currency != "" && currency != c.Currency {
			return nil, ledger.ErrCurrencyMismatch
		}
		currency = c.Currency
		md.CampaignID = c.ID
	case req.WalletID != "":
		w, err := st.GetWallet(ctx, req.WalletID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrWalletNotFound, req.WalletID)
		}
		if err != nil {
			return nil, err
		}
		if w.OwnerID != req.UserID {
			return nil, ledger.ErrNotOwner
		}
		if currency != "" && currency != w.Currency {
			return nil, ledger.ErrCurrencyMismatch
		}
		currency = w.Currency
		md.WalletID = w.ID
	case req.UserID == "":
		return nil, ErrNoDestination
	}
	if currency == "" {
		return nil, ledger.ErrCurrencyMismatch
	}

	ref := s.newReference("pay")
	res, err := s.adapter.Client().InitializePayment(ctx, gateway.InitializeRequest{
		Email:            req.Email,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         currency,
		Reference:        ref,
		CallbackURL:      s.callbackURL,
		Metadata:         md.Map(),
	})
	if err != nil {
		if gateway.IsTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("initialize payment: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"reference":   ref,
		"user_id":     req.UserID,
		"campaign_id": md.CampaignID,
		"wallet_id":   md.WalletID,
		"amount":      req.AmountMinorUnits,
	}).Info("Payment initialized")
	return &PaymentIntent{
		Reference:        ref,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         currency,
	}, nil
}

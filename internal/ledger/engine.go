// Package ledger moves money between wallets and keeps campaign funding in
// step with it. The store only offers per-row compare-and-set, so a transfer
// is a sequence of optimistic writes; when a later write fails the engine
// compensates what it already applied and flags the transaction for
// reconciliation.
package ledger

import (
	"context"      // Request context
	"errors"       // Error classification
	"fmt"          // Error wrapping
	"math/rand/v2" // Backoff jitter
	"time"         // Timeouts

	"github.com/google/uuid"     // Record ids
	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/clock"   // Time source
	"crowdfund_ledger/internal/domain"  // Domain models
	"crowdfund_ledger/internal/metrics" // Ledger metrics
	"crowdfund_ledger/internal/store"   // Persistence
)

const defaultMaxRetries = 5

// Engine is the only component that writes wallet balances and campaign funding.
type Engine struct {
	store      store.Store        // Persistence
	clock      clock.Clock        // Time source
	metrics    *metrics.Metrics   // Counters, nil-safe
	log        logrus.FieldLogger // Structured logger
	maxRetries int                // CAS attempts per write
	backoff    time.Duration      // Base pause between attempts
	newID      func() string      // Record id generator
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMaxRetries bounds the optimistic attempts made for each write.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithBackoff sets the upper bound of the random pause after a version conflict.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) { e.backoff = d }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		clock:      clock.RealClock{},
		log:        logrus.StandardLogger(),
		maxRetries: defaultMaxRetries,
		backoff:    time.Millisecond,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the engine's system of record for read paths.
func (e *Engine) Store() store.Store {
	return e.store
}

func (e *Engine) now() int64 {
	return clock.Millis(e.clock)
}

// TransferRequest describes one money movement. SourceWalletID is empty for
// money entering the ledger from the gateway.
type TransferRequest struct {
	SourceWalletID   string                 // Payer, empty for inflows
	DestWalletID     string                 // Payee
	AmountMinorUnits int64                  // Always > 0
	Kind             domain.TransactionKind // Business flow
	CampaignID       string                 // Campaign to fund, optional
	ExternalRef      string                 // Gateway or guard reference
	Note             string                 // Free text

	// unfund takes the amount back out of the campaign instead of adding it.
	unfund bool
}

// TransferResult holds the records written by a completed transfer; the
// anchor (payer debit, or payee credit for inflows) comes first.
type TransferResult struct {
	Transactions []domain.Transaction
}

func (r *TransferResult) Anchor() domain.Transaction {
	return r.Transactions[0]
}

// Transfer validates the request, then debits the source, credits the
// destination, funds the campaign and records the transactions.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	op, err := e.prepare(ctx, req)
	if err != nil {
		e.metrics.Transfer(string(req.Kind), "rejected")
		e.log.WithFields(logrus.Fields{
			"source_wallet": req.SourceWalletID,
			"dest_wallet":   req.DestWalletID,
			"campaign_id":   req.CampaignID,
			"amount":        req.AmountMinorUnits,
			"kind":          req.Kind,
			"error":         err.Error(),
		}).Warn("Transfer rejected")
		return nil, err
	}
	return op.run(ctx)
}

// prepare performs every check that can be made before the first write.
func (e *Engine) prepare(ctx context.Context, req TransferRequest) (*transferOp, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.DestWalletID == "" {
		return nil, ErrWalletNotFound
	}
	if req.SourceWalletID == req.DestWalletID {
		return nil, ErrSameWallet
	}
	dest, err := e.loadWallet(ctx, req.DestWalletID)
	if err != nil {
		return nil, err
	}
	var src *domain.Wallet
	if req.SourceWalletID != "" {
		if src, err = e.loadWallet(ctx, req.SourceWalletID); err != nil {
			return nil, err
		}
		if src.Currency != dest.Currency {
			return nil, ErrCurrencyMismatch
		}
	}
	var campaign *domain.Campaign
	if req.CampaignID != "" {
		if campaign, err = e.loadCampaign(ctx, req.CampaignID); err != nil {
			return nil, err
		}
		if !req.unfund && campaign.Status != domain.CampaignActive {
			return nil, ErrCampaignInactive
		}
		if campaign.Currency != dest.Currency {
			return nil, ErrCurrencyMismatch
		}
	}
	if src != nil && src.BalanceMinorUnits < req.AmountMinorUnits {
		return nil, ErrInsufficientFunds
	}
	return &transferOp{e: e, req: req, src: src, dest: dest, campaign: campaign}, nil
}

func (e *Engine) loadWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	w, err := e.store.GetWallet(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", id, err)
	}
	return w, nil
}

func (e *Engine) loadCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := e.store.GetCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", id, err)
	}
	return c, nil
}

// pause sleeps a random slice of the backoff window before the next attempt.
func (e *Engine) pause(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return ctx.Err()
	}
	d := time.Duration(rand.Int64N(int64(e.backoff)*int64(attempt+1) + 1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// adjustWallet applies delta to a wallet balance with read, compute, compare-and-set,
// retrying on version conflicts.
func (e *Engine) adjustWallet(ctx context.Context, walletID string, delta int64) error {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, err := e.loadWallet(ctx, walletID)
		if err != nil {
			return err
		}
		next := w.BalanceMinorUnits + delta
		if next < 0 {
			return ErrInsufficientFunds
		}
		err = e.store.CompareAndSetBalance(ctx, w.ID, w.Version, next, e.now())
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrVersionConflict):
			e.metrics.CASConflict("wallet")
			if err := e.pause(ctx, attempt); err != nil {
				return err
			}
		case errors.Is(err, store.ErrNegativeBalance):
			return ErrInsufficientFunds
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
		default:
			return fmt.Errorf("write wallet %s: %w", walletID, err)
		}
	}
	return fmt.Errorf("%w: wallet %s after %d attempts", ErrContention, walletID, e.maxRetries)
}

// adjustCampaign adds delta to campaign funding with the same optimistic loop.
func (e *Engine) adjustCampaign(ctx context.Context, campaignID string, delta int64, requireActive bool) error {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := e.loadCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if requireActive && c.Status != domain.CampaignActive {
			return ErrCampaignInactive
		}
		next := c.CurrentMinorUnits + delta
		if next < 0 {
			return fmt.Errorf("%w: campaign %s funding would become negative", ErrInvalidAmount, campaignID)
		}
		err = e.store.CompareAndSetCampaign(ctx, c.ID, c.Version, next, c.Status, e.now())
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrVersionConflict):
			e.metrics.CASConflict("campaign")
			if err := e.pause(ctx, attempt); err != nil {
				return err
			}
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
		default:
			return fmt.Errorf("write campaign %s: %w", campaignID, err)
		}
	}
	return fmt.Errorf("%w: campaign %s after %d attempts", ErrContention, campaignID, e.maxRetries)
}

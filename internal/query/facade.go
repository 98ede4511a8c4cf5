// Package query serves read models of the ledger. Reads never mutate and may
// lag writes by at most the cache TTL unless the writer invalidates.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"crowdfund_ledger/internal/domain"
	"crowdfund_ledger/internal/store"
	"crowdfund_ledger/internal/utils"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrInvalidLimit = fmt.Errorf("query: limit must be between 1 and %d", MaxPageSize)

type BalanceView struct {
	WalletID          string `json:"wallet_id"`
	OwnerID           string `json:"owner_id"`
	Currency          string `json:"currency"`
	BalanceMinorUnits int64  `json:"balance_minor_units"`
	Balance           string `json:"balance"`
	Version           int64  `json:"version"`
	UpdatedAt         int64  `json:"updated_at"`
}

type TransactionPage struct {
	Transactions []domain.Transaction `json:"transactions"`
	NextCursor   string               `json:"next_cursor,omitempty"`
}

type CampaignProgress struct {
	CampaignID         string                `json:"campaign_id"`
	OwnerID            string                `json:"owner_id"`
	Currency           string                `json:"currency"`
	GoalMinorUnits     int64                 `json:"goal_minor_units"`
	CurrentMinorUnits  int64                 `json:"current_minor_units"`
	PercentBasisPoints int64                 `json:"percent_basis_points"`
	Percent            string                `json:"percent"`
	Status             domain.CampaignStatus `json:"status"`
}

// CampaignAudit compares stored funding with the completed transactions behind it.
type CampaignAudit struct {
	CampaignID             string `json:"campaign_id"`
	CurrentMinorUnits      int64  `json:"current_minor_units"`
	CompletedSumMinorUnits int64  `json:"completed_sum_minor_units"`
	Consistent             bool   `json:"consistent"`
}

// Facade answers balance, history and progress queries.
type Facade struct {
	store store.Store
	cache utils.Cache
	ttl   time.Duration
	log   logrus.FieldLogger
	group singleflight.Group
}

// NewFacade builds the read side; cache may be nil to read straight from the store.
func NewFacade(s store.Store, cache utils.Cache, ttl time.Duration, log logrus.FieldLogger) *Facade {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Facade{store: s, cache: cache, ttl: ttl, log: log}
}

func walletKey(id string) string   { return "ledger:wallet:" + id }
func campaignKey(id string) string { return "ledger:campaign:" + id }

func (f *Facade) cached(ctx context.Context, key string, dest any) bool {
	if f.cache == nil {
		return false
	}
	ok, err := f.cache.Get(ctx, key, dest)
	if err != nil {
		f.log.WithField("key", key).WithError(err).Warn("Cache read failed")
		return false
	}
	return ok
}

func (f *Facade) remember(ctx context.Context, key string, value any) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Set(ctx, key, value, f.ttl); err != nil {
		f.log.WithField("key", key).WithError(err).Warn("Cache write failed")
	}
}

// GetBalance returns the current balance of a wallet.
func (f *Facade) GetBalance(ctx context.Context, walletID string) (*BalanceView, error) {
	key := walletKey(walletID)
	var view BalanceView
	if f.cached(ctx, key, &view) {
		return &view, nil
	}
	v, err, _ := f.group.Do(key, func() (any, error) {
		w, err := f.store.GetWallet(ctx, walletID)
		if err != nil {
			return nil, err
		}
		view := &BalanceView{
			WalletID:          w.ID,
			OwnerID:           w.OwnerID,
			Currency:          w.Currency,
			BalanceMinorUnits: w.BalanceMinorUnits,
			Balance:           utils.FormatMinor(w.BalanceMinorUnits, w.Currency),
			Version:           w.Version,
			UpdatedAt:         w.UpdatedAt,
		}
		f.remember(ctx, key, view)
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*BalanceView)
	return &out, nil
}

// ListTransactions pages a user's history newest first. cursor is the
// NextCursor of the previous page, or empty for the first page.
func (f *Facade) ListTransactions(ctx context.Context, userID string, limit int, cursor string) (*TransactionPage, error) {
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, ErrInvalidLimit
	}
	var before *store.Cursor
	if cursor != "" {
		c, err := store.DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		before = c
	}
	txs, err := f.store.ListTransactions(ctx, userID, limit+1, before)
	if err != nil {
		return nil, err
	}
	page := &TransactionPage{Transactions: txs}
	if len(txs) > limit {
		page.Transactions = txs[:limit]
		page.NextCursor = store.EncodeCursor(store.CursorAfter(txs[limit-1]))
	}
	return page, nil
}

// GetCampaignProgress reports funding against goal. Concurrent misses for the
// same campaign share one store read.
func (f *Facade) GetCampaignProgress(ctx context.Context, campaignID string) (*CampaignProgress, error) {
	key := campaignKey(campaignID)
	var p CampaignProgress
	if f.cached(ctx, key, &p) {
		return &p, nil
	}
	v, err, _ := f.group.Do(key, func() (any, error) {
		c, err := f.store.GetCampaign(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		p := progressOf(c)
		f.remember(ctx, key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*CampaignProgress)
	return &out, nil
}

func progressOf(c *domain.Campaign) *CampaignProgress {
	bp := decimal.Zero
	if c.GoalMinorUnits > 0 {
		bp = decimal.NewFromInt(c.CurrentMinorUnits).
			Mul(decimal.NewFromInt(10000)).
			Div(decimal.NewFromInt(c.GoalMinorUnits)).
			Floor()
	}
	return &CampaignProgress{
		CampaignID:         c.ID,
		OwnerID:            c.OwnerID,
		Currency:           c.Currency,
		GoalMinorUnits:     c.GoalMinorUnits,
		CurrentMinorUnits:  c.CurrentMinorUnits,
		PercentBasisPoints: bp.IntPart(),
		Percent:            bp.Shift(-2).StringFixed(2),
		Status:             c.Status,
	}
}

// AuditCampaign recomputes funding from completed transactions, bypassing the cache.
func (f *Facade) AuditCampaign(ctx context.Context, campaignID string) (*CampaignAudit, error) {
	c, err := f.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	sum, err := f.store.SumCompletedForCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	a := &CampaignAudit{
		CampaignID:             campaignID,
		CurrentMinorUnits:      c.CurrentMinorUnits,
		CompletedSumMinorUnits: sum,
		Consistent:             sum == c.CurrentMinorUnits,
	}
	if !a.Consistent {
		f.log.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"current":     c.CurrentMinorUnits,
			"completed":   sum,
		}).Warn("Campaign funding does not match completed transactions")
	}
	return a, nil
}

// ReconciliationQueue lists transactions an operator still has to look at.
func (f *Facade) ReconciliationQueue(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, ErrInvalidLimit
	}
	return f.store.ListReconciliation(ctx, limit)
}

// Invalidate drops cached views after a write touched them.
func (f *Facade) Invalidate(ctx context.Context, walletIDs []string, campaignID string) {
	if f.cache == nil {
		return
	}
	keys := make([]string, 0, len(walletIDs)+1)
	for _, id := range walletIDs {
		if id != "" {
			keys = append(keys, walletKey(id))
		}
	}
	if campaignID != "" {
		keys = append(keys, campaignKey(campaignID))
	}
	if err := f.cache.Delete(ctx, keys...); err != nil {
		f.log.WithField("keys", keys).WithError(err).Warn("Cache invalidation failed")
	}
}

// IsNotFound reports whether a query failed because the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

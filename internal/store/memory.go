package store

import (
	"context" // Request context
	"sort"    // Ordering
	"sync"    // Locking

	"crowdfund_ledger/internal/domain" // Domain models
)

// MemoryStore keeps the ledger in process memory. Every row operation is
// atomic under a single mutex, which gives the same per-row compare-and-set
// guarantee as the SQL store and nothing more.
type MemoryStore struct {
	mu           sync.Mutex                        // Guards every map
	wallets      map[string]*domain.Wallet         // By id
	walletOwners map[string]string                 // owner|currency -> wallet id
	campaigns    map[string]*domain.Campaign       // By id
	transactions map[string]*domain.Transaction    // By id
	receipts     map[string]*domain.PaymentReceipt // By external reference
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[string]*domain.Wallet),
		walletOwners: make(map[string]string),
		campaigns:    make(map[string]*domain.Campaign),
		transactions: make(map[string]*domain.Transaction),
		receipts:     make(map[string]*domain.PaymentReceipt),
	}
}

func ownerKey(ownerID, currency string) string {
	return ownerID + "|" + currency
}

func (s *MemoryStore) CreateWallet(_ context.Context, w *domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey(w.OwnerID, w.Currency)
	if _, ok := s.walletOwners[key]; ok {
		return ErrDuplicateWallet
	}
	if w.BalanceMinorUnits < 0 {
		return ErrNegativeBalance
	}
	cp := *w
	s.wallets[w.ID] = &cp
	s.walletOwners[key] = w.ID
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, id string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetWalletByOwner(_ context.Context, ownerID, currency string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.walletOwners[ownerKey(ownerID, currency)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.wallets[id]
	return &cp, nil
}

func (s *MemoryStore) CompareAndSetBalance(_ context.Context, id string, expectedVersion, newBalance, updatedAt int64) error {
	if newBalance < 0 {
		return ErrNegativeBalance
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return ErrNotFound
	}
	if w.Version != expectedVersion {
		return ErrVersionConflict
	}
	w.BalanceMinorUnits = newBalance
	w.Version++
	w.UpdatedAt = updatedAt
	return nil
}

func (s *MemoryStore) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CompareAndSetCampaign(_ context.Context, id string, expectedVersion, newCurrent int64, status domain.CampaignStatus, updatedAt int64) error {
	if newCurrent < 0 {
		return ErrNegativeBalance
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if c.Version != expectedVersion {
		return ErrVersionConflict
	}
	c.CurrentMinorUnits = newCurrent
	c.Status = status
	c.Version++
	c.UpdatedAt = updatedAt
	return nil
}

func (s *MemoryStore) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.transactions[tx.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, id string, upd TransactionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		tx.Status = *upd.Status
	}
	if upd.ReconciliationNeeded != nil {
		tx.ReconciliationNeeded = *upd.ReconciliationNeeded
	}
	if upd.Compensated != nil {
		tx.Compensated = *upd.Compensated
	}
	if upd.ReconciliationNote != nil {
		tx.ReconciliationNote = *upd.ReconciliationNote
	}
	tx.UpdatedAt = upd.UpdatedAt
	return nil
}

// sortNewestFirst orders by creation time then id, both descending.
func sortNewestFirst(txs []domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt != txs[j].CreatedAt {
			return txs[i].CreatedAt > txs[j].CreatedAt
		}
		return txs[i].ID > txs[j].ID
	})
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int, before *Cursor) ([]domain.Transaction, error) {
	s.mu.Lock()
	out := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.UserID == userID && before.before(tx) {
			out = append(out, *tx)
		}
	}
	s.mu.Unlock()
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListReconciliation(_ context.Context, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	out := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.ReconciliationNeeded {
			out = append(out, *tx)
		}
	}
	s.mu.Unlock()
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SumCompletedForCampaign(_ context.Context, campaignID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, tx := range s.transactions {
		if tx.Status == domain.StatusCompleted && domain.Deref(tx.CampaignID) == campaignID {
			sum += tx.AmountMinorUnits
		}
	}
	return sum, nil
}

func (s *MemoryStore) InsertReceipt(_ context.Context, r *domain.PaymentReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ExternalRef]; ok {
		return ErrDuplicateReference
	}
	cp := *r
	s.receipts[r.ExternalRef] = &cp
	return nil
}

func (s *MemoryStore) GetReceipt(_ context.Context, ref string) (*domain.PaymentReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[ref]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateReceipt(_ context.Context, ref string, upd ReceiptUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[ref]
	if !ok {
		return ErrNotFound
	}
	r.Status = upd.Status
	if upd.TransactionID != nil {
		r.TransactionID = upd.TransactionID
	}
	r.UpdatedAt = upd.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteReceipt(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[ref]; !ok {
		return ErrNotFound
	}
	delete(s.receipts, ref)
	return nil
}

// Wallets returns a snapshot of every wallet, for audits and tests.
func (s *MemoryStore) Wallets() []domain.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, *w)
	}
	return out
}

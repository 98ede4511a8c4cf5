package ledger

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"crowdfund_ledger/internal/domain"
	"crowdfund_ledger/internal/metrics"
	"crowdfund_ledger/internal/store"
)

// faultyStore wraps MemoryStore with hooks that can fail individual writes.
type faultyStore struct {
	*store.MemoryStore

	mu           sync.Mutex
	balanceHook  func(id string, newBalance int64) error
	campaignHook func(id string, newCurrent int64) error
	createTxHook func(tx *domain.Transaction) error
	updateTxHook func(id string, upd store.TransactionUpdate) error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: store.NewMemoryStore()}
}

func (s *faultyStore) hooks() (func(string, int64) error, func(string, int64) error, func(*domain.Transaction) error, func(string, store.TransactionUpdate) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceHook, s.campaignHook, s.createTxHook, s.updateTxHook
}

func (s *faultyStore) CompareAndSetBalance(ctx context.Context, id string, expectedVersion, newBalance, updatedAt int64) error {
	if hook, _, _, _ := s.hooks(); hook != nil {
		if err := hook(id, newBalance); err != nil {
			return err
		}
	}
	return s.MemoryStore.CompareAndSetBalance(ctx, id, expectedVersion, newBalance, updatedAt)
}

func (s *faultyStore) CompareAndSetCampaign(ctx context.Context, id string, expectedVersion, newCurrent int64, status domain.CampaignStatus, updatedAt int64) error {
	if _, hook, _, _ := s.hooks(); hook != nil {
		if err := hook(id, newCurrent); err != nil {
			return err
		}
	}
	return s.MemoryStore.CompareAndSetCampaign(ctx, id, expectedVersion, newCurrent, status, updatedAt)
}

func (s *faultyStore) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if _, _, hook, _ := s.hooks(); hook != nil {
		if err := hook(tx); err != nil {
			return err
		}
	}
	return s.MemoryStore.CreateTransaction(ctx, tx)
}

func (s *faultyStore) UpdateTransaction(ctx context.Context, id string, upd store.TransactionUpdate) error {
	if _, _, _, hook := s.hooks(); hook != nil {
		if err := hook(id, upd); err != nil {
			return err
		}
	}
	return s.MemoryStore.UpdateTransaction(ctx, id, upd)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(s store.Store, opts ...Option) *Engine {
	base := []Option{
		WithLogger(quietLogger()),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	}
	return NewEngine(s, append(base, opts...)...)
}

func seedWallet(t *testing.T, s store.Store, id, owner string, balance int64) {
	t.Helper()
	err := s.CreateWallet(context.Background(), &domain.Wallet{ID: id, OwnerID: owner, Currency: "NGN", BalanceMinorUnits: balance})
	if err != nil {
		t.Fatalf("seed wallet %s: %v", id, err)
	}
}

func seedCampaign(t *testing.T, s store.Store, id, owner string, goal int64) {
	t.Helper()
	err := s.CreateCampaign(context.Background(), &domain.Campaign{ID: id, OwnerID: owner, Currency: "NGN", GoalMinorUnits: goal, Status: domain.CampaignActive})
	if err != nil {
		t.Fatalf("seed campaign %s: %v", id, err)
	}
}

func balanceOf(t *testing.T, s store.Store, id string) int64 {
	t.Helper()
	w, err := s.GetWallet(context.Background(), id)
	if err != nil {
		t.Fatalf("get wallet %s: %v", id, err)
	}
	return w.BalanceMinorUnits
}

func fundingOf(t *testing.T, s store.Store, id string) int64 {
	t.Helper()
	c, err := s.GetCampaign(context.Background(), id)
	if err != nil {
		t.Fatalf("get campaign %s: %v", id, err)
	}
	return c.CurrentMinorUnits
}

func totalBalance(wallets []domain.Wallet) int64 {
	var sum int64
	for _, w := range wallets {
		sum += w.BalanceMinorUnits
	}
	return sum
}

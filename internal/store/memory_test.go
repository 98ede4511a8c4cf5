package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"crowdfund_ledger/internal/domain"
)

func TestMemoryCompareAndSetBalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateWallet(ctx, &domain.Wallet{ID: "w1", OwnerID: "u1", Currency: "NGN", BalanceMinorUnits: 100}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	if err := s.CompareAndSetBalance(ctx, "w1", 0, 250, 1); err != nil {
		t.Fatalf("first cas: %v", err)
	}
	if err := s.CompareAndSetBalance(ctx, "w1", 0, 300, 2); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale cas: expected version conflict, got %v", err)
	}
	if err := s.CompareAndSetBalance(ctx, "w1", 1, -1, 3); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("negative cas: expected ErrNegativeBalance, got %v", err)
	}
	if err := s.CompareAndSetBalance(ctx, "missing", 0, 1, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing cas: expected ErrNotFound, got %v", err)
	}

	w, err := s.GetWallet(ctx, "w1")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceMinorUnits != 250 || w.Version != 1 {
		t.Fatalf("unexpected wallet state: balance=%d version=%d", w.BalanceMinorUnits, w.Version)
	}
}

func TestMemoryWalletUniquePerOwnerCurrency(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateWallet(ctx, &domain.Wallet{ID: "w1", OwnerID: "u1", Currency: "NGN"}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if err := s.CreateWallet(ctx, &domain.Wallet{ID: "w2", OwnerID: "u1", Currency: "NGN"}); !errors.Is(err, ErrDuplicateWallet) {
		t.Fatalf("expected ErrDuplicateWallet, got %v", err)
	}
	if err := s.CreateWallet(ctx, &domain.Wallet{ID: "w3", OwnerID: "u1", Currency: "USD"}); err != nil {
		t.Fatalf("second currency wallet: %v", err)
	}
	w, err := s.GetWalletByOwner(ctx, "u1", "USD")
	if err != nil || w.ID != "w3" {
		t.Fatalf("lookup by owner: wallet=%v err=%v", w, err)
	}
}

func TestMemoryReceiptUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := &domain.PaymentReceipt{ExternalRef: "R1", Kind: domain.ReceiptCollection, AmountMinorUnits: 5000, Currency: "NGN", Status: domain.ReceiptProcessing}
	if err := s.InsertReceipt(ctx, r); err != nil {
		t.Fatalf("insert receipt: %v", err)
	}
	if err := s.InsertReceipt(ctx, r); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
	if err := s.DeleteReceipt(ctx, "R1"); err != nil {
		t.Fatalf("delete receipt: %v", err)
	}
	if err := s.InsertReceipt(ctx, r); err != nil {
		t.Fatalf("insert after release: %v", err)
	}
}

func TestMemoryListTransactionsPaginates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		tx := &domain.Transaction{
			ID:               fmt.Sprintf("tx-%02d", i),
			UserID:           "u1",
			Type:             domain.TypeCredit,
			AmountMinorUnits: int64(i + 1),
			Status:           domain.StatusCompleted,
			CreatedAt:        int64(1000 + i/2), // pairs share a timestamp
		}
		if err := s.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("create tx: %v", err)
		}
	}
	_ = s.CreateTransaction(ctx, &domain.Transaction{ID: "other", UserID: "u2", CreatedAt: 5000})

	seen := map[string]bool{}
	var cursor *Cursor
	pages := 0
	for {
		page, err := s.ListTransactions(ctx, "u1", 3, cursor)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) == 0 {
			break
		}
		pages++
		for i, tx := range page {
			if seen[tx.ID] {
				t.Fatalf("transaction %s returned twice", tx.ID)
			}
			seen[tx.ID] = true
			if i > 0 && page[i-1].CreatedAt < tx.CreatedAt {
				t.Fatalf("page not newest first: %v", page)
			}
		}
		next := CursorAfter(page[len(page)-1])
		decoded, err := DecodeCursor(EncodeCursor(next))
		if err != nil {
			t.Fatalf("cursor round trip: %v", err)
		}
		cursor = decoded
	}
	if len(seen) != 7 || pages != 3 {
		t.Fatalf("expected 7 transactions over 3 pages, got %d over %d", len(seen), pages)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if c, err := DecodeCursor(""); err != nil || c != nil {
		t.Fatalf("empty cursor should be nil, got %v %v", c, err)
	}
	for _, token := range []string{"%%%", "bm9jb2xvbg", "YWJjOmlk"} {
		if _, err := DecodeCursor(token); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("token %q: expected ErrInvalidCursor, got %v", token, err)
		}
	}
}

func TestSumCompletedForCampaign(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	camp := "c1"
	_ = s.CreateTransaction(ctx, &domain.Transaction{ID: "a", AmountMinorUnits: 100, Status: domain.StatusCompleted, CampaignID: &camp})
	_ = s.CreateTransaction(ctx, &domain.Transaction{ID: "b", AmountMinorUnits: 50, Status: domain.StatusFailed, CampaignID: &camp})
	_ = s.CreateTransaction(ctx, &domain.Transaction{ID: "c", AmountMinorUnits: 25, Status: domain.StatusCompleted})
	sum, err := s.SumCompletedForCampaign(ctx, camp)
	if err != nil || sum != 100 {
		t.Fatalf("expected 100, got %d (%v)", sum, err)
	}
}

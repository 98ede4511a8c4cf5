// Package store is the ledger's system of record: wallets, transactions,
// campaigns and payment receipts. Balance and funding rows are only ever
// written through the compare-and-set operations.
package store

import (
	"context"         // Request context
	"encoding/base64" // Cursor encoding
	"errors"          // Error classification
	"fmt"             // Error wrapping
	"strconv"         // Number parsing
	"strings"         // String helpers

	"crowdfund_ledger/internal/domain" // Domain models
)

var (
	ErrNotFound           = errors.New("store: record not found")
	ErrVersionConflict    = errors.New("store: version conflict")
	ErrDuplicateReference = errors.New("store: duplicate external reference")
	ErrDuplicateWallet    = errors.New("store: wallet already exists for owner and currency")
	ErrNegativeBalance    = errors.New("store: balance would become negative")
	ErrInvalidCursor      = errors.New("store: invalid cursor")
)

// TransactionUpdate carries the mutable fields of a transaction; nil fields are left untouched.
type TransactionUpdate struct {
	Status               *domain.TransactionStatus // nil keeps the current one
	ReconciliationNeeded *bool                     // Operator marker
	Compensated          *bool                     // Applied writes were undone
	ReconciliationNote   *string                   // Step outcomes
	UpdatedAt            int64                     // Milliseconds
}

// ReceiptUpdate carries the mutable fields of a payment receipt.
type ReceiptUpdate struct {
	Status        domain.ReceiptStatus // New receipt state
	TransactionID *string              // nil keeps the link
	UpdatedAt     int64                // Milliseconds
}

// Cursor points just past the last transaction of a history page.
type Cursor struct {
	CreatedAt int64
	ID        string
}

// Store is implemented by GormStore and MemoryStore.
type Store interface {
	CreateWallet(ctx context.Context, w *domain.Wallet) error
	GetWallet(ctx context.Context, id string) (*domain.Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerID, currency string) (*domain.Wallet, error)
	CompareAndSetBalance(ctx context.Context, id string, expectedVersion, newBalance, updatedAt int64) error

	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	CompareAndSetCampaign(ctx context.Context, id string, expectedVersion, newCurrent int64, status domain.CampaignStatus, updatedAt int64) error

	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, upd TransactionUpdate) error
	ListTransactions(ctx context.Context, userID string, limit int, before *Cursor) ([]domain.Transaction, error)
	ListReconciliation(ctx context.Context, limit int) ([]domain.Transaction, error)
	SumCompletedForCampaign(ctx context.Context, campaignID string) (int64, error)

	InsertReceipt(ctx context.Context, r *domain.PaymentReceipt) error
	GetReceipt(ctx context.Context, ref string) (*domain.PaymentReceipt, error)
	UpdateReceipt(ctx context.Context, ref string, upd ReceiptUpdate) error
	DeleteReceipt(ctx context.Context, ref string) error
}

// EncodeCursor renders c as an opaque token.
func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt, 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	millis, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	createdAt, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

// CursorAfter returns the cursor that continues a page ending with tx.
func CursorAfter(tx domain.Transaction) Cursor {
	return Cursor{CreatedAt: tx.CreatedAt, ID: tx.ID}
}

// before reports whether tx sorts strictly after the cursor in newest-first order.
func (c *Cursor) before(tx *domain.Transaction) bool {
	if c == nil {
		return true
	}
	if tx.CreatedAt != c.CreatedAt {
		return tx.CreatedAt < c.CreatedAt
	}
	return tx.ID < c.ID
}

package domain

// TransactionType is the direction of a transaction from its owner's point of view
type TransactionType string

const (
	TypeCredit   TransactionType = "credit"
	TypeDebit    TransactionType = "debit"
	TypeTransfer TransactionType = "transfer"
)

// TransactionKind is the business flow that produced a transaction
type TransactionKind string

const (
	KindSupport    TransactionKind = "support"    // Peer support of a campaign
	KindSettlement TransactionKind = "settlement" // Gateway-verified inbound payment
	KindWithdrawal TransactionKind = "withdrawal" // Payout to a bank account
	KindReversal   TransactionKind = "reversal"   // Refund or admin reversal
	KindDeposit    TransactionKind = "deposit"    // Wallet top-up through the gateway
)

// TransactionStatus is the lifecycle state of a transaction
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// Transaction Model
type Transaction struct {
	ID                   string            `gorm:"primaryKey;size:36" json:"id"`                                   // Primary key (uuid)
	UserID               string            `gorm:"size:64;not null;index:idx_tx_user_created,priority:1" json:"user_id"` // Owning user
	WalletID             string            `gorm:"size:36;not null;index" json:"wallet_id"`                        // Wallet the amount moved on
	Type                 TransactionType   `gorm:"size:16;not null" json:"type"`                                   // credit, debit or transfer
	Kind                 TransactionKind   `gorm:"size:16;not null" json:"kind"`                                   // Business flow
	AmountMinorUnits     int64             `gorm:"not null" json:"amount_minor_units"`                             // Always > 0
	Currency             string            `gorm:"size:3;not null" json:"currency"`                                // Currency of the wallet
	Status               TransactionStatus `gorm:"size:16;not null;index" json:"status"`                           // pending, completed, failed, cancelled
	CounterpartyID       *string           `gorm:"size:64" json:"counterparty_id,omitempty"`                       // Other party, by id
	CampaignID           *string           `gorm:"size:36;index" json:"campaign_id,omitempty"`                     // Funded campaign, by id
	ExternalRef          *string           `gorm:"size:128;index" json:"external_ref,omitempty"`                   // Gateway reference
	Description          string            `gorm:"size:255" json:"description,omitempty"`                          // Free text from the requester
	ReconciliationNeeded bool              `gorm:"not null;default:false;index" json:"reconciliation_needed"`      // Partial multi-step failure marker
	Compensated          bool              `gorm:"not null;default:false" json:"compensated"`                      // Applied writes were reversed
	ReconciliationNote   string            `gorm:"type:text" json:"reconciliation_note,omitempty"`                 // Step outcomes
	CreatedAt            int64             `gorm:"autoCreateTime:milli;index:idx_tx_user_created,priority:2" json:"created_at"` // Creation time in milliseconds
	UpdatedAt            int64             `gorm:"autoUpdateTime:milli" json:"updated_at"`                         // Last update in milliseconds
}

// StrPtr returns a pointer to s, or nil for an empty string
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

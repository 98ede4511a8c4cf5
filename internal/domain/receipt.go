package domain

// ReceiptKind says which way an external settlement moved money
type ReceiptKind string

const (
	ReceiptCollection ReceiptKind = "collection" // Money collected from a payer
	ReceiptPayout     ReceiptKind = "payout"     // Money sent to a bank account
	ReceiptReversal   ReceiptKind = "reversal"   // Operator reversal of a transfer
	ReceiptSupport    ReceiptKind = "support"    // Client-keyed support request
)

// ReceiptStatus is the state of an external settlement
type ReceiptStatus string

const (
	ReceiptProcessing           ReceiptStatus = "processing"
	ReceiptCompleted            ReceiptStatus = "completed"
	ReceiptFailed               ReceiptStatus = "failed"
	ReceiptReconciliationNeeded ReceiptStatus = "reconciliation_needed"
)

// PaymentReceipt Model; ExternalRef is the idempotency key
type PaymentReceipt struct {
	ExternalRef         string        `gorm:"primaryKey;size:128" json:"external_ref"`      // Unique gateway reference
	Kind                ReceiptKind   `gorm:"size:16;not null" json:"kind"`                 // collection, payout, reversal or support
	AmountMinorUnits    int64         `gorm:"not null" json:"amount_minor_units"`           // Authoritative amount
	Currency            string        `gorm:"size:3;not null" json:"currency"`              // Currency code
	Status              ReceiptStatus `gorm:"size:32;not null" json:"status"`               // Settlement state
	CampaignID          *string       `gorm:"size:36" json:"campaign_id,omitempty"`         // Linked campaign
	BeneficiaryWalletID *string       `gorm:"size:36" json:"beneficiary_wallet_id,omitempty"` // Linked wallet
	TransactionID       *string       `gorm:"size:36" json:"transaction_id,omitempty"`      // Ledger transaction it produced
	CreatedAt           int64         `gorm:"autoCreateTime:milli" json:"created_at"`       // Creation time in milliseconds
	UpdatedAt           int64         `gorm:"autoUpdateTime:milli" json:"updated_at"`       // Last update in milliseconds
}

package domain

// PlatformOwnerID is the reserved owner of the platform float wallets
const PlatformOwnerID = "platform"

// Wallet Model
type Wallet struct {
	ID                string `gorm:"primaryKey;size:36" json:"id"`                                                 // Primary key (uuid)
	OwnerID           string `gorm:"size:64;not null;uniqueIndex:idx_wallet_owner_currency" json:"owner_id"`       // Owning user
	Currency          string `gorm:"size:3;not null;uniqueIndex:idx_wallet_owner_currency" json:"currency"`        // ISO 4217 currency code
	BalanceMinorUnits int64  `gorm:"not null;default:0;check:chk_wallet_balance,balance_minor_units >= 0" json:"balance_minor_units"` // Balance in minor units
	Version           int64  `gorm:"not null;default:0" json:"version"`                                            // Optimistic concurrency token
	CreatedAt         int64  `gorm:"autoCreateTime:milli" json:"created_at"`                                       // Timestamp of creation in milliseconds
	UpdatedAt         int64  `gorm:"autoUpdateTime:milli" json:"updated_at"`                                       // Timestamp of last write in milliseconds
}

// IsPlatform reports whether the wallet holds platform float
func (w *Wallet) IsPlatform() bool {
	return w.OwnerID == PlatformOwnerID
}

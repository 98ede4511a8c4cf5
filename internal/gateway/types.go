package gateway

import (
	"encoding/json" // JSON encoding
	"strconv"       // Number parsing
)

// InitializeRequest opens a checkout. Amount is in minor units.
type InitializeRequest struct {
	Email            string         `json:"email"`
	AmountMinorUnits int64          `json:"amount"`
	Currency         string         `json:"currency,omitempty"`
	Reference        string         `json:"reference"`
	CallbackURL      string         `json:"callback_url,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the gateway's record of a collection.
type Verification struct {
	ID               int64    `json:"id"`
	Status           string   `json:"status"` // success, failed, abandoned, ongoing, pending, reversed
	Reference        string   `json:"reference"`
	AmountMinorUnits int64    `json:"amount"`
	Currency         string   `json:"currency"`
	GatewayResponse  string   `json:"gateway_response"`
	PaidAt           string   `json:"paid_at"`
	Metadata         Metadata `json:"metadata"`
	Customer         struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// Metadata is what the ledger attached at initialization. The gateway echoes
// it back as an object, or as an empty string when nothing was attached.
type Metadata struct {
	CampaignID string `json:"campaign_id,omitempty"`
	WalletID   string `json:"wallet_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || b[0] != '{' {
		// Some payloads carry metadata as a JSON-encoded string.
		var s string
		if err := json.Unmarshal(b, &s); err != nil || s == "" {
			*m = Metadata{}
			return nil
		}
		b = []byte(s)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		*m = Metadata{}
		return nil
	}
	*m = Metadata{
		CampaignID: stringField(raw["campaign_id"]),
		WalletID:   stringField(raw["wallet_id"]),
		UserID:     stringField(raw["user_id"]),
	}
	return nil
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// Map renders metadata for InitializeRequest.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, 3)
	if m.CampaignID != "" {
		out["campaign_id"] = m.CampaignID
	}
	if m.WalletID != "" {
		out["wallet_id"] = m.WalletID
	}
	if m.UserID != "" {
		out["user_id"] = m.UserID
	}
	return out
}

type AccountResolution struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

type recipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency,omitempty"`
}

type Recipient struct {
	RecipientCode string `json:"recipient_code"`
	Name          string `json:"name"`
}

type transferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

// Transfer is the gateway's view of a payout.
type Transfer struct {
	TransferCode     string `json:"transfer_code"`
	Reference        string `json:"reference"`
	Status           string `json:"status"` // pending, success, failed, reversed, otp
	AmountMinorUnits int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// Payout statuses
const (
	TransferSuccess  = "success"
	TransferFailed   = "failed"
	TransferReversed = "reversed"
)

package gateway

import (
	"crypto/hmac"   // Signature check
	"crypto/sha512" // HMAC-SHA512
	"encoding/hex"  // Signature encoding
	"encoding/json" // JSON encoding
	"fmt"           // Error wrapping
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// Webhook event names
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// Sign returns the signature the gateway puts on body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares in constant time.
func ValidSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Event is a webhook delivery. Data is decoded according to Event.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Reference extracts data.reference, present on every event the ledger handles.
func (e Event) Reference() (string, error) {
	var d struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return "", fmt.Errorf("gateway: decode %s data: %w", e.Event, err)
	}
	if d.Reference == "" {
		return "", fmt.Errorf("gateway: %s event without reference", e.Event)
	}
	return d.Reference, nil
}

func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("gateway: decode event: %w", err)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("gateway: event name missing")
	}
	return &ev, nil
}

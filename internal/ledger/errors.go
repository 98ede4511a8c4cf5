package ledger

import (
	"errors"  // Error classification
	"fmt"     // Error wrapping
	"strings" // String helpers
)

// Caller-correctable rejections. None of them leaves a balance or funding write behind.
var (
	ErrInvalidAmount     = errors.New("ledger: invalid amount")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrCurrencyMismatch  = errors.New("ledger: currency mismatch")
	ErrSameWallet        = errors.New("ledger: source and destination are the same wallet")
	ErrWalletNotFound    = errors.New("ledger: wallet not found")
	ErrCampaignNotFound  = errors.New("ledger: campaign not found")
	ErrCampaignInactive  = errors.New("ledger: campaign is not accepting funds")
	ErrNotOwner          = errors.New("ledger: not the owner")
	ErrNotReversible     = errors.New("ledger: transaction cannot be reversed")
	ErrInvalidStatus     = errors.New("ledger: invalid status")
)

var (
	// ErrAlreadyProcessed means the external reference was settled before. Success-equivalent.
	ErrAlreadyProcessed = errors.New("ledger: already processed")
	// ErrContention means optimistic writes kept conflicting; retry the whole request.
	ErrContention = errors.New("ledger: write contention, retry the request")
	// ErrPartial matches *PartialError. Never retry automatically.
	ErrPartial = errors.New("ledger: transfer partially applied")
)

// Step names used in StepOutcome.
const (
	StepRecordAnchor   = "record_transaction"
	StepDebitSource    = "debit_source"
	StepCreditDest     = "credit_destination"
	StepFundCampaign   = "fund_campaign"
	StepRecordPayee    = "record_payee"
	StepCompleteAnchor = "complete_transaction"
)

// StepOutcome is the result of one write of a transfer or of its compensation.
type StepOutcome struct {
	Step    string `json:"step"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

func (s StepOutcome) String() string {
	if s.Applied {
		return s.Step + "=applied"
	}
	if s.Error == "" {
		return s.Step + "=skipped"
	}
	return s.Step + "=failed(" + s.Error + ")"
}

// PartialError reports a transfer that applied some writes and then failed.
type PartialError struct {
	TransactionID string        // Anchor record
	Steps         []StepOutcome // Per-step outcome
	Compensated   bool          // Applied writes were undone
	Cause         error         // First failure
}

func (e *PartialError) Error() string {
	state := "compensation failed, reconciliation needed"
	if e.Compensated {
		state = "compensated"
	}
	return fmt.Sprintf("ledger: transfer %s partially applied (%s): %v [%s]",
		e.TransactionID, state, e.Cause, describeSteps(e.Steps))
}

func (e *PartialError) Is(target error) bool {
	return target == ErrPartial
}

func (e *PartialError) Unwrap() error {
	return e.Cause
}

func describeSteps(steps []StepOutcome) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "; ")
}

// IsRejection reports whether err is an ordinary, caller-correctable decline.
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrSameWallet),
		errors.Is(err, ErrWalletNotFound),
		errors.Is(err, ErrCampaignNotFound),
		errors.Is(err, ErrCampaignInactive),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrNotReversible),
		errors.Is(err, ErrInvalidStatus):
		return !errors.Is(err, ErrPartial)
	}
	return false
}

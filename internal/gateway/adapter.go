package gateway

import (
	"context" // Request context
	"errors"  // Error classification
	"fmt"     // Error wrapping
	"time"    // Timeouts
)

// ErrorKind separates definitive declines from failures worth retrying.
type ErrorKind int

const (
	NotSuccessful ErrorKind = iota + 1
	Transient
)

func (k ErrorKind) String() string {
	switch k {
	case NotSuccessful:
		return "not_successful"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// VerificationError is returned by Adapter.Verify.
type VerificationError struct {
	Kind      ErrorKind
	Reference string
	Status    string // gateway status when Kind is NotSuccessful
	Err       error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: verify %s: %s: %v", e.Reference, e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway: verify %s: %s (status %q)", e.Reference, e.Kind, e.Status)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// SettlementEvent is a verified, successful collection.
type SettlementEvent struct {
	Reference        string   // Gateway reference
	AmountMinorUnits int64    // Verified amount
	Currency         string   // Upper-case ISO code
	Email            string   // Payer
	Metadata         Metadata // Destination set at initialization
	PaidAt           string   // Gateway timestamp
}

// Adapter turns gateway answers into settlement events.
type Adapter struct {
	client  *Client       // Gateway client
	timeout time.Duration // Per-call deadline
}

func NewAdapter(c *Client, timeout time.Duration) *Adapter {
	return &Adapter{client: c, timeout: timeout}
}

func (a *Adapter) Client() *Client {
	return a.client
}

// Verify asks the gateway whether reference was paid. The amount always comes
// from the gateway, never from the caller.
func (a *Adapter) Verify(ctx context.Context, reference string) (*SettlementEvent, error) {
	if reference == "" {
		return nil, &VerificationError{Kind: NotSuccessful, Err: errors.New("empty reference")}
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	v, err := a.client.VerifyTransaction(ctx, reference)
	if err != nil {
		kind := NotSuccessful
		if isTransient(err) {
			kind = Transient
		}
		return nil, &VerificationError{Kind: kind, Reference: reference, Err: err}
	}
	if v.Status != "success" {
		return nil, &VerificationError{Kind: NotSuccessful, Reference: reference, Status: v.Status}
	}
	if v.Reference != reference {
		return nil, &VerificationError{
			Kind:      NotSuccessful,
			Reference: reference,
			Status:    v.Status,
			Err:       fmt.Errorf("gateway answered for reference %q", v.Reference),
		}
	}
	if v.AmountMinorUnits <= 0 {
		return nil, &VerificationError{
			Kind:      NotSuccessful,
			Reference: reference,
			Status:    v.Status,
			Err:       fmt.Errorf("non-positive amount %d", v.AmountMinorUnits),
		}
	}
	return &SettlementEvent{
		Reference:        v.Reference,
		AmountMinorUnits: v.AmountMinorUnits,
		Currency:         v.Currency,
		Email:            v.Customer.Email,
		Metadata:         v.Metadata,
		PaidAt:           v.PaidAt,
	}, nil
}

// VerifyWithRetry retries Transient failures with exponential backoff.
// Declines are returned immediately.
func (a *Adapter) VerifyWithRetry(ctx context.Context, reference string, attempts int, backoff time.Duration) (*SettlementEvent, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		ev, err := a.Verify(ctx, reference)
		if err == nil {
			return ev, nil
		}
		lastErr = err
		var verr *VerificationError
		if !errors.As(err, &verr) || verr.Kind != Transient || i == attempts-1 {
			break
		}
		wait := backoff << i
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, &VerificationError{Kind: Transient, Reference: reference, Err: ctx.Err()}
		case <-t.C:
		}
	}
	return nil, lastErr
}

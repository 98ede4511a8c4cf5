// Package gateway talks to a Paystack-style payment gateway: collections are
// initialized and verified, payouts go out as bank transfers.
package gateway

import (
	"bytes"         // Request bodies
	"context"       // Request context
	"encoding/json" // JSON encoding
	"errors"        // Error classification
	"fmt"           // Error wrapping
	"io"            // Body reads
	"net/http"      // HTTP client
	"net/url"       // Transport errors
	"strings"       // String helpers
	"time"          // Timeouts

	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/metrics" // Ledger metrics
)

// APIError is a non-2xx answer, or a 2xx envelope with status false.
type APIError struct {
	StatusCode int    // HTTP status
	Message    string // Gateway message or raw body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: http %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is a thin JSON client for the gateway REST API.
type Client struct {
	baseURL    string             // Gateway API root
	secretKey  string             // Bearer token and webhook HMAC key
	httpClient *http.Client       // Shared transport
	metrics    *metrics.Metrics   // Call counters
	log        logrus.FieldLogger // Structured logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func WithClientLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL, secretKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SecretKey is also the webhook signing key.
func (c *Client) SecretKey() string {
	return c.secretKey
}

// InitializePayment opens a hosted checkout for the payer.
func (c *Client) InitializePayment(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	var out InitializeResult
	if err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransaction fetches the gateway's record of a collection.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	var out Verification
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveAccountName returns the registered holder of a bank account.
func (c *Client) ResolveAccountName(ctx context.Context, accountNumber, bankCode string) (*AccountResolution, error) {
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)
	var out AccountResolution
	if err := c.do(ctx, "resolve_account", http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode, currency string) (*Recipient, error) {
	req := recipientRequest{
		Type:          "nuban",
		Name:          name,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      currency,
	}
	var out Recipient
	if err := c.do(ctx, "create_recipient", http.MethodPost, "/transferrecipient", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateBankTransfer pays out from the gateway balance to a recipient.
func (c *Client) InitiateBankTransfer(ctx context.Context, amountMinorUnits int64, recipientCode, reference, reason string) (*Transfer, error) {
	req := transferRequest{
		Source:    "balance",
		Amount:    amountMinorUnits,
		Recipient: recipientCode,
		Reference: reference,
		Reason:    reason,
	}
	var out Transfer
	if err := c.do(ctx, "transfer", http.MethodPost, "/transfer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	err := c.roundTrip(ctx, method, path, body, out)
	result := "ok"
	if err != nil {
		result = "error"
		if isTransient(err) {
			result = "transient"
		}
		c.log.WithFields(logrus.Fields{
			"op":    op,
			"path":  path,
			"error": err.Error(),
		}).Warn("Gateway call failed")
	}
	c.metrics.GatewayCall(op, result)
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway: read response: %w", err)
	}
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("gateway: decode response: %w", decodeErr)
	}
	if !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("gateway: decode data: %w", err)
	}
	return nil
}

// isTransient classifies transport failures, timeouts, 429 and 5xx as retryable.
// A cancelled call tells nothing about the payment either.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// IsDeclined reports whether the gateway answered and refused the request: a
// 4xx, or a 2xx envelope with status false. Anything else after the request
// left, an unreadable body included, leaves the outcome unknown.
func IsDeclined(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return !apiErr.Temporary()
}

// IsTransient reports whether a client error may clear up on retry.
func IsTransient(err error) bool {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Kind == Transient
	}
	return isTransient(err)
}

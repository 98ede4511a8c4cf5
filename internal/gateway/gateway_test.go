package gateway_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"crowdfund_ledger/internal/gateway"
	"crowdfund_ledger/internal/gateway/gatewaytest"
	"crowdfund_ledger/internal/metrics"
)

const secret = "sk_test_secret"

func newAdapter(baseURL string, timeout time.Duration) *gateway.Adapter {
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := gateway.NewClient(baseURL, secret,
		gateway.WithClientLogger(log),
		gateway.WithClientMetrics(metrics.New(prometheus.NewRegistry())),
	)
	return gateway.NewAdapter(c, timeout)
}

func verificationKind(t *testing.T, err error) gateway.ErrorKind {
	t.Helper()
	var verr *gateway.VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("error %v is not a VerificationError", err)
	}
	return verr.Kind
}

func TestVerifySuccess(t *testing.T) {
	srv := gatewaytest.NewServer(secret)
	defer srv.Close()
	srv.AddPayment(gatewaytest.Payment{
		Reference: "ref-ok",
		Amount:    250000,
		Email:     "payer@example.com",
		Status:    "success",
		Metadata:  map[string]any{"campaign_id": "c-1"},
	})

	ev, err := newAdapter(srv.URL, time.Second).Verify(context.Background(), "ref-ok")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ev.AmountMinorUnits != 250000 || ev.Currency != "NGN" || ev.Metadata.CampaignID != "c-1" || ev.Email != "payer@example.com" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestVerifyNotSuccessful(t *testing.T) {
	srv := gatewaytest.NewServer(secret)
	defer srv.Close()
	srv.AddPayment(gatewaytest.Payment{Reference: "ref-abandoned", Amount: 100, Status: "abandoned"})

	a := newAdapter(srv.URL, time.Second)
	_, err := a.Verify(context.Background(), "ref-abandoned")
	if kind := verificationKind(t, err); kind != gateway.NotSuccessful {
		t.Fatalf("kind = %s, want not_successful", kind)
	}
	_, err = a.Verify(context.Background(), "ref-unknown")
	if kind := verificationKind(t, err); kind != gateway.NotSuccessful {
		t.Fatalf("unknown reference kind = %s, want not_successful", kind)
	}
	if gateway.IsTransient(err) {
		t.Fatalf("decline classified as transient")
	}
}

func TestVerifyTransientOnServerError(t *testing.T) {
	srv := gatewaytest.NewServer(secret)
	defer srv.Close()
	srv.AddPayment(gatewaytest.Payment{Reference: "ref-1", Amount: 100, Status: "success"})
	srv.FailVerify(1)

	_, err := newAdapter(srv.URL, time.Second).Verify(context.Background(), "ref-1")
	if kind := verificationKind(t, err); kind != gateway.Transient {
		t.Fatalf("kind = %s, want transient", kind)
	}
}

func TestVerifyTransientOnTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	_, err := newAdapter(slow.URL, 50*time.Millisecond).Verify(context.Background(), "ref-slow")
	if kind := verificationKind(t, err); kind != gateway.Transient {
		t.Fatalf("kind = %s, want transient", kind)
	}
}

func TestVerifyRejectsMismatchedReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"success","reference":"someone-else","amount":100,"currency":"NGN","metadata":""}}`))
	}))
	defer srv.Close()

	_, err := newAdapter(srv.URL, time.Second).Verify(context.Background(), "mine")
	if kind := verificationKind(t, err); kind != gateway.NotSuccessful {
		t.Fatalf("kind = %s, want not_successful", kind)
	}
}

func TestVerifyWithRetryRecovers(t *testing.T) {
	srv := gatewaytest.NewServer(secret)
	defer srv.Close()
	srv.AddPayment(gatewaytest.Payment{Reference: "ref-flaky", Amount: 700, Status: "success"})
	srv.FailVerify(2)

	ev, err := newAdapter(srv.URL, time.Second).VerifyWithRetry(context.Background(), "ref-flaky", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("VerifyWithRetry: %v", err)
	}
	if ev.AmountMinorUnits != 700 || srv.VerifyCalls() != 3 {
		t.Fatalf("amount = %d after %d calls", ev.AmountMinorUnits, srv.VerifyCalls())
	}
}

func TestVerifyWithRetryStopsOnDecline(t *testing.T) {
	srv := gatewaytest.NewServer(secret)
	defer srv.Close()
	srv.AddPayment(gatewaytest.Payment{Reference: "ref-failed", Amount: 700, Status: "failed"})

	_, err := newAdapter(srv.URL, time.Second).VerifyWithRetry(context.Background(), "ref-failed", 5, time.Millisecond)
	if kind := verificationKind(t, err); kind != gateway.NotSuccessful {
		t.Fatalf("kind = %s", kind)
	}
	if srv.VerifyCalls() != 1 {
		t.Fatalf("declined verification retried %d times", srv.VerifyCalls())
	}
}

func TestInitializeThenVerifyReportsSameAmount(t *testing.T) {
	srv := gatewaytest.NewServer(secret)
	defer srv.Close()
	a := newAdapter(srv.URL, time.Second)
	ctx := context.Background()

	init, err := a.Client().InitializePayment(ctx, gateway.InitializeRequest{
		Email:            "payer@example.com",
		AmountMinorUnits: 123456,
		Currency:         "NGN",
		Reference:        "ref-round-trip",
		Metadata:         gateway.Metadata{WalletID: "w-1"}.Map(),
	})
	if err != nil {
		t.Fatalf("InitializePayment: %v", err)
	}
	if init.Reference != "ref-round-trip" || init.AuthorizationURL == "" {
		t.Fatalf("init = %+v", init)
	}
	srv.MarkPaid("ref-round-trip")

	ev, err := a.Verify(ctx, "ref-round-trip")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ev.AmountMinorUnits != 123456 || ev.Metadata.WalletID != "w-1" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestPayoutCalls(t *testing.T) {
	srv := gatewaytest.NewServer(secret)
	defer srv.Close()
	srv.AddAccount("0123456789", "058", "ADA OBI")
	c := newAdapter(srv.URL, time.Second).Client()
	ctx := context.Background()

	acct, err := c.ResolveAccountName(ctx, "0123456789", "058")
	if err != nil || acct.AccountName != "ADA OBI" {
		t.Fatalf("ResolveAccountName = %+v, %v", acct, err)
	}
	rcp, err := c.CreateTransferRecipient(ctx, acct.AccountName, "0123456789", "058", "NGN")
	if err != nil || rcp.RecipientCode == "" {
		t.Fatalf("CreateTransferRecipient = %+v, %v", rcp, err)
	}
	tr, err := c.InitiateBankTransfer(ctx, 5000, rcp.RecipientCode, "payout-1", "withdrawal")
	if err != nil || tr.Reference != "payout-1" {
		t.Fatalf("InitiateBankTransfer = %+v, %v", tr, err)
	}
	if payouts := srv.Payouts(); len(payouts) != 1 || payouts[0].Amount != 5000 {
		t.Fatalf("payouts = %+v", payouts)
	}

	if _, err := c.ResolveAccountName(ctx, "999", "058"); err == nil || gateway.IsTransient(err) {
		t.Fatalf("unknown account: err = %v", err)
	}
	srv.FailTransfers(http.StatusBadGateway)
	if _, err := c.InitiateBankTransfer(ctx, 5000, rcp.RecipientCode, "payout-2", ""); !gateway.IsTransient(err) {
		t.Fatalf("5xx payout should be transient: %v", err)
	}
}

func TestBadSecretIsRejected(t *testing.T) {
	srv := gatewaytest.NewServer(secret)
	defer srv.Close()
	c := gateway.NewClient(srv.URL, "wrong")
	var apiErr *gateway.APIError
	if _, err := c.VerifyTransaction(context.Background(), "x"); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"crowdfund_ledger/internal/domain"
	"crowdfund_ledger/internal/gateway"
	"crowdfund_ledger/internal/gateway/gatewaytest"
	"crowdfund_ledger/internal/ledger"
	"crowdfund_ledger/internal/metrics"
	"crowdfund_ledger/internal/query"
	"crowdfund_ledger/internal/settlement"
	"crowdfund_ledger/internal/store"
	"crowdfund_ledger/internal/utils"
)

const (
	jwtSecret     = "api-test-secret"
	gatewaySecret = "sk_test_api"
)

type harness struct {
	router *gin.Engine
	store  *store.MemoryStore
	engine *ledger.Engine
	srv    *gatewaytest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.New(prometheus.NewRegistry())

	srv := gatewaytest.NewServer(gatewaySecret)
	t.Cleanup(srv.Close)
	st := store.NewMemoryStore()
	engine := ledger.NewEngine(st, ledger.WithLogger(log), ledger.WithMetrics(m))
	facade := query.NewFacade(st, utils.NewMemoryCache(), time.Minute, log)
	client := gateway.NewClient(srv.URL, gatewaySecret, gateway.WithClientLogger(log))
	var seq atomic.Int64
	svc := settlement.NewService(engine, ledger.NewGuard(st, nil), gateway.NewAdapter(client, time.Second),
		settlement.WithLogger(log),
		settlement.WithMetrics(m),
		settlement.WithInvalidator(facade),
		settlement.WithVerifyRetry(1, time.Millisecond),
		settlement.WithReferenceGenerator(func(prefix string) string {
			return fmt.Sprintf("%s_%03d", prefix, seq.Add(1))
		}),
	)

	r := gin.New()
	RegisterRoutes(r, &Services{
		Engine:          engine,
		Settlement:      svc,
		Query:           facade,
		DefaultCurrency: "NGN",
		Log:             log,
	}, jwtSecret, nil)
	return &harness{router: r, store: st, engine: engine, srv: srv}
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := utils.GenerateJWT(userID, role, jwtSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

// do sends a request as userID (anonymous when empty) and decodes the JSON reply into out.
func (h *harness) do(t *testing.T, method, path, userID, role string, body any, headers map[string]string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID, role))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w.Code
}

func (h *harness) deposit(t *testing.T, ownerID string, amount int64) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := h.engine.EnsureWallet(ctx, ownerID, "NGN")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Transfer(ctx, ledger.TransferRequest{DestWalletID: w.ID, AmountMinorUnits: amount, Kind: domain.KindDeposit}); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestWalletEndpoints(t *testing.T) {
	h := newHarness(t)

	var w domain.Wallet
	if code := h.do(t, http.MethodPost, "/wallet", "alice", utils.RoleUser, map[string]string{"currency": "ngn"}, nil, &w); code != http.StatusOK {
		t.Fatalf("create wallet status = %d", code)
	}
	if w.OwnerID != "alice" || w.Currency != "NGN" {
		t.Fatalf("wallet = %+v", w)
	}
	var again domain.Wallet
	h.do(t, http.MethodPost, "/wallet", "alice", utils.RoleUser, nil, nil, &again)
	if again.ID != w.ID {
		t.Fatalf("second create returned a new wallet")
	}

	var view query.BalanceView
	if code := h.do(t, http.MethodGet, "/wallet/"+w.ID, "alice", utils.RoleUser, nil, nil, &view); code != http.StatusOK || view.Balance != "0.00" {
		t.Fatalf("owner read: %d %+v", code, view)
	}
	if code := h.do(t, http.MethodGet, "/wallet/"+w.ID, "mallory", utils.RoleUser, nil, nil, nil); code != http.StatusNotFound {
		t.Fatalf("stranger read status = %d, want 404", code)
	}
	if code := h.do(t, http.MethodGet, "/wallet/"+w.ID, "ops", utils.RoleAdmin, nil, nil, nil); code != http.StatusOK {
		t.Fatalf("admin read status = %d", code)
	}
	if code := h.do(t, http.MethodGet, "/wallet/"+w.ID, "", "", nil, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous read status = %d", code)
	}
}

func TestTransactionHistory(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.deposit(t, "alice", 100)
	}
	var page query.TransactionPage
	if code := h.do(t, http.MethodGet, "/transactions?limit=2", "alice", utils.RoleUser, nil, nil, &page); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(page.Transactions) != 2 || page.NextCursor == "" {
		t.Fatalf("first page = %+v", page)
	}
	var rest query.TransactionPage
	h.do(t, http.MethodGet, "/transactions?limit=2&cursor="+page.NextCursor, "alice", utils.RoleUser, nil, nil, &rest)
	if len(rest.Transactions) != 1 || rest.NextCursor != "" {
		t.Fatalf("second page = %+v", rest)
	}
	for _, q := range []string{"limit=abc", "limit=500", "cursor=%25%25"} {
		if code := h.do(t, http.MethodGet, "/transactions?"+q, "alice", utils.RoleUser, nil, nil, nil); code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", q, code)
		}
	}
}

func TestCampaignLifecycle(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "donor", 10000)

	var c domain.Campaign
	if code := h.do(t, http.MethodPost, "/campaigns", "owner", utils.RoleUser, map[string]any{"goal": "300.00"}, nil, &c); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if c.GoalMinorUnits != 30000 || c.Currency != "NGN" {
		t.Fatalf("campaign = %+v", c)
	}
	if code := h.do(t, http.MethodPost, "/campaigns", "owner", utils.RoleUser, map[string]any{"goal": "1.234"}, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("sub-minor goal status = %d, want 400", code)
	}

	support := "/campaigns/" + c.ID + "/support"
	key := map[string]string{IdempotencyKeyHeader: "k-1"}
	if code := h.do(t, http.MethodPost, support, "donor", utils.RoleUser, map[string]any{"amount": "25.50"}, key, nil); code != http.StatusCreated {
		t.Fatalf("support status = %d", code)
	}
	var dup map[string]any
	if code := h.do(t, http.MethodPost, support, "donor", utils.RoleUser, map[string]any{"amount": "25.50"}, key, &dup); code != http.StatusOK || dup["status"] != "already_processed" {
		t.Fatalf("replayed support: %d %v", code, dup)
	}
	if code := h.do(t, http.MethodPost, support, "donor", utils.RoleUser, map[string]any{"amount_minor": 1_000_000}, nil, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraw status = %d, want 422", code)
	}
	if code := h.do(t, http.MethodPost, support, "donor", utils.RoleUser, map[string]any{}, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("missing amount status = %d, want 400", code)
	}

	var p query.CampaignProgress
	if code := h.do(t, http.MethodGet, "/campaigns/"+c.ID+"/progress", "", "", nil, nil, &p); code != http.StatusOK {
		t.Fatalf("progress status = %d", code)
	}
	if p.CurrentMinorUnits != 2550 || p.Percent != "8.50" {
		t.Fatalf("progress = %+v", p)
	}

	closeURL := "/campaigns/" + c.ID + "/close"
	body := map[string]string{"status": string(domain.CampaignCompleted)}
	if code := h.do(t, http.MethodPost, closeURL, "donor", utils.RoleUser, body, nil, nil); code != http.StatusForbidden {
		t.Fatalf("close by stranger status = %d, want 403", code)
	}
	if code := h.do(t, http.MethodPost, closeURL, "owner", utils.RoleUser, body, nil, nil); code != http.StatusOK {
		t.Fatalf("close status = %d", code)
	}
	if code := h.do(t, http.MethodPost, support, "donor", utils.RoleUser, map[string]any{"amount_minor": 100}, nil, nil); code != http.StatusConflict {
		t.Fatalf("support of closed campaign status = %d, want 409", code)
	}
	h.do(t, http.MethodGet, "/campaigns/"+c.ID+"/progress", "", "", nil, nil, &p)
	if p.Status != domain.CampaignCompleted {
		t.Fatalf("progress served stale status %s", p.Status)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	h := newHarness(t)
	c, err := h.engine.CreateCampaign(context.Background(), "owner", "NGN", 100000)
	if err != nil {
		t.Fatal(err)
	}
	h.srv.AddPayment(gatewaytest.Payment{Reference: "ref-1", Amount: 5000, Status: "success", Metadata: map[string]any{"campaign_id": c.ID}})
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)

	post := func(sig string) (int, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
		req.Header.Set(gateway.SignatureHeader, sig)
		w := httptest.NewRecorder()
		h.router.ServeHTTP(w, req)
		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w.Code, out
	}

	if code, _ := post(gateway.Sign("sk_forged", body)); code != http.StatusUnauthorized {
		t.Fatalf("forged webhook status = %d, want 401", code)
	}
	if code, out := post(gateway.Sign(gatewaySecret, body)); code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("webhook: %d %v", code, out)
	}
	if code, out := post(gateway.Sign(gatewaySecret, body)); code != http.StatusOK || out["status"] != "already_processed" {
		t.Fatalf("redelivery: %d %v", code, out)
	}
	var p query.CampaignProgress
	h.do(t, http.MethodGet, "/campaigns/"+c.ID+"/progress", "", "", nil, nil, &p)
	if p.CurrentMinorUnits != 5000 {
		t.Fatalf("campaign funding = %d, want 5000", p.CurrentMinorUnits)
	}
}

func TestPaymentCallback(t *testing.T) {
	h := newHarness(t)
	h.srv.AddPayment(gatewaytest.Payment{Reference: "ref-cb", Amount: 700, Status: "success", Metadata: map[string]any{"user_id": "alice"}})
	h.srv.AddPayment(gatewaytest.Payment{Reference: "ref-abandoned", Amount: 700, Status: "abandoned", Metadata: map[string]any{"user_id": "alice"}})

	var out map[string]any
	if code := h.do(t, http.MethodGet, "/payments/callback?reference=ref-cb", "", "", nil, nil, &out); code != http.StatusOK || out["status"] != "completed" {
		t.Fatalf("callback: %d %v", code, out)
	}
	if code := h.do(t, http.MethodGet, "/payments/callback?trxref=ref-cb", "", "", nil, nil, &out); code != http.StatusOK || out["status"] != "already_processed" {
		t.Fatalf("repeated callback: %d %v", code, out)
	}
	// Paid, but nothing says where the money goes
	h.srv.AddPayment(gatewaytest.Payment{Reference: "ref-stray", Amount: 300, Status: "success"})
	if code := h.do(t, http.MethodGet, "/payments/callback?reference=ref-stray", "", "", nil, nil, &out); code != http.StatusOK || out["status"] != "held_for_review" {
		t.Fatalf("stray payment callback: %d %v", code, out)
	}
	if code := h.do(t, http.MethodGet, "/payments/callback?reference=ref-abandoned", "", "", nil, nil, nil); code != http.StatusPaymentRequired {
		t.Fatalf("abandoned payment status = %d, want 402", code)
	}
	if code := h.do(t, http.MethodGet, "/payments/callback", "", "", nil, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("missing reference status = %d", code)
	}
	w, err := h.store.GetWalletByOwner(context.Background(), "alice", "NGN")
	if err != nil || w.BalanceMinorUnits != 700 {
		t.Fatalf("alice wallet = %+v, %v", w, err)
	}
}

func TestWithdrawEndpoint(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "alice", 10000)
	h.srv.AddAccount("0123456789", "058", "ALICE A")

	var wd settlement.Withdrawal
	req := map[string]any{"amount": "40", "account_number": "0123456789", "bank_code": "058"}
	if code := h.do(t, http.MethodPost, "/withdrawals", "alice", utils.RoleUser, req, nil, &wd); code != http.StatusAccepted {
		t.Fatalf("withdraw status = %d", code)
	}
	if wd.AmountMinorUnits != 4000 || wd.Status != settlement.PayoutProcessing {
		t.Fatalf("withdrawal = %+v", wd)
	}
	if code := h.do(t, http.MethodPost, "/withdrawals", "alice", utils.RoleUser, map[string]any{"amount": "40"}, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("missing bank details status = %d, want 400", code)
	}

	h.srv.FailTransfers(http.StatusBadRequest)
	var rejected map[string]any
	if code := h.do(t, http.MethodPost, "/withdrawals", "alice", utils.RoleUser, req, nil, &rejected); code != http.StatusUnprocessableEntity {
		t.Fatalf("rejected payout status = %d, want 422", code)
	}
	w, _ := h.store.GetWalletByOwner(context.Background(), "alice", "NGN")
	if w.BalanceMinorUnits != 6000 {
		t.Fatalf("balance after refund = %d, want 6000", w.BalanceMinorUnits)
	}
}

func TestAdminEndpoints(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "donor", 1000)
	c, err := h.engine.CreateCampaign(context.Background(), "owner", "NGN", 5000)
	if err != nil {
		t.Fatal(err)
	}
	res, err := h.engine.Support(context.Background(), "donor", c.ID, 400, "")
	if err != nil {
		t.Fatal(err)
	}
	txURL := "/admin/transactions/" + res.Anchor().ID + "/reverse"

	if code := h.do(t, http.MethodPost, txURL, "donor", utils.RoleUser, nil, nil, nil); code != http.StatusForbidden {
		t.Fatalf("reverse by user status = %d, want 403", code)
	}
	var audit query.CampaignAudit
	h.do(t, http.MethodGet, "/admin/campaigns/"+c.ID+"/audit", "ops", utils.RoleAdmin, nil, nil, &audit)
	if !audit.Consistent || audit.CurrentMinorUnits != 400 {
		t.Fatalf("audit = %+v", audit)
	}
	var p query.CampaignProgress
	h.do(t, http.MethodGet, "/campaigns/"+c.ID+"/progress", "", "", nil, nil, &p) // primes the cache
	if p.CurrentMinorUnits != 400 {
		t.Fatalf("funding before reversal = %d", p.CurrentMinorUnits)
	}
	if code := h.do(t, http.MethodPost, txURL, "ops", utils.RoleAdmin, map[string]string{"note": "chargeback"}, nil, nil); code != http.StatusOK {
		t.Fatalf("reverse status = %d", code)
	}
	if code := h.do(t, http.MethodPost, txURL, "ops", utils.RoleAdmin, nil, nil, nil); code != http.StatusConflict {
		t.Fatalf("second reverse status = %d, want 409", code)
	}
	h.do(t, http.MethodGet, "/campaigns/"+c.ID+"/progress", "", "", nil, nil, &p)
	if p.CurrentMinorUnits != 0 {
		t.Fatalf("funding after reversal = %d", p.CurrentMinorUnits)
	}

	var queue struct {
		Count int `json:"count"`
	}
	if code := h.do(t, http.MethodGet, "/admin/reconciliation", "ops", utils.RoleAdmin, nil, nil, &queue); code != http.StatusOK || queue.Count != 0 {
		t.Fatalf("queue: %d %+v", code, queue)
	}
	if code := h.do(t, http.MethodPost, "/admin/reconciliation/missing/resolve", "ops", utils.RoleAdmin, nil, nil, nil); code != http.StatusNotFound {
		t.Fatalf("resolve missing status = %d, want 404", code)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrInvalidAmount, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", utils.ErrInvalidAmount), http.StatusBadRequest},
		{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{ledger.ErrNotOwner, http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{ledger.ErrContention, http.StatusConflict},
		{settlement.ErrGatewayUnavailable, http.StatusServiceUnavailable},
		{&gateway.VerificationError{Kind: gateway.Transient, Err: errors.New("503")}, http.StatusServiceUnavailable},
		{&gateway.VerificationError{Kind: gateway.NotSuccessful, Status: "failed"}, http.StatusPaymentRequired},
		{&ledger.PartialError{TransactionID: "tx-1", Cause: errors.New("disk")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPartialErrorCarriesTransactionID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	log := logrus.New()
	log.SetOutput(io.Discard)

	respondError(c, log, &ledger.PartialError{TransactionID: "tx-9", Cause: errors.New("disk")})
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusInternalServerError || body["transaction_id"] != "tx-9" {
		t.Fatalf("response = %d %v", w.Code, body)
	}
}

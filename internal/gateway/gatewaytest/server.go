// Package gatewaytest runs an in-process fake of the payment gateway for tests.
package gatewaytest

import (
	"encoding/json"     // Request decoding
	"net/http"          // HTTP handlers
	"net/http/httptest" // Test server
	"strconv"           // Number parsing
	"strings"           // String helpers
	"sync"              // Locking
)

// Payment is a collection known to the fake.
type Payment struct {
	Reference string
	Amount    int64
	Currency  string
	Email     string
	Status    string
	Metadata  map[string]any
}

// Payout is a bank transfer the fake received.
type Payout struct {
	Reference string
	Amount    int64
	Recipient string
	Reason    string
}

// Server answers the subset of the gateway API the ledger uses.
type Server struct {
	*httptest.Server

	Secret string

	mu          sync.Mutex
	payments    map[string]*Payment
	payouts     []Payout
	accounts    map[string]string
	failVerify  int // next n verify calls answer 503
	verifyCalls int
	transferErr int // status returned by /transfer when non-zero
	garble      bool
}

func NewServer(secret string) *Server {
	s := &Server{
		Secret:   secret,
		payments: make(map[string]*Payment),
		accounts: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transaction/initialize", s.initialize)
	mux.HandleFunc("GET /transaction/verify/{reference}", s.verify)
	mux.HandleFunc("GET /bank/resolve", s.resolve)
	mux.HandleFunc("POST /transferrecipient", s.recipient)
	mux.HandleFunc("POST /transfer", s.transfer)
	s.Server = httptest.NewServer(s.authorized(mux))
	return s
}

// AddPayment registers a collection with the given status.
func (s *Server) AddPayment(p Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Currency == "" {
		p.Currency = "NGN"
	}
	s.payments[p.Reference] = &p
}

// MarkPaid flips an initialized payment to success.
func (s *Server) MarkPaid(reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[reference]; ok {
		p.Status = "success"
	}
}

func (s *Server) AddAccount(accountNumber, bankCode, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountNumber+"/"+bankCode] = name
}

// FailVerify makes the next n verify calls answer 503.
func (s *Server) FailVerify(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failVerify = n
}

// FailTransfers makes every payout answer with status until reset with 0.
func (s *Server) FailTransfers(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferErr = status
}

// GarbleTransfers makes /transfer accept the payout but answer 200 with a
// body that is not JSON.
func (s *Server) GarbleTransfers(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.garble = on
}

func (s *Server) VerifyCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyCalls
}

func (s *Server) Payouts() []Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Payout, len(s.payouts))
	copy(out, s.payouts)
	return out
}

func (s *Server) Payment(reference string) (Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return Payment{}, false
	}
	return *p, true
}

func (s *Server) authorized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.Secret {
			reply(w, http.StatusUnauthorized, false, "Invalid key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reply(w http.ResponseWriter, code int, ok bool, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": ok, "message": msg, "data": data})
}

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string         `json:"email"`
		Amount    int64          `json:"amount"`
		Currency  string         `json:"currency"`
		Reference string         `json:"reference"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 || req.Reference == "" {
		reply(w, http.StatusBadRequest, false, "Invalid request", nil)
		return
	}
	s.mu.Lock()
	if _, dup := s.payments[req.Reference]; dup {
		s.mu.Unlock()
		reply(w, http.StatusBadRequest, false, "Duplicate Transaction Reference", nil)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "NGN"
	}
	s.payments[req.Reference] = &Payment{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  currency,
		Email:     req.Email,
		Status:    "abandoned",
		Metadata:  req.Metadata,
	}
	s.mu.Unlock()
	reply(w, http.StatusOK, true, "Authorization URL created", map[string]any{
		"authorization_url": s.URL + "/checkout/" + req.Reference,
		"access_code":       "ac_" + req.Reference,
		"reference":         req.Reference,
	})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("reference")
	s.mu.Lock()
	s.verifyCalls++
	if s.failVerify > 0 {
		s.failVerify--
		s.mu.Unlock()
		reply(w, http.StatusServiceUnavailable, false, "Service unavailable", nil)
		return
	}
	p, ok := s.payments[ref]
	var snapshot Payment
	if ok {
		snapshot = *p
	}
	s.mu.Unlock()
	if !ok {
		reply(w, http.StatusBadRequest, false, "Transaction reference not found", nil)
		return
	}
	var metadata any = ""
	if snapshot.Metadata != nil {
		metadata = snapshot.Metadata
	}
	reply(w, http.StatusOK, true, "Verification successful", map[string]any{
		"id":               1,
		"status":           snapshot.Status,
		"reference":        snapshot.Reference,
		"amount":           snapshot.Amount,
		"currency":         snapshot.Currency,
		"gateway_response": "Approved",
		"paid_at":          "2024-01-01T00:00:00.000Z",
		"metadata":         metadata,
		"customer":         map[string]any{"email": snapshot.Email},
	})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	acct := r.URL.Query().Get("account_number")
	bank := r.URL.Query().Get("bank_code")
	s.mu.Lock()
	name, ok := s.accounts[acct+"/"+bank]
	s.mu.Unlock()
	if !ok {
		reply(w, http.StatusUnprocessableEntity, false, "Could not resolve account name", nil)
		return
	}
	reply(w, http.StatusOK, true, "Account number resolved", map[string]any{
		"account_number": acct,
		"account_name":   name,
	})
}

func (s *Server) recipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string `json:"name"`
		AccountNumber string `json:"account_number"`
		BankCode      string `json:"bank_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountNumber == "" {
		reply(w, http.StatusBadRequest, false, "Invalid request", nil)
		return
	}
	reply(w, http.StatusCreated, true, "Transfer recipient created", map[string]any{
		"recipient_code": "RCP_" + strings.ToLower(req.AccountNumber),
		"name":           req.Name,
	})
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    int64  `json:"amount"`
		Recipient string `json:"recipient"`
		Reference string `json:"reference"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		reply(w, http.StatusBadRequest, false, "Invalid request", nil)
		return
	}
	s.mu.Lock()
	status, garble := s.transferErr, s.garble
	if status == 0 {
		s.payouts = append(s.payouts, Payout{Reference: req.Reference, Amount: req.Amount, Recipient: req.Recipient, Reason: req.Reason})
	}
	s.mu.Unlock()
	if status != 0 {
		reply(w, status, false, "Transfer failed: "+strconv.Itoa(status), nil)
		return
	}
	if garble {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>upstream hiccup</html>"))
		return
	}
	reply(w, http.StatusOK, true, "Transfer has been queued", map[string]any{
		"transfer_code": "TRF_" + req.Reference,
		"reference":     req.Reference,
		"status":        "pending",
		"amount":        req.Amount,
		"currency":      "NGN",
	})
}

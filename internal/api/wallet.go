package api

import (
	"net/http" // HTTP status codes
	"strconv"  // Query parsing

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/query"      // Read models
	"crowdfund_ledger/internal/settlement" // Payouts
)

// CreateWalletRequest selects the wallet currency; empty uses the default
type CreateWalletRequest struct {
	Currency string `json:"currency"`
}

// CreateWalletHandler returns the caller's wallet for a currency, creating it on first use
func CreateWalletHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateWalletRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
		}
		w, err := svc.Engine.EnsureWallet(c.Request.Context(), callerID(c), currencyOr(req.Currency, svc.DefaultCurrency))
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		svc.Log.WithFields(logrus.Fields{"user_id": callerID(c), "wallet_id": w.ID, "currency": w.Currency}).Info("Wallet ready")
		c.JSON(http.StatusOK, w)
	}
}

// GetWalletHandler returns a wallet balance to its owner or an admin
func GetWalletHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.Query.GetBalance(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		// Other users' wallets look absent rather than forbidden
		if view.OwnerID != callerID(c) && !isAdmin(c) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// GetTransactionHistoryHandler pages the caller's transactions newest first
func GetTransactionHistoryHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0 // Facade default
		if l := c.Query("limit"); l != "" {
			v, err := strconv.Atoi(l)
			if err != nil {
				respondError(c, svc.Log, query.ErrInvalidLimit)
				return
			}
			limit = v
		}
		page, err := svc.Query.ListTransactions(c.Request.Context(), callerID(c), limit, c.Query("cursor"))
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// WithdrawRequest asks for a bank payout from the caller's wallet
type WithdrawRequest struct {
	AmountInput
	Currency      string `json:"currency"`
	AccountNumber string `json:"account_number" binding:"required"`
	BankCode      string `json:"bank_code" binding:"required"`
	Reason        string `json:"reason"`
}

// WithdrawHandler debits the wallet and starts a bank transfer
func WithdrawHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WithdrawRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		currency := currencyOr(req.Currency, svc.DefaultCurrency)
		amount, err := req.minorUnits(currency)
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		out, err := svc.Settlement.RequestWithdrawal(c.Request.Context(), settlement.WithdrawalRequest{
			UserID:           callerID(c),
			AmountMinorUnits: amount,
			Currency:         currency,
			Bank:             settlement.BankDetails{AccountNumber: req.AccountNumber, BankCode: req.BankCode},
			Reason:           req.Reason,
		})
		entry := svc.Log.WithFields(logrus.Fields{"user_id": callerID(c), "amount": amount, "currency": currency})
		if err != nil {
			entry.WithField("error", err.Error()).Warn("Withdrawal not paid out")
			if out != nil && out.Status == settlement.PayoutFailed {
				// Rejected payouts were refunded; report the refund with the error
				code, msg := statusOf(err)
				c.JSON(code, gin.H{"error": msg, "withdrawal": out})
				return
			}
			respondError(c, svc.Log, err)
			return
		}
		code := http.StatusAccepted
		if out.Status == settlement.PayoutCompleted {
			code = http.StatusOK
		}
		entry.WithFields(logrus.Fields{"reference": out.Reference, "status": out.Status}).Info("Withdrawal accepted")
		c.JSON(code, out)
	}
}

package api

import (
	"errors"   // Error classification
	"io"       // Raw webhook body
	"net/http" // HTTP status codes
	"net/url"  // Redirect query

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/gateway"    // Signature header
	"crowdfund_ledger/internal/ledger"     // Ledger errors
	"crowdfund_ledger/internal/settlement" // Gateway settlement
)

// maxWebhookBody bounds webhook payloads read into memory
const maxWebhookBody = 1 << 20

type InitializePaymentRequest struct {
	AmountInput
	Email      string `json:"email" binding:"required,email"`
	Currency   string `json:"currency"`
	CampaignID string `json:"campaign_id"`
	WalletID   string `json:"wallet_id"`
}

// InitializePaymentHandler opens a gateway checkout for a contribution or top-up
func InitializePaymentHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InitializePaymentRequest
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
		intent, err := svc.Settlement.InitializePayment(c.Request.Context(), settlement.PaymentRequest{
			UserID:           callerID(c),
			Email:            req.Email,
			CampaignID:       req.CampaignID,
			WalletID:         req.WalletID,
			AmountMinorUnits: amount,
			Currency:         currency,
		})
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		svc.Log.WithFields(logrus.Fields{
			"user_id":     callerID(c),
			"reference":   intent.Reference,
			"campaign_id": req.CampaignID,
			"amount":      amount,
		}).Info("Payment initialized")
		c.JSON(http.StatusOK, intent)
	}
}

// PaymentCallbackHandler settles the payment the gateway redirected the payer back with
func PaymentCallbackHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reference := c.Query("reference")
		if reference == "" {
			reference = c.Query("trxref") // Older gateway redirects
		}
		if reference == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing reference"})
			return
		}
		out, err := svc.Settlement.Settle(c.Request.Context(), reference)
		status := "completed"
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			status, err = "already_processed", nil
		}
		if err == nil && out.Status == settlement.OutcomeHeld {
			status = settlement.OutcomeHeld // Paid, but the destination refused it
		}
		entry := svc.Log.WithFields(logrus.Fields{"reference": reference, "status": status})
		if err != nil {
			entry.WithField("error", err.Error()).Warn("Payment callback not settled")
			if svc.RedirectURL != "" {
				redirect(c, svc.RedirectURL, reference, "failed")
				return
			}
			respondError(c, svc.Log, err)
			return
		}
		entry.Info("Payment callback handled")
		if svc.RedirectURL != "" {
			redirect(c, svc.RedirectURL, reference, status)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "payment": out})
	}
}

func redirect(c *gin.Context, base, reference, status string) {
	u, err := url.Parse(base)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Bad redirect URL"})
		return
	}
	q := u.Query()
	q.Set("reference", reference)
	q.Set("status", status)
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

// WebhookHandler authenticates and applies a gateway event
func WebhookHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
			return
		}
		err = svc.Settlement.HandleWebhook(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		case errors.Is(err, ledger.ErrAlreadyProcessed):
			respondAlreadyProcessed(c, nil)
		case errors.Is(err, settlement.ErrUnknownReference):
			// Not ours; acknowledge so the gateway stops redelivering
			svc.Log.WithField("error", err.Error()).Warn("Webhook for unknown reference")
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		default:
			respondError(c, svc.Log, err)
		}
	}
}

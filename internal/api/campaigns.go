package api

import (
	"encoding/json" // Decimal amounts
	"errors"        // Error classification
	"net/http"      // HTTP status codes

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/domain" // Campaign states
	"crowdfund_ledger/internal/ledger" // Ledger errors
)

// IdempotencyKeyHeader lets clients retry a support request safely
const IdempotencyKeyHeader = "Idempotency-Key"

type CreateCampaignRequest struct {
	Currency  string      `json:"currency"`
	GoalMinor int64       `json:"goal_minor"`
	Goal      json.Number `json:"goal"`
}

// CreateCampaignHandler opens a campaign owned by the caller
func CreateCampaignHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateCampaignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		currency := currencyOr(req.Currency, svc.DefaultCurrency)
		goal, err := AmountInput{AmountMinor: req.GoalMinor, Amount: req.Goal}.minorUnits(currency)
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		campaign, err := svc.Engine.CreateCampaign(c.Request.Context(), callerID(c), currency, goal)
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		svc.Log.WithFields(logrus.Fields{"user_id": callerID(c), "campaign_id": campaign.ID, "goal": goal}).Info("Campaign created")
		c.JSON(http.StatusCreated, campaign)
	}
}

// CampaignProgressHandler reports funding progress of a campaign
func CampaignProgressHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Query.GetCampaignProgress(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

type CloseCampaignRequest struct {
	Status domain.CampaignStatus `json:"status" binding:"required"` // completed or cancelled
}

// CloseCampaignHandler stops a campaign from accepting funds
func CloseCampaignHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CloseCampaignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		ctx := c.Request.Context()
		campaign, err := svc.Engine.CloseCampaign(ctx, c.Param("id"), callerID(c), req.Status)
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		svc.Query.Invalidate(ctx, nil, campaign.ID)
		svc.Log.WithFields(logrus.Fields{"user_id": callerID(c), "campaign_id": campaign.ID, "status": campaign.Status}).Info("Campaign closed")
		c.JSON(http.StatusOK, campaign)
	}
}

// SupportCampaignHandler pays a contribution from the caller's wallet
func SupportCampaignHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AmountInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		ctx := c.Request.Context()
		campaignID := c.Param("id")
		// Decimal amounts are read in the campaign's currency
		p, err := svc.Query.GetCampaignProgress(ctx, campaignID)
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		amount, err := req.minorUnits(p.Currency)
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		key := c.GetHeader(IdempotencyKeyHeader)
		res, err := svc.Engine.Support(ctx, callerID(c), campaignID, amount, key)
		entry := svc.Log.WithFields(logrus.Fields{"user_id": callerID(c), "campaign_id": campaignID, "amount": amount})
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			entry.WithField("idempotency_key", key).Info("Support already processed")
			respondAlreadyProcessed(c, gin.H{"idempotency_key": key})
			return
		}
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		walletIDs := make([]string, 0, len(res.Transactions))
		for _, tx := range res.Transactions {
			walletIDs = append(walletIDs, tx.WalletID)
		}
		svc.Query.Invalidate(ctx, walletIDs, campaignID)
		entry.WithField("transaction_id", res.Anchor().ID).Info("Campaign supported")
		c.JSON(http.StatusCreated, gin.H{"transaction": res.Anchor()})
	}
}

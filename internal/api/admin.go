package api

import (
	"errors"   // Error classification
	"net/http" // HTTP status codes
	"strconv"  // Query parsing

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/domain" // Transaction states
	"crowdfund_ledger/internal/ledger" // Ledger errors
	"crowdfund_ledger/internal/query"  // Read models
)

// ReconciliationQueueHandler lists transactions flagged for operator review
func ReconciliationQueueHandler(svc *Services) gin.HandlerFunc {
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
		txs, err := svc.Query.ReconciliationQueue(c.Request.Context(), limit)
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
	}
}

type ResolveRequest struct {
	Status domain.TransactionStatus `json:"status"` // completed or failed, empty keeps the current one
	Note   string                   `json:"note"`
}

// ResolveReconciliationHandler clears the reconciliation marker after review
func ResolveReconciliationHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolveRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
		}
		tx, err := svc.Engine.ResolveReconciliation(c.Request.Context(), c.Param("id"), req.Status, req.Note)
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		svc.Log.WithFields(logrus.Fields{"transaction_id": tx.ID, "admin": callerID(c), "status": tx.Status}).Info("Reconciliation resolved")
		c.JSON(http.StatusOK, tx)
	}
}

type ReverseRequest struct {
	Note string `json:"note"`
}

// ReverseTransactionHandler moves a completed transfer's money back
func ReverseTransactionHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReverseRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
		}
		ctx := c.Request.Context()
		res, err := svc.Engine.Reverse(ctx, c.Param("id"), req.Note)
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			respondAlreadyProcessed(c, nil)
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
		// Reversal records carry no campaign; the original names the one it funded
		campaignID := ""
		if orig, err := svc.Engine.Store().GetTransaction(ctx, c.Param("id")); err == nil {
			campaignID = domain.Deref(orig.CampaignID)
		}
		svc.Query.Invalidate(ctx, walletIDs, campaignID)
		svc.Log.WithFields(logrus.Fields{"transaction_id": c.Param("id"), "reversal_id": res.Anchor().ID, "admin": callerID(c)}).Info("Transaction reversed")
		c.JSON(http.StatusOK, gin.H{"reversal": res.Anchor()})
	}
}

// AuditCampaignHandler compares stored funding with completed transactions
func AuditCampaignHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		audit, err := svc.Query.AuditCampaign(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, svc.Log, err)
			return
		}
		c.JSON(http.StatusOK, audit)
	}
}

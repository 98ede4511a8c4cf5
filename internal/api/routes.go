package api

import (
	"net/http" // HTTP status codes

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/ledger"     // Ledger engine
	"crowdfund_ledger/internal/middleware" // Auth middleware
	"crowdfund_ledger/internal/query"      // Read models
	"crowdfund_ledger/internal/settlement" // Gateway settlement
)

// Services bundles what the handlers depend on
type Services struct {
	Engine          *ledger.Engine
	Settlement      *settlement.Service
	Query           *query.Facade
	DefaultCurrency string
	Log             logrus.FieldLogger
	RedirectURL     string // Where payers land after the gateway callback, empty answers JSON
}

// RegisterRoutes mounts every endpoint on r; metricsHandler may be nil
func RegisterRoutes(r *gin.Engine, svc *Services, jwtSecret string, metricsHandler http.Handler) {
	if svc.Log == nil {
		svc.Log = logrus.StandardLogger()
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Gateway-facing routes authenticate by reference verification or signature
	r.GET("/payments/callback", PaymentCallbackHandler(svc))
	r.POST("/payments/webhook", WebhookHandler(svc))
	r.GET("/campaigns/:id/progress", CampaignProgressHandler(svc))

	auth := r.Group("")
	auth.Use(middleware.JWTAuthMiddleware(jwtSecret))
	auth.POST("/wallet", CreateWalletHandler(svc))                   // Create or fetch wallet
	auth.GET("/wallet/:id", GetWalletHandler(svc))                   // Balance
	auth.GET("/transactions", GetTransactionHistoryHandler(svc))     // Caller history
	auth.POST("/campaigns", CreateCampaignHandler(svc))              // New campaign
	auth.POST("/campaigns/:id/close", CloseCampaignHandler(svc))     // Complete or cancel
	auth.POST("/campaigns/:id/support", SupportCampaignHandler(svc)) // Wallet-funded contribution
	auth.POST("/payments/initialize", InitializePaymentHandler(svc)) // Gateway checkout
	auth.POST("/withdrawals", WithdrawHandler(svc))                  // Bank payout

	admin := r.Group("/admin")
	admin.Use(middleware.JWTAuthMiddleware(jwtSecret), middleware.AdminOnlyMiddleware())
	admin.GET("/reconciliation", ReconciliationQueueHandler(svc))                // Records needing review
	admin.POST("/reconciliation/:id/resolve", ResolveReconciliationHandler(svc)) // Clear the marker
	admin.POST("/transactions/:id/reverse", ReverseTransactionHandler(svc))      // Refund or chargeback
	admin.GET("/campaigns/:id/audit", AuditCampaignHandler(svc))                 // Funding vs completed sum
}

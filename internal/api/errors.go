package api

import (
	"errors"   // Error classification
	"net/http" // HTTP status codes

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging

	"crowdfund_ledger/internal/gateway"    // Gateway error kinds
	"crowdfund_ledger/internal/ledger"     // Ledger errors
	"crowdfund_ledger/internal/query"      // Query errors
	"crowdfund_ledger/internal/settlement" // Settlement errors
	"crowdfund_ledger/internal/store"      // Store errors
	"crowdfund_ledger/internal/utils"      // Amount parsing errors
)

// statusOf maps a service error to the HTTP status and message returned to clients
func statusOf(err error) (int, string) {
	var pe *ledger.PartialError
	var ve *gateway.VerificationError
	switch {
	case errors.As(err, &pe):
		return http.StatusInternalServerError, "Could not confirm the transfer, contact support"
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, utils.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, ledger.ErrCurrencyMismatch),
		errors.Is(err, ledger.ErrSameWallet),
		errors.Is(err, ledger.ErrInvalidStatus),
		errors.Is(err, query.ErrInvalidLimit),
		errors.Is(err, store.ErrInvalidCursor),
		errors.Is(err, settlement.ErrNoDestination):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, ledger.ErrCampaignNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, settlement.ErrUnknownReference):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, ledger.ErrNotOwner):
		return http.StatusForbidden, "Not the owner"
	case errors.Is(err, ledger.ErrCampaignInactive):
		return http.StatusConflict, "Campaign is not accepting funds"
	case errors.Is(err, ledger.ErrNotReversible):
		return http.StatusConflict, "Transaction cannot be reversed"
	case errors.Is(err, ledger.ErrContention):
		return http.StatusConflict, "Too many concurrent updates, retry"
	case errors.Is(err, settlement.ErrBadSignature):
		return http.StatusUnauthorized, "Invalid signature"
	case errors.Is(err, settlement.ErrGatewayUnavailable), gateway.IsTransient(err):
		return http.StatusServiceUnavailable, "Payment gateway unavailable, try again"
	case errors.As(err, &ve) && ve.Kind == gateway.NotSuccessful:
		return http.StatusPaymentRequired, "Payment was not successful"
	case errors.Is(err, settlement.ErrPayoutRejected):
		return http.StatusUnprocessableEntity, err.Error()
	}
	return http.StatusInternalServerError, "Internal error"
}

// respondError writes err as a JSON error body; server-side failures are logged
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	code, msg := statusOf(err)
	body := gin.H{"error": msg}
	var pe *ledger.PartialError
	if errors.As(err, &pe) {
		body["transaction_id"] = pe.TransactionID // Reference for support
	}
	if code >= http.StatusInternalServerError {
		log.WithFields(logrus.Fields{"path": c.FullPath(), "error": err.Error()}).Error("Request failed")
	}
	c.JSON(code, body)
}

// respondAlreadyProcessed acknowledges a replayed request without repeating it
func respondAlreadyProcessed(c *gin.Context, extra gin.H) {
	body := gin.H{"status": "already_processed"}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

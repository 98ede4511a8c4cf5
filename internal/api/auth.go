package api

import (
	"encoding/json" // Decimal amounts
	"fmt"           // Error wrapping
	"strings"       // Currency normalisation

	"github.com/gin-gonic/gin" // Gin web framework

	"crowdfund_ledger/internal/middleware" // Context keys
	"crowdfund_ledger/internal/utils"      // Roles and amount parsing
)

var errNoAmount = fmt.Errorf("%w: amount or amount_minor is required", utils.ErrInvalidAmount)

// callerID returns the authenticated user id set by JWTAuthMiddleware
func callerID(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}

// isAdmin reports whether the caller's token carries the admin role
func isAdmin(c *gin.Context) bool {
	return c.GetString(middleware.RoleKey) == utils.RoleAdmin
}

// AmountInput accepts either exact minor units or a major-unit decimal
type AmountInput struct {
	AmountMinor int64       `json:"amount_minor"` // e.g. 150050
	Amount      json.Number `json:"amount"`       // e.g. "1500.50"
}

// minorUnits resolves the input in currency's minor units; amount_minor wins when both are set
func (a AmountInput) minorUnits(currency string) (int64, error) {
	if a.AmountMinor != 0 {
		if a.AmountMinor < 0 {
			return 0, utils.ErrInvalidAmount
		}
		return a.AmountMinor, nil
	}
	if a.Amount == "" {
		return 0, errNoAmount
	}
	return utils.ParseAmount(a.Amount.String(), currency)
}

// currencyOr normalises an optional currency code
func currencyOr(currency, fallback string) string {
	if currency == "" {
		return fallback
	}
	return strings.ToUpper(currency)
}

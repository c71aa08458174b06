package api

import (
	"fmt"
	"net/http"

	"github.com/coinfolio/server/internal/auth"
	"github.com/coinfolio/server/internal/currency"
	"github.com/coinfolio/server/internal/ledger"

	"github.com/pkg/errors"
)

// errorMapping pairs a sentinel error with its HTTP response.
type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{auth.ErrInvalidEmail, http.StatusBadRequest, "INVALID_EMAIL"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "WEAK_PASSWORD"},
	{auth.ErrEmailTaken, http.StatusConflict, "EMAIL_TAKEN"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{ledger.ErrInvalidPrice, http.StatusBadRequest, "INVALID_PRICE"},
	{ledger.ErrInsufficientFunds, http.StatusBadRequest, "INSUFFICIENT_FUNDS"},
	{ledger.ErrInsufficientAsset, http.StatusBadRequest, "INSUFFICIENT_ASSET"},
	{ledger.ErrInsufficientCardFunds, http.StatusBadRequest, "INSUFFICIENT_CARD_FUNDS"},
	{ledger.ErrInsufficientWalletFunds, http.StatusBadRequest, "INSUFFICIENT_WALLET_FUNDS"},
	{ledger.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{ledger.ErrWalletNotFound, http.StatusNotFound, "WALLET_NOT_FOUND"},
	{ledger.ErrCardNotFound, http.StatusNotFound, "CARD_NOT_FOUND"},
	{ledger.ErrConflict, http.StatusServiceUnavailable, "TRY_AGAIN"},
	{currency.ErrUpstreamUnavailable, http.StatusBadGateway, "MARKET_DATA_UNAVAILABLE"},
	{currency.ErrInsufficientData, http.StatusUnprocessableEntity, "INSUFFICIENT_DATA"},
}

// writeError maps a service error to a stable JSON error code so
// clients can branch on kind rather than message text.
func writeError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			http.Error(w, fmt.Sprintf(`{"error": %q}`, m.code), m.status)
			return
		}
	}
	http.Error(w, `{"error": "INTERNAL"}`, http.StatusInternalServerError)
}

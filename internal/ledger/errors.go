package ledger

import "github.com/pkg/errors"

// Sentinel errors for business-rule rejections. Callers branch on
// these with errors.Is; the HTTP layer maps them to status codes.
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrCardNotFound            = errors.New("bank card not found")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInvalidPrice            = errors.New("price must be positive")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientAsset       = errors.New("insufficient asset balance")
	ErrInsufficientCardFunds   = errors.New("insufficient card funds")
	ErrInsufficientWalletFunds = errors.New("insufficient wallet funds")
	ErrConflict                = errors.New("conflicting concurrent update")
)

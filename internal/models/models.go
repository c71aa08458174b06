package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered user. PasswordHash is nil for
// federated identities that never set a password.
type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// BankCard is the simulated funding source, one per user. The card
// metadata is generated once at provisioning and is purely cosmetic.
type BankCard struct {
	ID         int             `json:"id"`
	UserID     int             `json:"user_id"`
	CardNumber string          `json:"card_number"`
	CVV        string          `json:"cvv"`
	Expiry     string          `json:"expiry"`
	Balance    decimal.Decimal `json:"balance"`
}

// Wallet is the per-user ledger root holding the fiat balance.
type Wallet struct {
	ID         int             `json:"id"`
	UserID     int             `json:"user_id"`
	WalletUID  string          `json:"wallet_uid"`
	BalanceUSD decimal.Decimal `json:"balance_usd"`
}

// Asset is a per-wallet crypto balance, unique by (wallet, currency).
type Asset struct {
	ID       int             `json:"id"`
	WalletID int             `json:"wallet_id"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// TxKind is the type of a ledger transaction.
type TxKind string

const (
	TxDeposit    TxKind = "DEPOSIT"
	TxWithdrawal TxKind = "WITHDRAWAL"
	TxBuy        TxKind = "BUY"
	TxSell       TxKind = "SELL"
)

// Transaction is an immutable ledger log entry. Rows are never
// updated or deleted; the log is the sole audit trail.
type Transaction struct {
	ID        int             `json:"id"`
	WalletID  int             `json:"wallet_id"`
	Kind      TxKind          `json:"type"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	TotalUSD  decimal.Decimal `json:"total_usd"`
	CreatedAt time.Time       `json:"created_at"`
}

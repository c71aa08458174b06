// Package ledger owns all mutations of wallet, bank card, asset and
// transaction state. Every operation runs in a single database
// transaction with the wallet row locked first, so operations against
// the same wallet serialize and balances can never go negative.
//
// The unit price for Buy and Sell is supplied by the caller, captured
// from the quote the client confirmed. The engine does not re-verify
// it against the live market; this is a known trust boundary.
package ledger

import (
	"context"
	"time"

	"github.com/coinfolio/server/internal/db"
	"github.com/coinfolio/server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxRetries bounds transparent retries of serialization conflicts.
const maxRetries = 3

// opTimeout bounds each ledger transaction so a stalled database
// connection never holds a request worker.
const opTimeout = 5 * time.Second

var one = decimal.NewFromInt(1)

// Engine is the transactional ledger engine.
type Engine struct {
	db              *db.DB
	log             *zap.Logger
	cardSeedBalance decimal.Decimal
}

// NewEngine creates a ledger engine. cardSeedBalance is the opening
// balance given to newly provisioned bank cards.
func NewEngine(database *db.DB, logger *zap.Logger, cardSeedBalance decimal.Decimal) *Engine {
	return &Engine{db: database, log: logger, cardSeedBalance: cardSeedBalance}
}

// TopUp moves amount from the user's bank card into their wallet.
func (e *Engine) TopUp(ctx context.Context, userID int, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var txn *models.Transaction
	err := e.withRetry(ctx, func(tx pgx.Tx) error {
		wallet, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		card, err := lockCard(ctx, tx, userID)
		if err != nil {
			return err
		}
		if card.Balance.LessThan(amount) {
			return ErrInsufficientCardFunds
		}

		if _, err := tx.Exec(ctx,
			"UPDATE bank_cards SET balance = balance - $1 WHERE id = $2", amount, card.ID); err != nil {
			return errors.Wrap(err, "failed to debit card")
		}
		if _, err := tx.Exec(ctx,
			"UPDATE wallets SET balance_usd = balance_usd + $1 WHERE id = $2", amount, wallet.ID); err != nil {
			return errors.Wrap(err, "failed to credit wallet")
		}

		txn, err = appendTransaction(ctx, tx, wallet.ID, models.TxDeposit, "USD", amount, one, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Withdraw moves amount from the user's wallet back onto their card.
func (e *Engine) Withdraw(ctx context.Context, userID int, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var txn *models.Transaction
	err := e.withRetry(ctx, func(tx pgx.Tx) error {
		wallet, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		if wallet.BalanceUSD.LessThan(amount) {
			return ErrInsufficientWalletFunds
		}
		card, err := lockCard(ctx, tx, userID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			"UPDATE wallets SET balance_usd = balance_usd - $1 WHERE id = $2", amount, wallet.ID); err != nil {
			return errors.Wrap(err, "failed to debit wallet")
		}
		if _, err := tx.Exec(ctx,
			"UPDATE bank_cards SET balance = balance + $1 WHERE id = $2", amount, card.ID); err != nil {
			return errors.Wrap(err, "failed to credit card")
		}

		txn, err = appendTransaction(ctx, tx, wallet.ID, models.TxWithdrawal, "USD", amount, one, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Buy exchanges wallet USD for amount units of currency at the
// caller-supplied unit price.
func (e *Engine) Buy(ctx context.Context, userID int, currency string, amount, price decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	totalCost := amount.Mul(price)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var txn *models.Transaction
	err := e.withRetry(ctx, func(tx pgx.Tx) error {
		wallet, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		if wallet.BalanceUSD.LessThan(totalCost) {
			return ErrInsufficientFunds
		}

		if _, err := tx.Exec(ctx,
			"UPDATE wallets SET balance_usd = balance_usd - $1 WHERE id = $2", totalCost, wallet.ID); err != nil {
			return errors.Wrap(err, "failed to debit wallet")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO assets (wallet_id, currency, balance) VALUES ($1, $2, $3)
			 ON CONFLICT (wallet_id, currency) DO UPDATE SET balance = assets.balance + EXCLUDED.balance`,
			wallet.ID, currency, amount); err != nil {
			return errors.Wrap(err, "failed to credit asset")
		}

		txn, err = appendTransaction(ctx, tx, wallet.ID, models.TxBuy, currency, amount, price, totalCost)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Sell exchanges amount units of currency for wallet USD at the
// caller-supplied unit price. A missing asset row is treated the same
// as a zero balance.
func (e *Engine) Sell(ctx context.Context, userID int, currency string, amount, price decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	totalProceeds := amount.Mul(price)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var txn *models.Transaction
	err := e.withRetry(ctx, func(tx pgx.Tx) error {
		wallet, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}

		var assetID int
		var balance decimal.Decimal
		err = tx.QueryRow(ctx,
			"SELECT id, balance FROM assets WHERE wallet_id = $1 AND currency = $2 FOR UPDATE",
			wallet.ID, currency).Scan(&assetID, &balance)
		if err == pgx.ErrNoRows {
			return ErrInsufficientAsset
		}
		if err != nil {
			return errors.Wrap(err, "failed to lock asset")
		}
		if balance.LessThan(amount) {
			return ErrInsufficientAsset
		}

		if _, err := tx.Exec(ctx,
			"UPDATE assets SET balance = balance - $1 WHERE id = $2", amount, assetID); err != nil {
			return errors.Wrap(err, "failed to debit asset")
		}
		if _, err := tx.Exec(ctx,
			"UPDATE wallets SET balance_usd = balance_usd + $1 WHERE id = $2", totalProceeds, wallet.ID); err != nil {
			return errors.Wrap(err, "failed to credit wallet")
		}

		txn, err = appendTransaction(ctx, tx, wallet.ID, models.TxSell, currency, amount, price, totalProceeds)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// WalletOf returns the user's wallet.
func (e *Engine) WalletOf(ctx context.Context, userID int) (*models.Wallet, error) {
	wallet := &models.Wallet{}
	err := e.db.Pool.QueryRow(ctx,
		"SELECT id, user_id, wallet_uid, balance_usd FROM wallets WHERE user_id = $1",
		userID).Scan(&wallet.ID, &wallet.UserID, &wallet.WalletUID, &wallet.BalanceUSD)
	if err == pgx.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get wallet")
	}
	return wallet, nil
}

// CardOf returns the user's bank card.
func (e *Engine) CardOf(ctx context.Context, userID int) (*models.BankCard, error) {
	card := &models.BankCard{}
	err := e.db.Pool.QueryRow(ctx,
		"SELECT id, user_id, card_number, cvv, expiry, balance FROM bank_cards WHERE user_id = $1",
		userID).Scan(&card.ID, &card.UserID, &card.CardNumber, &card.CVV, &card.Expiry, &card.Balance)
	if err == pgx.ErrNoRows {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get card")
	}
	return card, nil
}

// AssetsOf returns all asset rows of the user's wallet, including
// rows a full sell has driven to zero.
func (e *Engine) AssetsOf(ctx context.Context, userID int) ([]models.Asset, error) {
	wallet, err := e.WalletOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.Pool.Query(ctx,
		"SELECT id, wallet_id, currency, balance FROM assets WHERE wallet_id = $1", wallet.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get assets")
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.WalletID, &a.Currency, &a.Balance); err != nil {
			return nil, errors.Wrap(err, "failed to scan asset")
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// TransactionsOf returns the user's transaction log, newest first.
func (e *Engine) TransactionsOf(ctx context.Context, userID int) ([]models.Transaction, error) {
	wallet, err := e.WalletOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.Pool.Query(ctx,
		`SELECT id, wallet_id, kind, currency, amount, price, total_usd, created_at
		 FROM transactions WHERE wallet_id = $1 ORDER BY created_at DESC, id DESC`, wallet.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transactions")
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Kind, &t.Currency, &t.Amount, &t.Price, &t.TotalUSD, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan transaction")
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// withRetry runs fn inside a transaction, retrying a bounded number
// of times when the database reports a serialization conflict.
func (e *Engine) withRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = e.inTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
		e.log.Warn("ledger operation hit serialization conflict, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return errors.Wrap(ErrConflict, err.Error())
}

func (e *Engine) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := e.db.Pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// isSerializationFailure reports SQLSTATE 40001 (serialization
// failure) and 40P01 (deadlock detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// lockWallet locks the user's wallet row for the duration of the
// surrounding transaction. All operations take this lock first, which
// both serializes per-wallet operations and fixes the lock order.
func lockWallet(ctx context.Context, tx pgx.Tx, userID int) (*models.Wallet, error) {
	wallet := &models.Wallet{}
	err := tx.QueryRow(ctx,
		"SELECT id, user_id, wallet_uid, balance_usd FROM wallets WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&wallet.ID, &wallet.UserID, &wallet.WalletUID, &wallet.BalanceUSD)
	if err == pgx.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock wallet")
	}
	return wallet, nil
}

func lockCard(ctx context.Context, tx pgx.Tx, userID int) (*models.BankCard, error) {
	card := &models.BankCard{}
	err := tx.QueryRow(ctx,
		"SELECT id, user_id, card_number, cvv, expiry, balance FROM bank_cards WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&card.ID, &card.UserID, &card.CardNumber, &card.CVV, &card.Expiry, &card.Balance)
	if err == pgx.ErrNoRows {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock card")
	}
	return card, nil
}

func appendTransaction(ctx context.Context, tx pgx.Tx, walletID int, kind models.TxKind, currency string, amount, price, total decimal.Decimal) (*models.Transaction, error) {
	txn := &models.Transaction{}
	err := tx.QueryRow(ctx,
		`INSERT INTO transactions (wallet_id, kind, currency, amount, price, total_usd)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, wallet_id, kind, currency, amount, price, total_usd, created_at`,
		walletID, kind, currency, amount, price, total).Scan(
		&txn.ID, &txn.WalletID, &txn.Kind, &txn.Currency, &txn.Amount, &txn.Price, &txn.TotalUSD, &txn.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to append transaction")
	}
	return txn, nil
}

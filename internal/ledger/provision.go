package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Provision ensures the user has a wallet and a bank card, creating
// whichever is missing. It is idempotent: called at registration and
// again at login, which heals accounts created before cards and
// wallets existed. New cards open with the configured seed balance.
func (e *Engine) Provision(ctx context.Context, userID int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	exists, err := e.db.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}

	return e.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"INSERT INTO wallets (user_id, wallet_uid, balance_usd) VALUES ($1, $2, 0) ON CONFLICT (user_id) DO NOTHING",
			userID, newWalletUID())
		if err != nil {
			return errors.Wrap(err, "failed to create wallet")
		}
		created := tag.RowsAffected() > 0

		tag, err = tx.Exec(ctx,
			`INSERT INTO bank_cards (user_id, card_number, cvv, expiry, balance) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID, fakeCardNumber(), fakeCVV(), fakeExpiry(), e.cardSeedBalance)
		if err != nil {
			return errors.Wrap(err, "failed to create bank card")
		}

		if created || tag.RowsAffected() > 0 {
			e.log.Info("provisioned account", zap.Int("user_id", userID))
		}
		return nil
	})
}

func newWalletUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(buf)
}

// fakeCardNumber generates cosmetic card metadata for the simulated
// funding source. Not a real PAN.
func fakeCardNumber() string {
	return fmt.Sprintf("4276 %04d %04d %04d", randN(10000), randN(10000), randN(10000))
}

func fakeCVV() string {
	return fmt.Sprintf("%03d", 100+randN(900))
}

func fakeExpiry() string {
	year := time.Now().Year()%100 + 2 + int(randN(5))
	return fmt.Sprintf("%02d/%02d", 1+randN(12), year)
}

func randN(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		panic(err)
	}
	return v.Int64()
}

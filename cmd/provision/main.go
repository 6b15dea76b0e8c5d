// Command provision creates a card account row with an opening balance.
//
//	provision -number 4111111111111111 -currency USD -cvv 123 -expiry 12/29 -balance 100.00
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardledger/internal/cards"
	"github.com/congo-pay/cardledger/internal/config"
	"github.com/congo-pay/cardledger/internal/infra"
	"github.com/congo-pay/cardledger/internal/ledger"
	"github.com/congo-pay/cardledger/internal/logging"
	"github.com/congo-pay/cardledger/internal/notification"
)

func main() {
	var (
		number   = flag.String("number", "", "16 digit card number")
		currency = flag.String("currency", "", "3 letter currency code")
		cvv      = flag.String("cvv", "", "3 digit CVV")
		expiry   = flag.String("expiry", "", "expiry as MM/YY")
		balance  = flag.String("balance", "0", "opening balance")
	)
	flag.Parse()

	if err := run(*number, *currency, *cvv, *expiry, *balance); err != nil {
		fmt.Fprintf(os.Stderr, "provision: %v\n", err)
		os.Exit(1)
	}
}

func run(number, currency, cvv, expiry, rawBalance string) error {
	if err := cards.ValidateProvision(number, currency, cvv, expiry); err != nil {
		return err
	}
	opening, err := decimal.NewFromString(rawBalance)
	if err != nil {
		return fmt.Errorf("parse balance %q: %w", rawBalance, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.AppName+"-provision", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName+"-provision")
	if err != nil {
		return err
	}
	defer db.Close()

	card, err := ledger.NewCard(number, currency, cvv, expiry, opening)
	if err != nil {
		return err
	}
	if err := ledger.NewPostgresStore(db, cfg.LockTimeout).Provision(ctx, card); err != nil {
		return err
	}

	logger.Info("card provisioned",
		"card", notification.MaskCard(card.Number),
		"currency", card.Currency,
		"balance", card.Balance.StringFixed(2),
	)
	return nil
}

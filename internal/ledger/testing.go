package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// SeedCard is a test helper that provisions a card on any Provisioner. The CVV
// is hashed at the minimum bcrypt cost to keep tests fast.
func SeedCard(t testing.TB, p Provisioner, number, currency, cvv, expiry, balance string) Card {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(cvv), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash cvv: %v", err)
	}
	card := Card{
		Number:   number,
		Currency: currency,
		CVVHash:  hash,
		Expiry:   expiry,
		Balance:  decimal.RequireFromString(balance),
	}
	if err := p.Provision(context.Background(), card); err != nil {
		t.Fatalf("provision %s: %v", card.Key(), err)
	}
	return card
}

package ledger

import (
	"crypto/subtle"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// NewCard builds a card row with the CVV stored as a bcrypt hash.
func NewCard(number, currency, cvv, expiry string, balance decimal.Decimal) (Card, error) {
	if balance.IsNegative() {
		return Card{}, fmt.Errorf("opening balance must not be negative")
	}
	if !balance.Equal(balance.Truncate(AmountScale)) {
		return Card{}, fmt.Errorf("opening balance %s has more than %d decimal places", balance, AmountScale)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cvv), bcrypt.DefaultCost)
	if err != nil {
		return Card{}, fmt.Errorf("hash cvv: %w", err)
	}
	return Card{
		Number:   number,
		Currency: currency,
		CVVHash:  hash,
		Expiry:   expiry,
		Balance:  balance,
	}, nil
}

// checkCredentials is swapped in tests to observe when verification runs.
var checkCredentials = Card.matches

// matches runs a bcrypt compare. Stores call it before taking the row lock;
// CVV hash and expiry never change after provisioning.
func (c Card) matches(creds Credentials) bool {
	if subtle.ConstantTimeCompare([]byte(c.Expiry), []byte(creds.Expiry)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.CVVHash, []byte(creds.CVV)) == nil
}

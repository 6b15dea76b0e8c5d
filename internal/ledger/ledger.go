package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound indicates no ledger row exists for the card and currency.
	ErrAccountNotFound = errors.New("card account not found")

	// ErrCredentialMismatch indicates the CVV or expiry presented for a debit does
	// not match the stored card. Retrying will not help.
	ErrCredentialMismatch = errors.New("card credentials do not match")

	// ErrWriteConflict indicates the mutation lost a race for the account row
	// (lock timeout, serialization failure, deadlock). The operation may be retried.
	ErrWriteConflict = errors.New("card account write conflict")

	// ErrStoreUnavailable indicates the ledger store could not be reached.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrInvalidAmount rejects zero or negative postings and amounts finer than
	// AmountScale.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAccountExists is returned when provisioning a card that already has a row.
	ErrAccountExists = errors.New("card account already exists")

	// ErrOutcomeUnknown means the store lost contact after the commit was sent.
	// The mutation may or may not be applied, so it must never be retried blindly.
	ErrOutcomeUnknown = errors.New("card account mutation outcome unknown")
)

// AmountScale is the number of fractional digits a balance column holds.
const AmountScale = 2

// ValidAmount reports whether amount is positive and representable at
// AmountScale without rounding.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(AmountScale))
}

// IsRetryable reports whether err is a transient store failure worth retrying.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrOutcomeUnknown) {
		return false
	}
	return errors.Is(err, ErrWriteConflict) || errors.Is(err, ErrStoreUnavailable)
}

// AccountKey identifies a card account row.
type AccountKey struct {
	Number   string
	Currency string
}

func (k AccountKey) String() string {
	return k.Number + ":" + k.Currency
}

// Credentials are checked against the stored card inside a debit.
type Credentials struct {
	CVV    string
	Expiry string
}

// Card is a provisioned card account row.
type Card struct {
	Number   string
	Currency string
	CVVHash  []byte
	Expiry   string
	Balance  decimal.Decimal
}

// Key returns the account key of the card.
func (c Card) Key() AccountKey {
	return AccountKey{Number: c.Number, Currency: c.Currency}
}

// DebitStatus is the business outcome of a debit that reached the account row.
type DebitStatus string

const (
	// DebitApplied means the balance was decremented and committed.
	DebitApplied DebitStatus = "applied"
	// DebitDeclined means funds were insufficient; nothing was written.
	DebitDeclined DebitStatus = "declined"
)

// DebitResult captures the outcome of a debit posting.
type DebitResult struct {
	Status  DebitStatus
	Balance decimal.Decimal
}

// Store is the transactional contract the balance engine consumes. Debit and
// Credit execute their read-check-write as one atomic unit per account row.
type Store interface {
	Balance(ctx context.Context, key AccountKey) (decimal.Decimal, error)
	Debit(ctx context.Context, key AccountKey, creds Credentials, amount decimal.Decimal) (DebitResult, error)
	Credit(ctx context.Context, key AccountKey, amount decimal.Decimal) (decimal.Decimal, error)
}

// Provisioner creates card account rows out of band of the balance engine.
type Provisioner interface {
	Provision(ctx context.Context, card Card) error
}

package cards

import "github.com/shopspring/decimal"

// CheckInput captures a balance sufficiency query.
type CheckInput struct {
	CardNumber string
	Currency   string
	Amount     decimal.Decimal
}

// WithdrawInput captures a card debit together with the credentials that
// authorize it.
type WithdrawInput struct {
	CardNumber string
	Currency   string
	Amount     decimal.Decimal
	CVV        string
	Expiry     string
}

// PayInput captures an incoming payment credited to a card. Sender is
// recorded but no source account is debited.
type PayInput struct {
	Sender     string
	CardNumber string
	Currency   string
	Amount     decimal.Decimal
}

// Outcome is the result of a check or withdrawal. Balance is the post-operation
// balance of an approved withdrawal and is zero otherwise.
type Outcome struct {
	CardNumber string
	Currency   string
	Amount     decimal.Decimal
	Approved   bool
	Balance    decimal.Decimal
}

// PaymentOutcome is the result of an incoming payment.
type PaymentOutcome struct {
	Sender     string
	CardNumber string
	Currency   string
	Amount     decimal.Decimal
	Success    bool
	Balance    decimal.Decimal
}

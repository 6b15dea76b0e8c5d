package cards

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardledger/internal/ledger"
)

// ErrValidation marks malformed gateway input. It never reaches the engine.
var ErrValidation = errors.New("validation failed")

var (
	cardNumberRegex = regexp.MustCompile(`^\d{16}$`)
	cvvRegex        = regexp.MustCompile(`^\d{3}$`)
	expiryRegex     = regexp.MustCompile(`^\d{2}/\d{2}$`)
	currencyRegex   = regexp.MustCompile(`^[A-Z]{3}$`)
)

// FieldError describes a single rejected request field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every field problem of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type validator struct {
	fields []FieldError
}

func (v *validator) check(ok bool, field, message string) {
	if !ok {
		v.fields = append(v.fields, FieldError{Field: field, Message: message})
	}
}

func (v *validator) cardNumber(field, value string) {
	v.check(cardNumberRegex.MatchString(value), field, "must be exactly 16 digits")
}

func (v *validator) currency(value string) {
	v.check(currencyRegex.MatchString(value), "currency", "must be a 3-letter upper-case code")
}

func (v *validator) credentials(cvv, expiry string) {
	v.check(cvvRegex.MatchString(cvv), "cvv_code", "must be exactly 3 digits")
	v.check(expiryRegex.MatchString(expiry), "expiry", "must match MM/YY")
}

func (v *validator) amount(field string, value decimal.Decimal) {
	v.check(value.IsPositive(), field, "must be greater than 0")
	v.check(value.Equal(value.Truncate(ledger.AmountScale)), field, fmt.Sprintf("must have at most %d decimal places", ledger.AmountScale))
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

func (r cardRequest) validate() error {
	var v validator
	v.cardNumber("number", r.Number)
	v.credentials(r.CVVCode, r.Expiry)
	v.amount("requested_amount", r.RequestedAmount)
	v.currency(r.Currency)
	return v.err()
}

func (r incomingRequest) validate() error {
	var v validator
	v.cardNumber("sender", r.Sender)
	v.cardNumber("number", r.Number)
	v.amount("incoming_amount", r.IncomingAmount)
	v.currency(r.Currency)
	return v.err()
}

// ValidateProvision applies the gateway field rules to a card about to be
// provisioned, so every stored row is reachable through the API.
func ValidateProvision(number, currency, cvv, expiry string) error {
	var v validator
	v.cardNumber("number", number)
	v.credentials(cvv, expiry)
	v.currency(currency)
	return v.err()
}

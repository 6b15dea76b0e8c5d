package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardledger/internal/ledger"
	"github.com/congo-pay/cardledger/internal/notification"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultRetryBase = 20 * time.Millisecond
)

// Options bounds how long and how often a card operation may run.
type Options struct {
	Timeout    time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
}

// Service is the balance transaction engine. Every mutation is delegated to a
// single atomic store call; the service adds retries, deadlines, logging and
// notifications around it.
type Service struct {
	store    ledger.Store
	notifier notification.Notifier
	logger   *slog.Logger
	opts     Options
}

// NewService builds the engine. A nil notifier disables notifications.
func NewService(store ledger.Store, notifier notification.Notifier, logger *slog.Logger, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	return &Service{store: store, notifier: notifier, logger: logger, opts: opts}
}

// Check reports whether the card balance covers the amount. The answer is a
// point-in-time snapshot; no funds are reserved.
func (s *Service) Check(ctx context.Context, input CheckInput) (Outcome, error) {
	if !ledger.ValidAmount(input.Amount) {
		return Outcome{}, ledger.ErrInvalidAmount
	}
	key := ledger.AccountKey{Number: input.CardNumber, Currency: input.Currency}

	var approved bool
	err := s.run(ctx, "check", func(ctx context.Context) error {
		balance, err := s.store.Balance(ctx, key)
		if err != nil {
			return err
		}
		approved = balance.GreaterThanOrEqual(input.Amount)
		return nil
	})
	if err != nil {
		s.logFailure("balance check failed", key, err)
		return Outcome{}, err
	}

	return Outcome{
		CardNumber: input.CardNumber,
		Currency:   input.Currency,
		Amount:     input.Amount,
		Approved:   approved,
	}, nil
}

// Withdraw debits the card when funds suffice and the credentials match.
// Insufficient funds yield a declined outcome, not an error.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (Outcome, error) {
	if !ledger.ValidAmount(input.Amount) {
		return Outcome{}, ledger.ErrInvalidAmount
	}
	key := ledger.AccountKey{Number: input.CardNumber, Currency: input.Currency}
	creds := ledger.Credentials{CVV: input.CVV, Expiry: input.Expiry}

	var res ledger.DebitResult
	err := s.run(ctx, "withdraw", func(ctx context.Context) error {
		var err error
		res, err = s.store.Debit(ctx, key, creds, input.Amount)
		return err
	})
	if err != nil {
		s.logFailure("withdrawal failed", key, err)
		return Outcome{}, err
	}

	outcome := Outcome{
		CardNumber: input.CardNumber,
		Currency:   input.Currency,
		Amount:     input.Amount,
		Approved:   res.Status == ledger.DebitApplied,
	}
	if !outcome.Approved {
		s.logger.Info("withdrawal declined", "card", notification.MaskCard(key.Number), "currency", key.Currency)
		return outcome, nil
	}

	outcome.Balance = res.Balance
	s.logger.Info("withdrawal approved", "card", notification.MaskCard(key.Number), "currency", key.Currency)
	s.notify(ctx, notification.Message{
		Kind:       notification.KindWithdrawal,
		CardNumber: input.CardNumber,
		Currency:   input.Currency,
		Amount:     input.Amount.String(),
		Balance:    res.Balance.String(),
		OccurredAt: time.Now().UTC(),
	})
	return outcome, nil
}

// Pay credits an incoming amount to the destination card.
func (s *Service) Pay(ctx context.Context, input PayInput) (PaymentOutcome, error) {
	if !ledger.ValidAmount(input.Amount) {
		return PaymentOutcome{}, ledger.ErrInvalidAmount
	}
	key := ledger.AccountKey{Number: input.CardNumber, Currency: input.Currency}

	var balance decimal.Decimal
	err := s.run(ctx, "pay", func(ctx context.Context) error {
		var err error
		balance, err = s.store.Credit(ctx, key, input.Amount)
		return err
	})
	if err != nil {
		s.logFailure("incoming payment failed", key, err)
		return PaymentOutcome{}, err
	}

	s.logger.Info("incoming payment credited",
		"card", notification.MaskCard(key.Number),
		"sender", notification.MaskCard(input.Sender),
		"currency", key.Currency,
	)
	s.notify(ctx, notification.Message{
		Kind:       notification.KindIncomingPayment,
		CardNumber: input.CardNumber,
		Currency:   input.Currency,
		Amount:     input.Amount.String(),
		Balance:    balance.String(),
		Sender:     input.Sender,
		OccurredAt: time.Now().UTC(),
	})

	return PaymentOutcome{
		Sender:     input.Sender,
		CardNumber: input.CardNumber,
		Currency:   input.Currency,
		Amount:     input.Amount,
		Success:    true,
		Balance:    balance,
	}, nil
}

// run executes fn under the operation deadline, retrying transient store
// errors with exponential backoff.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(s.opts.MaxRetries, retry.NewExponential(s.opts.RetryBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && ledger.IsRetryable(err) {
			s.logger.Warn("card operation attempt failed", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && !ledger.IsRetryable(err) && !errors.Is(err, ledger.ErrOutcomeUnknown) && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ledger.ErrStoreUnavailable, err)
	}
	return err
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("balance notification failed", "kind", msg.Kind, "error", err)
	}
}

func (s *Service) logFailure(msg string, key ledger.AccountKey, err error) {
	attrs := []any{
		slog.String("card", notification.MaskCard(key.Number)),
		slog.String("currency", key.Currency),
		slog.Any("error", err),
	}
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrCredentialMismatch):
		s.logger.Warn(msg, attrs...)
	default:
		s.logger.Error(msg, attrs...)
	}
}

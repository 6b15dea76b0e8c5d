package cards

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/cardledger/internal/ledger"
	"github.com/congo-pay/cardledger/internal/logging"
	"github.com/congo-pay/cardledger/internal/notification"
)

const (
	cardNumber = "4111111111111111"
	senderCard = "5500000000000004"
	cvv        = "123"
	expiry     = "12/29"
)

type testNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
	err      error
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *testNotifier) sent() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Message(nil), n.messages...)
}

// flakyStore fails the first failures mutations with err before delegating.
type flakyStore struct {
	ledger.Store
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (s *flakyStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return s.err
	}
	return nil
}

func (s *flakyStore) Debit(ctx context.Context, key ledger.AccountKey, creds ledger.Credentials, amount decimal.Decimal) (ledger.DebitResult, error) {
	if err := s.fail(); err != nil {
		return ledger.DebitResult{}, err
	}
	return s.Store.Debit(ctx, key, creds, amount)
}

func (s *flakyStore) Credit(ctx context.Context, key ledger.AccountKey, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.fail(); err != nil {
		return decimal.Zero, err
	}
	return s.Store.Credit(ctx, key, amount)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, balance string) (*Service, *ledger.MemoryStore, *testNotifier) {
	t.Helper()
	store := ledger.NewInMemory()
	ledger.SeedCard(t, store, cardNumber, "USD", cvv, expiry, balance)
	notifier := &testNotifier{}
	svc := NewService(store, notifier, logging.Discard(), Options{MaxRetries: 3, RetryBase: time.Millisecond})
	return svc, store, notifier
}

func balanceOf(t *testing.T, store ledger.Store) decimal.Decimal {
	t.Helper()
	balance, err := store.Balance(context.Background(), ledger.AccountKey{Number: cardNumber, Currency: "USD"})
	require.NoError(t, err)
	return balance
}

func withdrawInput(amount string) WithdrawInput {
	return WithdrawInput{CardNumber: cardNumber, Currency: "USD", Amount: dec(amount), CVV: cvv, Expiry: expiry}
}

func TestCheckApprovesIffBalanceCovers(t *testing.T) {
	tests := []struct {
		balance  string
		amount   string
		approved bool
	}{
		{"100.00", "99.99", true},
		{"100.00", "100.00", true},
		{"100.00", "100.01", false},
		{"0", "0.01", false},
		{"0.30", "0.3", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s>=%s", tt.balance, tt.amount), func(t *testing.T) {
			svc, store, notifier := newTestService(t, tt.balance)

			out, err := svc.Check(context.Background(), CheckInput{CardNumber: cardNumber, Currency: "USD", Amount: dec(tt.amount)})
			require.NoError(t, err)
			assert.Equal(t, tt.approved, out.Approved)
			assert.Equal(t, cardNumber, out.CardNumber)
			assert.True(t, out.Amount.Equal(dec(tt.amount)))

			assert.True(t, balanceOf(t, store).Equal(dec(tt.balance)), "check must not mutate")
			assert.Empty(t, notifier.sent())
		})
	}
}

func TestCheckUnknownAccountIsNotADecline(t *testing.T) {
	svc, _, _ := newTestService(t, "100")

	_, err := svc.Check(context.Background(), CheckInput{CardNumber: cardNumber, Currency: "EUR", Amount: dec("1")})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestWithdrawThenDecline(t *testing.T) {
	svc, store, notifier := newTestService(t, "100.00")
	ctx := context.Background()

	out, err := svc.Withdraw(ctx, withdrawInput("60.00"))
	require.NoError(t, err)
	assert.True(t, out.Approved)
	assert.True(t, out.Balance.Equal(dec("40.00")))
	assert.True(t, balanceOf(t, store).Equal(dec("40.00")))

	out, err = svc.Withdraw(ctx, withdrawInput("60.00"))
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.True(t, balanceOf(t, store).Equal(dec("40.00")))

	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.KindWithdrawal, sent[0].Kind)
	assert.Equal(t, "40", sent[0].Balance)
}

func TestWithdrawIsDecimalExact(t *testing.T) {
	svc, store, _ := newTestService(t, "0.30")

	for i := 0; i < 3; i++ {
		out, err := svc.Withdraw(context.Background(), withdrawInput("0.10"))
		require.NoError(t, err)
		require.True(t, out.Approved)
	}
	assert.True(t, balanceOf(t, store).IsZero(), "balance %s", balanceOf(t, store))
}

func TestWithdrawCredentialMismatch(t *testing.T) {
	svc, store, notifier := newTestService(t, "100.00")

	input := withdrawInput("10")
	input.CVV = "999"
	_, err := svc.Withdraw(context.Background(), input)
	require.ErrorIs(t, err, ledger.ErrCredentialMismatch)
	assert.True(t, balanceOf(t, store).Equal(dec("100")))
	assert.Empty(t, notifier.sent())
}

func TestWithdrawRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := newTestService(t, "100.00")

	_, err := svc.Withdraw(context.Background(), withdrawInput("0"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestConcurrentWithdrawalsExactlyOneApproved(t *testing.T) {
	svc, store, _ := newTestService(t, "100.00")

	var (
		g        errgroup.Group
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			out, err := svc.Withdraw(context.Background(), withdrawInput("60.00"))
			if err != nil {
				return err
			}
			if out.Approved {
				mu.Lock()
				approved++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, approved)
	assert.True(t, balanceOf(t, store).Equal(dec("40.00")))
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	svc, store, _ := newTestService(t, "250.00")

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := svc.Withdraw(context.Background(), withdrawInput("7.00"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	// 35 withdrawals of 7.00 fit into 250.00.
	assert.True(t, balanceOf(t, store).Equal(dec("5.00")), "balance %s", balanceOf(t, store))
}

func TestPayCreditsExactAmount(t *testing.T) {
	svc, store, notifier := newTestService(t, "40.00")

	out, err := svc.Pay(context.Background(), PayInput{Sender: senderCard, CardNumber: cardNumber, Currency: "USD", Amount: dec("12.34")})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, senderCard, out.Sender)
	assert.True(t, balanceOf(t, store).Equal(dec("52.34")))

	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.KindIncomingPayment, sent[0].Kind)
	assert.Equal(t, senderCard, sent[0].Sender)
}

func TestPayUnknownAccount(t *testing.T) {
	svc, _, notifier := newTestService(t, "40.00")

	out, err := svc.Pay(context.Background(), PayInput{Sender: senderCard, CardNumber: senderCard, Currency: "USD", Amount: dec("1")})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.False(t, out.Success)
	assert.Empty(t, notifier.sent())
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	svc, store, notifier := newTestService(t, "10")
	notifier.err = fmt.Errorf("bus down")

	_, err := svc.Pay(context.Background(), PayInput{Sender: senderCard, CardNumber: cardNumber, Currency: "USD", Amount: dec("5")})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store).Equal(dec("15")))
}

func TestRetriesWriteConflicts(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedCard(t, store, cardNumber, "USD", cvv, expiry, "100")
	flaky := &flakyStore{Store: store, failures: 2, err: fmt.Errorf("lock: %w", ledger.ErrWriteConflict)}
	svc := NewService(flaky, nil, logging.Discard(), Options{MaxRetries: 3, RetryBase: time.Millisecond})

	out, err := svc.Withdraw(context.Background(), withdrawInput("30"))
	require.NoError(t, err)
	assert.True(t, out.Approved)
	assert.Equal(t, 3, flaky.calls)
	assert.True(t, balanceOf(t, store).Equal(dec("70")))
}

func TestRetriesAreBounded(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedCard(t, store, cardNumber, "USD", cvv, expiry, "100")
	flaky := &flakyStore{Store: store, failures: 10, err: fmt.Errorf("dial: %w", ledger.ErrStoreUnavailable)}
	svc := NewService(flaky, nil, logging.Discard(), Options{MaxRetries: 2, RetryBase: time.Millisecond})

	_, err := svc.Pay(context.Background(), PayInput{Sender: senderCard, CardNumber: cardNumber, Currency: "USD", Amount: dec("1")})
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, 3, flaky.calls)
	assert.True(t, balanceOf(t, store).Equal(dec("100")))
}

func TestNonRetryableErrorsReturnImmediately(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedCard(t, store, cardNumber, "USD", cvv, expiry, "100")
	flaky := &flakyStore{Store: store, failures: 1, err: fmt.Errorf("%w", ledger.ErrCredentialMismatch)}
	svc := NewService(flaky, nil, logging.Discard(), Options{MaxRetries: 5, RetryBase: time.Millisecond})

	_, err := svc.Withdraw(context.Background(), withdrawInput("1"))
	require.ErrorIs(t, err, ledger.ErrCredentialMismatch)
	assert.Equal(t, 1, flaky.calls)
}

// lostAckStore applies each mutation and then reports that the commit
// acknowledgement never arrived.
type lostAckStore struct {
	ledger.Store
	mu    sync.Mutex
	calls int
}

func (s *lostAckStore) Debit(ctx context.Context, key ledger.AccountKey, creds ledger.Credentials, amount decimal.Decimal) (ledger.DebitResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if _, err := s.Store.Debit(ctx, key, creds, amount); err != nil {
		return ledger.DebitResult{}, err
	}
	return ledger.DebitResult{}, fmt.Errorf("%s: commit: %w: %w", key, ledger.ErrOutcomeUnknown, context.DeadlineExceeded)
}

func (s *lostAckStore) Credit(ctx context.Context, key ledger.AccountKey, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if _, err := s.Store.Credit(ctx, key, amount); err != nil {
		return decimal.Zero, err
	}
	return decimal.Zero, fmt.Errorf("%s: commit: %w", key, ledger.ErrOutcomeUnknown)
}

func TestUnknownCommitOutcomeIsNeverRetried(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedCard(t, store, cardNumber, "USD", cvv, expiry, "100.00")
	lost := &lostAckStore{Store: store}
	notifier := &testNotifier{}
	svc := NewService(lost, notifier, logging.Discard(), Options{MaxRetries: 5, RetryBase: time.Millisecond})

	_, err := svc.Withdraw(context.Background(), withdrawInput("30"))
	require.ErrorIs(t, err, ledger.ErrOutcomeUnknown)
	assert.False(t, ledger.IsRetryable(err))
	assert.Equal(t, 1, lost.calls)
	assert.True(t, balanceOf(t, store).Equal(dec("70")), "balance %s", balanceOf(t, store))

	_, err = svc.Pay(context.Background(), PayInput{Sender: senderCard, CardNumber: cardNumber, Currency: "USD", Amount: dec("5")})
	require.ErrorIs(t, err, ledger.ErrOutcomeUnknown)
	assert.Equal(t, 2, lost.calls)
	assert.True(t, balanceOf(t, store).Equal(dec("75")), "balance %s", balanceOf(t, store))
	assert.Empty(t, notifier.sent())
}

func TestRejectsSubCentAmounts(t *testing.T) {
	svc, store, _ := newTestService(t, "100.00")
	ctx := context.Background()

	_, err := svc.Check(ctx, CheckInput{CardNumber: cardNumber, Currency: "USD", Amount: dec("0.001")})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = svc.Withdraw(ctx, withdrawInput("0.001"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = svc.Pay(ctx, PayInput{Sender: senderCard, CardNumber: cardNumber, Currency: "USD", Amount: dec("0.004")})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	assert.True(t, balanceOf(t, store).Equal(dec("100")), "balance %s", balanceOf(t, store))
}

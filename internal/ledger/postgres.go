package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore keeps card balances in the PostgreSQL cards table:
//
//	CREATE TABLE cards (
//	    card_number CHAR(16)       NOT NULL,
//	    currency    CHAR(3)        NOT NULL,
//	    cvv_hash    BYTEA          NOT NULL,
//	    expiry      CHAR(5)        NOT NULL,
//	    balance     NUMERIC(20, 2) NOT NULL CHECK (balance >= 0),
//	    PRIMARY KEY (card_number, currency)
//	);
//
// Mutations lock the account row with SELECT ... FOR UPDATE for the lifetime
// of a single transaction.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed store. A positive lockTimeout
// bounds how long a mutation waits for a row held by another transaction.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// Balance reads the current balance without locking the row.
func (s *PostgresStore) Balance(ctx context.Context, key AccountKey) (decimal.Decimal, error) {
	const query = `SELECT balance::text FROM cards WHERE card_number = $1 AND currency = $2`
	var raw string
	if err := s.db.QueryRow(ctx, query, key.Number, key.Currency).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
		}
		return decimal.Zero, classify(err)
	}
	return decimal.NewFromString(raw)
}

// Debit decrements the balance when funds suffice and the credentials match.
// The bcrypt compare runs on an unlocked read so the row lock only covers the
// balance check and write.
func (s *PostgresStore) Debit(ctx context.Context, key AccountKey, creds Credentials, amount decimal.Decimal) (DebitResult, error) {
	if !ValidAmount(amount) {
		return DebitResult{}, ErrInvalidAmount
	}

	stored, err := s.credentials(ctx, key)
	if err != nil {
		return DebitResult{}, err
	}
	matched := checkCredentials(stored, creds)

	tx, err := s.begin(ctx)
	if err != nil {
		return DebitResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockBalance(ctx, tx, key)
	if err != nil {
		return DebitResult{}, err
	}
	if current.LessThan(amount) {
		return DebitResult{Status: DebitDeclined, Balance: current}, nil
	}
	if !matched {
		return DebitResult{}, fmt.Errorf("%s: %w", key, ErrCredentialMismatch)
	}

	balance := current.Sub(amount)
	if err := writeBalance(ctx, tx, key, balance); err != nil {
		return DebitResult{}, err
	}
	if err := commitError(key, tx.Commit(ctx)); err != nil {
		return DebitResult{}, err
	}
	return DebitResult{Status: DebitApplied, Balance: balance}, nil
}

// Credit increments the balance unconditionally.
func (s *PostgresStore) Credit(ctx context.Context, key AccountKey, amount decimal.Decimal) (decimal.Decimal, error) {
	if !ValidAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockBalance(ctx, tx, key)
	if err != nil {
		return decimal.Zero, err
	}

	balance := current.Add(amount)
	if err := writeBalance(ctx, tx, key, balance); err != nil {
		return decimal.Zero, err
	}
	if err := commitError(key, tx.Commit(ctx)); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Provision inserts a new card row.
func (s *PostgresStore) Provision(ctx context.Context, card Card) error {
	_, err := s.db.Exec(ctx, `INSERT INTO cards (card_number, currency, cvv_hash, expiry, balance)
        VALUES ($1, $2, $3, $4, $5::numeric)`, card.Number, card.Currency, card.CVVHash, card.Expiry, card.Balance.String())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", card.Key(), ErrAccountExists)
		}
		return classify(err)
	}
	return nil
}

func (s *PostgresStore) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, classify(err)
	}
	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			tx.Rollback(ctx) // nolint:errcheck
			return nil, classify(err)
		}
	}
	return tx, nil
}

func (s *PostgresStore) credentials(ctx context.Context, key AccountKey) (Card, error) {
	const query = `SELECT cvv_hash, expiry FROM cards WHERE card_number = $1 AND currency = $2`
	card := Card{Number: key.Number, Currency: key.Currency}
	if err := s.db.QueryRow(ctx, query, key.Number, key.Currency).Scan(&card.CVVHash, &card.Expiry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Card{}, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
		}
		return Card{}, classify(err)
	}
	return card, nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, key AccountKey) (decimal.Decimal, error) {
	const query = `SELECT balance::text FROM cards WHERE card_number = $1 AND currency = $2 FOR UPDATE`
	var raw string
	if err := tx.QueryRow(ctx, query, key.Number, key.Currency).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
		}
		return decimal.Zero, classify(err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance for %s: %w", key, err)
	}
	return balance, nil
}

func writeBalance(ctx context.Context, tx pgx.Tx, key AccountKey, balance decimal.Decimal) error {
	cmd, err := tx.Exec(ctx, `UPDATE cards SET balance = $1::numeric WHERE card_number = $2 AND currency = $3`,
		balance.String(), key.Number, key.Currency)
	if err != nil {
		return classify(err)
	}
	if cmd.RowsAffected() != 1 {
		return fmt.Errorf("%s: update touched %d rows: %w", key, cmd.RowsAffected(), ErrWriteConflict)
	}
	return nil
}

// commitError classifies a failed COMMIT. A server error means the transaction
// was rolled back; anything else leaves the outcome unknown.
func commitError(key AccountKey, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classify(err)
	}
	return fmt.Errorf("%s: commit: %w: %w", key, ErrOutcomeUnknown, err)
}

// classify maps driver failures onto the ledger error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.LockNotAvailable,
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected,
			pgErr.Code == pgerrcode.QueryCanceled:
			return fmt.Errorf("%w: %w", ErrWriteConflict, err)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps card accounts in process memory. One mutex serializes all
// mutations, so it only offers per-account isolation within a single process.
type MemoryStore struct {
	mu    sync.RWMutex
	cards map[AccountKey]Card
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and single-process development runs.
func NewInMemory() *MemoryStore {
	return &MemoryStore{cards: make(map[AccountKey]Card)}
}

// Provision adds a card row.
func (s *MemoryStore) Provision(_ context.Context, card Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cards[card.Key()]; exists {
		return fmt.Errorf("%s: %w", card.Key(), ErrAccountExists)
	}
	s.cards[card.Key()] = card
	return nil
}

// Balance returns the stored balance.
func (s *MemoryStore) Balance(_ context.Context, key AccountKey) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
	}
	return card.Balance, nil
}

// Debit decrements the balance under the store lock. Credentials are verified
// against a snapshot before the lock is taken.
func (s *MemoryStore) Debit(_ context.Context, key AccountKey, creds Credentials, amount decimal.Decimal) (DebitResult, error) {
	if !ValidAmount(amount) {
		return DebitResult{}, ErrInvalidAmount
	}

	s.mu.RLock()
	snapshot, ok := s.cards[key]
	s.mu.RUnlock()
	if !ok {
		return DebitResult{}, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
	}
	matched := checkCredentials(snapshot, creds)

	s.mu.Lock()
	defer s.mu.Unlock()

	card := s.cards[key]
	if card.Balance.LessThan(amount) {
		return DebitResult{Status: DebitDeclined, Balance: card.Balance}, nil
	}
	if !matched {
		return DebitResult{}, fmt.Errorf("%s: %w", key, ErrCredentialMismatch)
	}

	card.Balance = card.Balance.Sub(amount)
	s.cards[key] = card
	return DebitResult{Status: DebitApplied, Balance: card.Balance}, nil
}

// Credit increments the balance under the store lock.
func (s *MemoryStore) Credit(_ context.Context, key AccountKey, amount decimal.Decimal) (decimal.Decimal, error) {
	if !ValidAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
	}
	card.Balance = card.Balance.Add(amount)
	s.cards[key] = card
	return card.Balance, nil
}

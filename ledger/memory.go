package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps accounts in process memory. Useful for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		now:      time.Now,
	}
}

// Seed sets a balance directly, creating the account if needed.
func (s *MemoryStore) Seed(userID string, balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	acct, ok := s.accounts[userID]
	if !ok {
		acct = Account{UserID: userID, CreatedAt: now}
	}
	acct.TokenCount = balance
	acct.UpdatedAt = now
	s.accounts[userID] = acct
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	return acct.TokenCount, ok, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, userID string, initialBalance int) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[userID]; ok {
		return acct, nil
	}
	now := s.now()
	acct := Account{UserID: userID, TokenCount: initialBalance, CreatedAt: now, UpdatedAt: now}
	s.accounts[userID] = acct
	return acct, nil
}

func (s *MemoryStore) SetBalance(_ context.Context, userID string, expected, next int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok || acct.TokenCount != expected || next < 0 {
		return false, nil
	}
	acct.TokenCount = next
	acct.UpdatedAt = s.now()
	s.accounts[userID] = acct
	return true, nil
}

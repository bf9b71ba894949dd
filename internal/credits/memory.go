package credits

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. A single mutex serializes every call,
// which makes each decision atomic.
type MemoryStore struct {
	mu       sync.Mutex
	policy   Policy
	accounts map[string]*Account
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(policy Policy) *MemoryStore {
	return &MemoryStore{
		policy:   policy,
		accounts: make(map[string]*Account),
	}
}

// Put replaces an account. Intended for seeding tests.
func (s *MemoryStore) Put(acc Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := acc
	s.accounts[acc.UserID] = &cp
}

// Len returns the number of stored accounts.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(_ context.Context, userID string, now time.Time) (Decision, error) {
	if userID == "" {
		return Decision{}, ErrInvalidUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, d := s.load(userID, now)
	d.Allowed = true
	d.Account = *acc
	return d, nil
}

// Authorize implements Store.
func (s *MemoryStore) Authorize(_ context.Context, userID string, isRegeneration bool, now time.Time) (Decision, error) {
	if userID == "" {
		return Decision{}, ErrInvalidUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, d := s.load(userID, now)

	switch {
	case acc.IsPro, isRegeneration:
		d.Allowed = true
	case acc.Credits.Remaining <= 0:
		d.Account = *acc
		return d, ErrQuotaExceeded
	default:
		acc.Credits = Limited(acc.Credits.Remaining - 1)
		acc.Version++
		acc.UpdatedAt = now
		d.Allowed = true
		d.Billed = true
	}

	d.Account = *acc
	return d, nil
}

// UpgradeToPro implements Store.
func (s *MemoryStore) UpgradeToPro(_ context.Context, userID string, now time.Time) (Account, error) {
	if userID == "" {
		return Account{}, ErrInvalidUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		fresh := s.policy.newAccount(userID, now)
		acc = &fresh
		s.accounts[userID] = acc
	} else {
		acc.Version++
	}
	acc.IsPro = true
	acc.Credits = UnlimitedBalance()
	acc.UpdatedAt = now
	return *acc, nil
}

// load returns the stored account after self-heal and refill. Caller holds mu.
func (s *MemoryStore) load(userID string, now time.Time) (*Account, Decision) {
	var d Decision

	acc, ok := s.accounts[userID]
	if !ok {
		fresh := s.policy.newAccount(userID, now)
		acc = &fresh
		s.accounts[userID] = acc
		d.SelfHealed = true
	}
	if s.policy.refill(acc, now) {
		d.Refilled = true
	}
	return acc, d
}

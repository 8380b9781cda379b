// Package accounts provides account lookup and management tools backed by
// an in-process account store. Lookup is low risk; mutations are high risk
// and only run once a user has approved them.
package accounts

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound indicates the account does not exist.
var ErrNotFound = errors.New("account not found")

// Account is a customer account record.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a thread-safe in-memory account store.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewStore creates a store seeded with the given accounts.
func NewStore(seed []Account) *Store {
	s := &Store{accounts: make(map[string]*Account, len(seed))}
	for i := range seed {
		acct := seed[i]
		s.accounts[acct.ID] = &acct
	}
	return s
}

// Get returns a copy of the account with the given ID.
func (s *Store) Get(id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *acct
	return &clone, nil
}

// Update applies fn to the account with the given ID.
func (s *Store) Update(id string, fn func(*Account)) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(acct)
	acct.UpdatedAt = time.Now().UTC()
	clone := *acct
	return &clone, nil
}

// Delete removes the account with the given ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(s.accounts, id)
	return nil
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

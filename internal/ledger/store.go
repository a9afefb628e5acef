// Package ledger implements the in-memory ledger engine: the
// authoritative transaction store for a signed-in user, the balance
// reconciler that keeps cached account balances in line with it, and
// pure aggregation helpers for reporting.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"plata/internal/core"
)

// Store owns the mutable state of one user's ledger. Mutations follow a
// prepare/commit split so the caller can persist the row between
// validation and the in-memory write: Prepare* validates and returns the
// record without touching state, Commit* applies it.
//
// Reads return copies; a consistent snapshot is guaranteed under the
// read lock, mutations never tear a concurrent List.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]core.Account
	categories   map[string]core.Category
	transactions map[string]core.Transaction
}

func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]core.Account),
		categories:   make(map[string]core.Category),
		transactions: make(map[string]core.Transaction),
	}
}

// Load replaces the full state, e.g. from the persistence gateway or a
// local snapshot at session start.
func (s *Store) Load(accounts []core.Account, categories []core.Category, transactions []core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]core.Account, len(accounts))
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	s.categories = make(map[string]core.Category, len(categories))
	for _, c := range categories {
		s.categories[c.ID] = c
	}
	s.transactions = make(map[string]core.Transaction, len(transactions))
	for _, t := range transactions {
		s.transactions[t.ID] = t
	}
}

// PrepareAdd fills defaults (id, date, status), validates the transaction
// and checks its references. State is not modified.
func (s *Store) PrepareAdd(tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = core.StatusCompleted
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkReferences(tx); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// CommitAdd inserts a transaction previously returned by PrepareAdd.
func (s *Store) CommitAdd(tx core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
}

// Patch is a partial update; nil fields keep their current value.
type Patch struct {
	AccountID        *string
	CounterAccountID *string
	CategoryID       *string
	Type             *core.TransactionType
	Amount           *core.Money
	Description      *string
	Date             *time.Time
	Status           *core.TransactionStatus
}

// PrepareUpdate merges the patch into the stored record and validates the
// result. It returns the old and the updated transaction so the
// reconciler can reverse the old effect and apply the new one.
func (s *Store) PrepareUpdate(id string, p Patch) (old, updated core.Transaction, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	old, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}

	updated = old
	if p.AccountID != nil {
		updated.AccountID = *p.AccountID
	}
	if p.CounterAccountID != nil {
		updated.CounterAccountID = *p.CounterAccountID
	}
	if p.CategoryID != nil {
		updated.CategoryID = *p.CategoryID
	}
	if p.Type != nil {
		updated.Type = *p.Type
	}
	if p.Amount != nil {
		updated.Amount = *p.Amount
	}
	if p.Description != nil {
		updated.Description = *p.Description
	}
	if p.Date != nil {
		updated.Date = *p.Date
	}
	if p.Status != nil {
		updated.Status = *p.Status
	}

	if err := updated.Validate(); err != nil {
		return core.Transaction{}, core.Transaction{}, err
	}
	if err := s.checkReferences(updated); err != nil {
		return core.Transaction{}, core.Transaction{}, err
	}
	return old, updated, nil
}

// CommitUpdate stores a transaction previously returned by PrepareUpdate.
func (s *Store) CommitUpdate(tx core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
}

// PrepareRemove looks up the transaction to be deleted.
func (s *Store) PrepareRemove(id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return tx, nil
}

// CommitRemove deletes the transaction from the store.
func (s *Store) CommitRemove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transactions, id)
}

// checkReferences verifies account and category references. Caller holds
// at least the read lock.
func (s *Store) checkReferences(tx core.Transaction) error {
	if _, ok := s.accounts[tx.AccountID]; !ok {
		return fmt.Errorf("%w: account %s", core.ErrEmptyAccount, tx.AccountID)
	}
	if tx.CounterAccountID != "" {
		if _, ok := s.accounts[tx.CounterAccountID]; !ok {
			return fmt.Errorf("%w: account %s", core.ErrEmptyAccount, tx.CounterAccountID)
		}
	}
	if tx.CategoryID != "" {
		if _, ok := s.categories[tx.CategoryID]; !ok {
			return fmt.Errorf("category %s: %w", tx.CategoryID, core.ErrNotFound)
		}
	}
	return nil
}

// Filter selects transactions; zero-valued fields are ignored. AccountID
// matches both sides of a transfer.
type Filter struct {
	Type       core.TransactionType
	Status     core.TransactionStatus
	AccountID  string
	CategoryID string
	From       time.Time // inclusive
	To         time.Time // inclusive
}

func (f Filter) Match(tx core.Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.AccountID != "" && tx.AccountID != f.AccountID && tx.CounterAccountID != f.AccountID {
		return false
	}
	if f.CategoryID != "" && tx.CategoryID != f.CategoryID {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To) {
		return false
	}
	return true
}

// Transactions returns matching transactions sorted by date descending.
// Ties break on id so the order is stable.
func (s *Store) Transactions(f Filter) []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Transaction returns a single transaction by id.
func (s *Store) Transaction(id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) Account(id string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return acc, nil
}

// Accounts returns all accounts sorted by name.
func (s *Store) Accounts() []core.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) PutAccount(acc core.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = acc
}

// RemoveAccount rejects deletion while transactions still reference the
// account, on either side of a transfer.
func (s *Store) RemoveAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	for _, tx := range s.transactions {
		if tx.AccountID == id || tx.CounterAccountID == id {
			return fmt.Errorf("account %s: %w", id, core.ErrAccountReferenced)
		}
	}
	delete(s.accounts, id)
	return nil
}

// AdjustBalance shifts an account's cached balance by delta cents.
func (s *Store) AdjustBalance(id string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	acc.BalanceCents += delta
	s.accounts[id] = acc
	return nil
}

// SetBalance overwrites an account's cached balance, used when a
// reconciliation recomputed it from scratch.
func (s *Store) SetBalance(id string, cents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	acc.BalanceCents = cents
	s.accounts[id] = acc
	return nil
}

func (s *Store) Category(id string) (core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cat, ok := s.categories[id]
	if !ok {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	return cat, nil
}

// Categories returns all categories sorted by name.
func (s *Store) Categories() []core.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) PutCategory(cat core.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[cat.ID] = cat
}

// RemoveCategory deletes a category and clears the reference on any
// transaction that used it; those fall back to the uncategorized bucket.
// Returns the ids of the cleared transactions.
func (s *Store) RemoveCategory(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return nil, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	delete(s.categories, id)
	var cleared []string
	for txID, tx := range s.transactions {
		if tx.CategoryID == id {
			tx.CategoryID = ""
			s.transactions[txID] = tx
			cleared = append(cleared, txID)
		}
	}
	sort.Strings(cleared)
	return cleared, nil
}

// Snapshot returns a full copy of the ledger state, e.g. for the local
// durable cache.
func (s *Store) Snapshot() ([]core.Account, []core.Category, []core.Transaction) {
	accounts := s.Accounts()
	categories := s.Categories()
	transactions := s.Transactions(Filter{})
	return accounts, categories, transactions
}

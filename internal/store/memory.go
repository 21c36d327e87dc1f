package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stockfx/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// It enforces the same compare-and-set settlement semantics as the
// PostgreSQL store, so conflict handling is exercised in tests too.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*model.User // keyed by username
	accounts     map[string]*model.Account
	positions    map[string]map[string]*model.Position // userID → symbol → row
	transactions []model.TransactionRecord
	watchlists   map[string]map[string]bool // userID → symbol set
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*model.User),
		accounts:   make(map[string]*model.Account),
		positions:  make(map[string]map[string]*model.Position),
		watchlists: make(map[string]map[string]bool),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.Username]; ok {
		return ErrUserExists
	}

	// Store copies to avoid external mutation.
	user := *u
	s.users[u.Username] = &user
	s.accounts[u.ID] = &model.Account{UserID: u.ID}
	return nil
}

func (s *MemoryStore) GetUserByName(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	user := *u
	return &user, nil
}

func (s *MemoryStore) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for _, u := range s.users {
		ids = append(ids, u.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	acct := *a
	return &acct, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[userID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	pos := *p
	return &pos, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.Position, 0, len(s.positions[userID]))
	for _, p := range s.positions[userID] {
		rows = append(rows, *p)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows, nil
}

// ApplySettlement commits the settlement under one lock. Every expected
// prior state is checked before anything is mutated, so a conflict leaves
// the store untouched.
func (s *MemoryStore) ApplySettlement(_ context.Context, st *Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[st.UserID]
	if !ok {
		return ErrNotFound
	}
	if !acct.CashBalance.Equal(st.PrevBalance) {
		return ErrConflict
	}

	if pc := st.Position; pc != nil {
		existing := s.positions[st.UserID][pc.Symbol]
		switch {
		case pc.PrevQuantity == 0 && existing != nil:
			return ErrConflict
		case pc.PrevQuantity != 0 && (existing == nil || existing.Quantity != pc.PrevQuantity):
			return ErrConflict
		}
	}

	// All checks passed; apply.
	acct.CashBalance = st.NewBalance

	if pc := st.Position; pc != nil {
		if pc.NewQuantity == 0 {
			delete(s.positions[st.UserID], pc.Symbol)
		} else {
			if s.positions[st.UserID] == nil {
				s.positions[st.UserID] = make(map[string]*model.Position)
			}
			s.positions[st.UserID][pc.Symbol] = &model.Position{
				UserID:      st.UserID,
				Symbol:      pc.Symbol,
				Quantity:    pc.NewQuantity,
				AverageCost: pc.NewAverageCost,
			}
		}
	}

	s.transactions = append(s.transactions, st.Record)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first is the canonical display order; the log is
	// append-only, so walking it backwards is enough.
	var records []model.TransactionRecord
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if r := s.transactions[i]; r.UserID == userID {
			records = append(records, r)
		}
	}
	return records, nil
}

func (s *MemoryStore) AddWatch(_ context.Context, userID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchlists[userID] == nil {
		s.watchlists[userID] = make(map[string]bool)
	}
	s.watchlists[userID][symbol] = true
	return nil
}

func (s *MemoryStore) RemoveWatch(_ context.Context, userID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.watchlists[userID], symbol)
	return nil
}

func (s *MemoryStore) ListWatchlist(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.watchlists[userID]))
	for sym := range s.watchlists[userID] {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

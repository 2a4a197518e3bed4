package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu sync.Mutex

	users    map[int64]User
	logins   map[string]int64
	accounts map[int64]Account
	txns     []Transaction

	nextUserID    int64
	nextAccountID int64
	nextTxID      int64
}

// NewMemoryStore creates a concurrency-safe in-memory store. It backs unit
// tests and the development mode that runs without a database.
func NewMemoryStore() Store {
	return &memoryStore{
		users:         make(map[int64]User),
		logins:        make(map[string]int64),
		accounts:      make(map[int64]Account),
		nextUserID:    1,
		nextAccountID: 1,
		nextTxID:      1,
	}
}

// Atomic serializes scopes with one mutex. State is snapshotted on entry and
// restored when fn fails, so a failed scope leaves nothing behind.
func (s *memoryStore) Atomic(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memoryStore) ListTransactions(_ context.Context) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Transaction, len(s.txns))
	copy(out, s.txns)
	return out, nil
}

func (s *memoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		u.Accounts = nil
		for _, a := range s.accounts {
			if a.UserID == u.ID {
				u.Accounts = append(u.Accounts, a)
			}
		}
		sort.Slice(u.Accounts, func(i, j int) bool { return u.Accounts[i].ID < u.Accounts[j].ID })
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

type memSnapshot struct {
	users    map[int64]User
	logins   map[string]int64
	accounts map[int64]Account
	txnLen   int

	nextUserID    int64
	nextAccountID int64
	nextTxID      int64
}

func (s *memoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		users:         make(map[int64]User, len(s.users)),
		logins:        make(map[string]int64, len(s.logins)),
		accounts:      make(map[int64]Account, len(s.accounts)),
		txnLen:        len(s.txns),
		nextUserID:    s.nextUserID,
		nextAccountID: s.nextAccountID,
		nextTxID:      s.nextTxID,
	}
	for id, u := range s.users {
		snap.users[id] = u
	}
	for login, id := range s.logins {
		snap.logins[login] = id
	}
	for id, a := range s.accounts {
		snap.accounts[id] = a
	}
	return snap
}

func (s *memoryStore) restore(snap memSnapshot) {
	s.users = snap.users
	s.logins = snap.logins
	s.accounts = snap.accounts
	s.txns = s.txns[:snap.txnLen]
	s.nextUserID = snap.nextUserID
	s.nextAccountID = snap.nextAccountID
	s.nextTxID = snap.nextTxID
}

// memTx operates on the store directly; Atomic holds the lock for the whole
// scope and rolls back via snapshot on failure.
type memTx struct {
	s *memoryStore
}

func (t *memTx) UserByID(_ context.Context, id int64) (User, error) {
	user, ok := t.s.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return user, nil
}

func (t *memTx) AccountsForUpdate(_ context.Context, ids ...int64) (map[int64]Account, error) {
	accounts := make(map[int64]Account, len(ids))
	for _, id := range ids {
		if a, ok := t.s.accounts[id]; ok {
			accounts[id] = a
		}
	}
	return accounts, nil
}

func (t *memTx) OtherActiveAccounts(_ context.Context, userID, excludeID int64) ([]Account, error) {
	var accounts []Account
	for _, a := range t.s.accounts {
		if a.UserID == userID && a.ID != excludeID && !a.Closed {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (t *memTx) CreateUser(_ context.Context, login string) (User, error) {
	if _, exists := t.s.logins[login]; exists {
		return User{}, fmt.Errorf("%w: %s", ErrLoginTaken, login)
	}
	user := User{ID: t.s.nextUserID, Login: login, CreatedAt: time.Now().UTC()}
	t.s.nextUserID++
	t.s.users[user.ID] = user
	t.s.logins[login] = user.ID
	return user, nil
}

func (t *memTx) CreateAccount(_ context.Context, userID int64, balance decimal.Decimal) (Account, error) {
	if _, ok := t.s.users[userID]; !ok {
		return Account{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	account := Account{ID: t.s.nextAccountID, UserID: userID, Balance: balance, CreatedAt: time.Now().UTC()}
	t.s.nextAccountID++
	t.s.accounts[account.ID] = account
	return account, nil
}

func (t *memTx) UpdateAccount(_ context.Context, account Account) error {
	if _, ok := t.s.accounts[account.ID]; !ok {
		return fmt.Errorf("account %d: %w", account.ID, ErrNotFound)
	}
	t.s.accounts[account.ID] = account
	return nil
}

func (t *memTx) Record(_ context.Context, txType TxType, amount decimal.Decimal, fromID, toID *int64) error {
	txn := Transaction{
		ID:        t.s.nextTxID,
		Type:      txType,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	if fromID != nil {
		v := *fromID
		txn.FromAccountID = &v
	}
	if toID != nil {
		v := *toID
		txn.ToAccountID = &v
	}
	t.s.nextTxID++
	t.s.txns = append(t.s.txns, txn)
	return nil
}

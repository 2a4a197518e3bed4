package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound occurs when a referenced user or account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount occurs when an operation amount is zero, negative or
	// carries more than two decimal places.
	ErrInvalidAmount = errors.New("amount must be positive with at most two decimal places")

	// ErrInvalidLogin occurs when a registration login is empty.
	ErrInvalidLogin = errors.New("login must not be empty")

	// ErrLoginTaken occurs when a registration login is already in use.
	ErrLoginTaken = errors.New("login already taken")

	// ErrAccountClosed occurs when an operation targets a closed account.
	ErrAccountClosed = errors.New("account is closed")

	// ErrInsufficientFunds occurs when the source account balance does not
	// cover the requested amount plus any fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLastActiveAccount occurs on an attempt to close a user's sole
	// remaining active account.
	ErrLastActiveAccount = errors.New("cannot close sole active account")

	// ErrSameAccount occurs when a transfer names the same account on both sides.
	ErrSameAccount = errors.New("sender and recipient are the same account")

	// ErrConflict indicates the atomic scope could not commit because of a
	// concurrent modification. The caller may retry.
	ErrConflict = errors.New("concurrent modification")
)

// TxType enumerates the kinds of ledger transactions.
type TxType string

const (
	TxAccountCreated TxType = "ACCOUNT_CREATED"
	TxAccountClosed  TxType = "ACCOUNT_CLOSED"
	TxDeposit        TxType = "DEPOSIT"
	TxWithdrawal     TxType = "WITHDRAWAL"
	TxTransfer       TxType = "TRANSFER"
	TxFee            TxType = "FEE"
)

// User is a registered account holder. Login is unique across all users.
type User struct {
	ID        int64
	Login     string
	CreatedAt time.Time
	Accounts  []Account
}

// Account belongs to exactly one user. Balance carries scale-2 decimal
// precision and is never negative after a committed operation. A closed
// account keeps a zero balance forever.
type Account struct {
	ID        int64
	UserID    int64
	Balance   decimal.Decimal
	Closed    bool
	CreatedAt time.Time
}

// Transaction is an immutable audit record of a ledger event. At least one of
// FromAccountID and ToAccountID is always set.
type Transaction struct {
	ID            int64
	Type          TxType
	Amount        decimal.Decimal
	CreatedAt     time.Time
	FromAccountID *int64
	ToAccountID   *int64
}

// Store is the durable backend for users, accounts and transactions.
//
// Atomic runs fn inside a single atomic scope: every read and write made
// through the Tx either commits as a whole or rolls back as a whole. A store
// must guarantee that read-then-write of an account balance within one scope
// is serializable with respect to concurrent writers of the same account.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	ListTransactions(ctx context.Context) ([]Transaction, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// Tx is the repository surface available inside one atomic scope. Record is
// the transaction recorder: it appends exactly one immutable transaction row
// inside the caller's scope and never opens a scope of its own, so the record
// lands together with the balance mutation or not at all.
type Tx interface {
	UserByID(ctx context.Context, id int64) (User, error)
	// AccountsForUpdate locks and returns the requested accounts, acquiring
	// locks in ascending id order. Missing ids are absent from the result.
	AccountsForUpdate(ctx context.Context, ids ...int64) (map[int64]Account, error)
	// OtherActiveAccounts locks and returns the owner's open accounts other
	// than excludeID, ordered by ascending id.
	OtherActiveAccounts(ctx context.Context, userID, excludeID int64) ([]Account, error)
	CreateUser(ctx context.Context, login string) (User, error)
	CreateAccount(ctx context.Context, userID int64, balance decimal.Decimal) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	Record(ctx context.Context, t TxType, amount decimal.Decimal, fromID, toID *int64) error
}

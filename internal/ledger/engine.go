package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/okapi-bank/okapi_bank/internal/notification"
)

// Params carries the ledger's configured money rules.
type Params struct {
	// DefaultBalance is the opening balance of every new account.
	DefaultBalance decimal.Decimal
	// FeeRate is the fraction of the amount charged to the sender on
	// transfers between accounts of different users.
	FeeRate decimal.Decimal
}

// Engine orchestrates all money-moving operations. Every operation runs in
// exactly one atomic scope against the store: balance mutations and their
// transaction records commit together or not at all.
type Engine struct {
	store    Store
	params   Params
	notifier notification.Notifier
}

// NewEngine builds a ledger engine. The notifier may be nil.
func NewEngine(store Store, params Params, notifier notification.Notifier) *Engine {
	return &Engine{store: store, params: params, notifier: notifier}
}

// RegisterUser creates a user with a unique login plus one default account,
// recording the account creation, all in one scope.
func (e *Engine) RegisterUser(ctx context.Context, login string) (User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return User{}, ErrInvalidLogin
	}

	var user User
	err := e.store.Atomic(ctx, func(tx Tx) error {
		created, err := tx.CreateUser(ctx, login)
		if err != nil {
			return err
		}
		account, err := tx.CreateAccount(ctx, created.ID, e.params.DefaultBalance)
		if err != nil {
			return err
		}
		if err := tx.Record(ctx, TxAccountCreated, e.params.DefaultBalance, nil, &account.ID); err != nil {
			return err
		}
		created.Accounts = []Account{account}
		user = created
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateAccount opens an additional account for an existing user with the
// configured default balance.
func (e *Engine) CreateAccount(ctx context.Context, userID int64) (Account, error) {
	var account Account
	err := e.store.Atomic(ctx, func(tx Tx) error {
		if _, err := tx.UserByID(ctx, userID); err != nil {
			return err
		}
		created, err := tx.CreateAccount(ctx, userID, e.params.DefaultBalance)
		if err != nil {
			return err
		}
		if err := tx.Record(ctx, TxAccountCreated, e.params.DefaultBalance, nil, &created.ID); err != nil {
			return err
		}
		account = created
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Closure describes the outcome of closing an account.
type Closure struct {
	Closed   Account
	Target   Account
	Migrated decimal.Decimal
}

// CloseAccount closes an open account, migrating its full balance to the
// owner's other active account with the lowest id. Closing a user's sole
// active account is refused.
func (e *Engine) CloseAccount(ctx context.Context, accountID int64) (Closure, error) {
	var closure Closure
	err := e.store.Atomic(ctx, func(tx Tx) error {
		accounts, err := tx.AccountsForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		account, ok := accounts[accountID]
		if !ok {
			return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}
		if account.Closed {
			return ErrAccountClosed
		}

		others, err := tx.OtherActiveAccounts(ctx, account.UserID, account.ID)
		if err != nil {
			return err
		}
		if len(others) == 0 {
			return ErrLastActiveAccount
		}
		target := others[0]

		migrated := account.Balance
		target.Balance = target.Balance.Add(migrated)
		account.Balance = decimal.Zero
		account.Closed = true

		if err := tx.UpdateAccount(ctx, target); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.Record(ctx, TxAccountClosed, migrated, &account.ID, &target.ID); err != nil {
			return err
		}

		closure = Closure{Closed: account, Target: target, Migrated: migrated}
		return nil
	})
	if err != nil {
		return Closure{}, err
	}

	e.notify(ctx, notification.Message{
		Kind:        notification.KindAccountClosed,
		Destination: fmt.Sprintf("account:%d", closure.Target.ID),
		Body:        fmt.Sprintf("Account %d closed, %s moved to account %d", accountID, closure.Migrated, closure.Target.ID),
	})
	return closure, nil
}

// Deposit credits an open account and records a DEPOSIT transaction.
func (e *Engine) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (Account, error) {
	if err := validAmount(amount); err != nil {
		return Account{}, err
	}

	var account Account
	err := e.store.Atomic(ctx, func(tx Tx) error {
		accounts, err := tx.AccountsForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		found, ok := accounts[accountID]
		if !ok {
			return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}
		if found.Closed {
			return ErrAccountClosed
		}

		found.Balance = found.Balance.Add(amount)
		if err := tx.UpdateAccount(ctx, found); err != nil {
			return err
		}
		if err := tx.Record(ctx, TxDeposit, amount, nil, &found.ID); err != nil {
			return err
		}
		account = found
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Withdraw debits an open account and records a WITHDRAWAL transaction.
func (e *Engine) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (Account, error) {
	var account Account
	err := e.store.Atomic(ctx, func(tx Tx) error {
		accounts, err := tx.AccountsForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		found, ok := accounts[accountID]
		if !ok {
			return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}
		if err := validAmount(amount); err != nil {
			return err
		}
		if found.Closed {
			return ErrAccountClosed
		}
		if found.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		found.Balance = found.Balance.Sub(amount)
		if err := tx.UpdateAccount(ctx, found); err != nil {
			return err
		}
		if err := tx.Record(ctx, TxWithdrawal, amount, &found.ID, nil); err != nil {
			return err
		}
		account = found
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// TransferResult describes the outcome of a committed transfer.
type TransferResult struct {
	Sender    Account
	Recipient Account
	Fee       decimal.Decimal
}

// Transfer moves amount from sender to recipient. Transfers between accounts
// of different users additionally charge the sender a fee of amount times the
// configured fee rate, rounded half-up to two decimal places. The sender must
// cover amount plus fee before any mutation happens. The TRANSFER record and,
// when a fee is charged, its paired FEE record are written in the same scope
// as the balance changes.
func (e *Engine) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (TransferResult, error) {
	if fromID == toID {
		return TransferResult{}, ErrSameAccount
	}

	var result TransferResult
	err := e.store.Atomic(ctx, func(tx Tx) error {
		accounts, err := tx.AccountsForUpdate(ctx, fromID, toID)
		if err != nil {
			return err
		}
		sender, ok := accounts[fromID]
		if !ok {
			return fmt.Errorf("sender account %d: %w", fromID, ErrNotFound)
		}
		recipient, ok := accounts[toID]
		if !ok {
			return fmt.Errorf("recipient account %d: %w", toID, ErrNotFound)
		}
		if sender.Closed || recipient.Closed {
			return ErrAccountClosed
		}
		if err := validAmount(amount); err != nil {
			return err
		}

		fee := decimal.Zero
		if sender.UserID != recipient.UserID {
			fee = amount.Mul(e.params.FeeRate).Round(2)
		}

		total := amount.Add(fee)
		if sender.Balance.LessThan(total) {
			return ErrInsufficientFunds
		}

		sender.Balance = sender.Balance.Sub(total)
		recipient.Balance = recipient.Balance.Add(amount)

		if err := tx.UpdateAccount(ctx, sender); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, recipient); err != nil {
			return err
		}
		if err := tx.Record(ctx, TxTransfer, amount, &sender.ID, &recipient.ID); err != nil {
			return err
		}
		if fee.IsPositive() {
			if err := tx.Record(ctx, TxFee, fee, &sender.ID, nil); err != nil {
				return err
			}
		}

		result = TransferResult{Sender: sender, Recipient: recipient, Fee: fee}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	e.notify(ctx, notification.Message{
		Kind:        notification.KindTransfer,
		Destination: fmt.Sprintf("account:%d", toID),
		Body:        fmt.Sprintf("Account %d received %s from account %d", toID, amount, fromID),
	})
	return result, nil
}

// ListTransactions returns the full audit trail in insertion (id) order.
func (e *Engine) ListTransactions(ctx context.Context) ([]Transaction, error) {
	return e.store.ListTransactions(ctx)
}

// ListUsers returns all users with their accounts eagerly resolved.
func (e *Engine) ListUsers(ctx context.Context) ([]User, error) {
	return e.store.ListUsers(ctx)
}

func (e *Engine) notify(ctx context.Context, msg notification.Message) {
	if e.notifier == nil {
		return
	}
	_ = e.notifier.Send(ctx, msg)
}

// validAmount accepts strictly positive amounts at scale 2 or coarser.
func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.Exponent() < -2 {
		return ErrInvalidAmount
	}
	return nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMemoryStoreRollsBackFailedScope(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Atomic(ctx, func(tx Tx) error {
		if _, err := tx.CreateUser(ctx, "alice"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	boom := errors.New("boom")
	err = store.Atomic(ctx, func(tx Tx) error {
		user, err := tx.UserByID(ctx, 1)
		if err != nil {
			return err
		}
		account, err := tx.CreateAccount(ctx, user.ID, decimal.RequireFromString("10.00"))
		if err != nil {
			return err
		}
		if err := tx.Record(ctx, TxAccountCreated, account.Balance, nil, &account.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	users, _ := store.ListUsers(ctx)
	if len(users[0].Accounts) != 0 {
		t.Fatalf("rolled-back account persisted: %+v", users[0].Accounts)
	}
	txns, _ := store.ListTransactions(ctx)
	if len(txns) != 0 {
		t.Fatalf("rolled-back record persisted: %+v", txns)
	}
}

func TestMemoryStoreDuplicateLogin(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := func() error {
		return store.Atomic(ctx, func(tx Tx) error {
			_, err := tx.CreateUser(ctx, "alice")
			return err
		})
	}
	if err := seed(); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := seed(); !errors.Is(err, ErrLoginTaken) {
		t.Fatalf("expected ErrLoginTaken, got %v", err)
	}
}

func TestMemoryStoreConcurrentScopesStayBalanced(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var a, b int64
	err := store.Atomic(ctx, func(tx Tx) error {
		user, err := tx.CreateUser(ctx, "alice")
		if err != nil {
			return err
		}
		first, err := tx.CreateAccount(ctx, user.ID, decimal.RequireFromString("100.00"))
		if err != nil {
			return err
		}
		second, err := tx.CreateAccount(ctx, user.ID, decimal.Zero)
		if err != nil {
			return err
		}
		a, b = first.ID, second.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 10
	amount := decimal.RequireFromString("5.00")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Atomic(ctx, func(tx Tx) error {
				accounts, err := tx.AccountsForUpdate(ctx, a, b)
				if err != nil {
					return err
				}
				from, to := accounts[a], accounts[b]
				from.Balance = from.Balance.Sub(amount)
				to.Balance = to.Balance.Add(amount)
				if err := tx.UpdateAccount(ctx, from); err != nil {
					return err
				}
				if err := tx.UpdateAccount(ctx, to); err != nil {
					return err
				}
				fromID, toID := from.ID, to.ID
				return tx.Record(ctx, TxTransfer, amount, &fromID, &toID)
			})
			if err != nil {
				t.Errorf("scope %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	users, _ := store.ListUsers(ctx)
	total := decimal.Zero
	for _, acct := range users[0].Accounts {
		total = total.Add(acct.Balance)
	}
	if !total.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("store not balanced after concurrency, total=%s", total)
	}

	txns, _ := store.ListTransactions(ctx)
	if len(txns) != workers {
		t.Fatalf("expected %d records, got %d", workers, len(txns))
	}
	for i, txn := range txns {
		if txn.ID != int64(i+1) {
			t.Fatalf("record ids not sequential: %s", fmt.Sprint(txns))
		}
	}
}

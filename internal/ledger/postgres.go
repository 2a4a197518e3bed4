package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists the ledger in PostgreSQL. Atomicity and isolation of
// read-modify-write sequences rely on database transactions with row-level
// locking (SELECT ... FOR UPDATE).
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Atomic runs fn inside one database transaction. Any error from fn or from
// commit rolls the whole scope back; serialization and deadlock failures are
// reported as ErrConflict so the caller may retry.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// ListTransactions returns every transaction in insertion order.
func (s *PostgresStore) ListTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT id, type, amount, created_at, from_account_id, to_account_id
        FROM transactions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Amount, &t.CreatedAt, &t.FromAccountID, &t.ToAccountID); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// ListUsers returns all users with their accounts eagerly resolved.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx, `SELECT id, login, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	index := make(map[int64]int)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Login, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		index[u.ID] = len(users)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	accountRows, err := s.db.Query(ctx, `SELECT id, user_id, balance, is_closed, created_at
        FROM accounts ORDER BY user_id, id`)
	if err != nil {
		return nil, err
	}
	defer accountRows.Close()

	for accountRows.Next() {
		var a Account
		if err := accountRows.Scan(&a.ID, &a.UserID, &a.Balance, &a.Closed, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		if i, ok := index[a.UserID]; ok {
			users[i].Accounts = append(users[i].Accounts, a)
		}
	}
	return users, accountRows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UserByID(ctx context.Context, id int64) (User, error) {
	row := t.tx.QueryRow(ctx, `SELECT id, login, created_at FROM users WHERE id = $1`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Login, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (t *pgTx) AccountsForUpdate(ctx context.Context, ids ...int64) (map[int64]Account, error) {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// ORDER BY id keeps lock acquisition order ascending so concurrent scopes
	// touching overlapping accounts cannot deadlock on each other.
	rows, err := t.tx.Query(ctx, `SELECT id, user_id, balance, is_closed, created_at
        FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, sorted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[int64]Account, len(ids))
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Balance, &a.Closed, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		accounts[a.ID] = a
	}
	return accounts, rows.Err()
}

func (t *pgTx) OtherActiveAccounts(ctx context.Context, userID, excludeID int64) ([]Account, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, user_id, balance, is_closed, created_at
        FROM accounts WHERE user_id = $1 AND id <> $2 AND is_closed = FALSE
        ORDER BY id FOR UPDATE`, userID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Balance, &a.Closed, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (t *pgTx) CreateUser(ctx context.Context, login string) (User, error) {
	user := User{Login: login, CreatedAt: time.Now().UTC()}
	err := t.tx.QueryRow(ctx, `INSERT INTO users (login, created_at) VALUES ($1, $2) RETURNING id`,
		login, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (t *pgTx) CreateAccount(ctx context.Context, userID int64, balance decimal.Decimal) (Account, error) {
	account := Account{UserID: userID, Balance: balance, CreatedAt: time.Now().UTC()}
	err := t.tx.QueryRow(ctx, `INSERT INTO accounts (user_id, balance, is_closed, created_at)
        VALUES ($1, $2, FALSE, $3) RETURNING id`, userID, balance, account.CreatedAt).Scan(&account.ID)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, account Account) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $1, is_closed = $2 WHERE id = $3`,
		account.Balance, account.Closed, account.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", account.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) Record(ctx context.Context, txType TxType, amount decimal.Decimal, fromID, toID *int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transactions (type, amount, created_at, from_account_id, to_account_id)
        VALUES ($1, $2, $3, $4, $5)`, string(txType), amount, time.Now().UTC(), fromID, toID)
	return err
}

// mapPgError translates Postgres failure codes into the ledger error taxonomy.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case "23505": // unique_violation: only users.login carries a unique index
		return fmt.Errorf("%w: %s", ErrLoginTaken, pgErr.ConstraintName)
	default:
		return err
	}
}

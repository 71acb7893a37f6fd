package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/watershed-core/internal/database"
	"github.com/example/watershed-core/internal/money"
)

// Store persists ledger accounts and their transaction logs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a ledger store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool so sibling stores can share transactions.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const accountColumns = `id, kind, owner_ref, balance, total_inflow, total_outflow, total_replenished, archived, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Kind, &a.OwnerRef, &a.Balance, &a.TotalInflow,
		&a.TotalOutflow, &a.TotalReplenished, &a.Archived, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount returns the account for (kind, ownerRef), or ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, kind AccountKind, ownerRef string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	a, err := scanAccount(s.pool.QueryRow(queryCtx,
		`SELECT `+accountColumns+` FROM ledger_accounts WHERE kind = $1 AND owner_ref = $2`,
		kind, ownerRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetOrCreateAccount returns the account for (kind, ownerRef), creating it
// lazily. The unique (kind, owner_ref) constraint guards against duplicate
// creation under concurrency.
func (s *Store) GetOrCreateAccount(ctx context.Context, kind AccountKind, ownerRef string) (*Account, error) {
	a, err := s.GetAccount(ctx, kind, ownerRef)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.pool.Exec(queryCtx,
		`INSERT INTO ledger_accounts (kind, owner_ref) VALUES ($1, $2)
		 ON CONFLICT (kind, owner_ref) DO NOTHING`,
		kind, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return s.GetAccount(ctx, kind, ownerRef)
}

// lockAccountTx selects the account row FOR UPDATE, creating it first when
// absent, so concurrent mutations of one account serialize on the row lock.
func lockAccountTx(ctx context.Context, tx pgx.Tx, kind AccountKind, ownerRef string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger_accounts WHERE kind = $1 AND owner_ref = $2 FOR UPDATE`

	a, err := scanAccount(tx.QueryRow(ctx, query, kind, ownerRef))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_accounts (kind, owner_ref) VALUES ($1, $2)
		 ON CONFLICT (kind, owner_ref) DO NOTHING`,
		kind, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	a, err = scanAccount(tx.QueryRow(ctx, query, kind, ownerRef))
	if err != nil {
		return nil, fmt.Errorf("failed to lock account after create: %w", err)
	}
	return a, nil
}

// applyTx applies a signed delta to the account and appends the paired
// transaction record with the post-write balance snapshot. It is the single
// write path for every ledger mutation in the system.
func applyTx(ctx context.Context, tx pgx.Tx, kind AccountKind, ownerRef string, delta money.Cents, txType, description string) (money.Cents, error) {
	a, err := lockAccountTx(ctx, tx, kind, ownerRef)
	if err != nil {
		return 0, err
	}

	newBalance := a.Balance + delta
	if newBalance < 0 {
		return 0, ErrInsufficientFunds
	}

	inflow, outflow := a.TotalInflow, a.TotalOutflow
	if delta >= 0 {
		inflow += delta
	} else {
		outflow += -delta
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger_accounts
		 SET balance = $1, total_inflow = $2, total_outflow = $3, updated_at = now()
		 WHERE id = $4`,
		newBalance, inflow, outflow, a.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update account: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_transactions (account_id, type, amount, description, balance_after)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, txType, delta, description, newBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to append transaction: %w", err)
	}

	return newBalance, nil
}

// CreditTx adds amount to the account inside an existing transaction.
// Callers composing multi-account movements (loan funding, repayments,
// settlement clearing) use this to keep all writes in one atomic unit.
func CreditTx(ctx context.Context, tx pgx.Tx, kind AccountKind, ownerRef string, amount money.Cents, txType, description string) (money.Cents, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return applyTx(ctx, tx, kind, ownerRef, amount, txType, description)
}

// DebitTx removes amount from the account inside an existing transaction.
// The balance check runs against the row-locked balance, so concurrent
// debits cannot both pass on a stale read.
func DebitTx(ctx context.Context, tx pgx.Tx, kind AccountKind, ownerRef string, amount money.Cents, txType, description string) (money.Cents, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return applyTx(ctx, tx, kind, ownerRef, -amount, txType, description)
}

// Credit applies a standalone credit as its own atomic unit.
func (s *Store) Credit(ctx context.Context, kind AccountKind, ownerRef string, amount money.Cents, txType, description string) (money.Cents, error) {
	var newBalance money.Cents
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		newBalance, err = CreditTx(ctx, tx, kind, ownerRef, amount, txType, description)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Debit applies a standalone debit as its own atomic unit.
func (s *Store) Debit(ctx context.Context, kind AccountKind, ownerRef string, amount money.Cents, txType, description string) (money.Cents, error) {
	var newBalance money.Cents
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		newBalance, err = DebitTx(ctx, tx, kind, ownerRef, amount, txType, description)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Transactions returns the account's transaction log, newest first.
func (s *Store) Transactions(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(queryCtx,
		`SELECT id, account_id, type, amount, description, balance_after, created_at
		 FROM ledger_transactions
		 WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.Description, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

// SumByTypeTx totals positive transactions of one type for an owner inside an
// existing transaction. The referral activation check uses it to measure a
// user's lifetime contributions.
func SumByTypeTx(ctx context.Context, tx pgx.Tx, kind AccountKind, ownerRef, txType string) (money.Cents, error) {
	var total money.Cents
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(lt.amount), 0)
		 FROM ledger_transactions lt
		 JOIN ledger_accounts la ON la.id = lt.account_id
		 WHERE la.kind = $1 AND la.owner_ref = $2 AND lt.type = $3 AND lt.amount > 0`,
		kind, ownerRef, txType).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}

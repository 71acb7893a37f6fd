package reserve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/watershed-core/internal/database"
	"github.com/example/watershed-core/internal/ledger"
	"github.com/example/watershed-core/internal/money"
)

// Service operates the singleton reserve account. The account is lazily
// created on first access; the (kind, owner_ref) uniqueness constraint
// prevents duplicates.
type Service struct {
	pool       *pgxpool.Pool
	thresholds Thresholds
	auditor    ledger.Auditor
}

// NewService creates a reserve service. auditor may be nil.
func NewService(pool *pgxpool.Pool, thresholds Thresholds, auditor ledger.Auditor) *Service {
	return &Service{pool: pool, thresholds: thresholds, auditor: auditor}
}

// Account returns the reserve account, creating it on first access.
func (s *Service) Account(ctx context.Context) (*ledger.Account, error) {
	store := ledger.NewStore(s.pool)
	return store.GetOrCreateAccount(ctx, ledger.KindReserve, ledger.ReserveOwner)
}

// AccrueTx credits the platform's cut into the reserve inside an existing
// transaction. Settlement clearing calls this so the batch flip and the
// accrual commit together.
func AccrueTx(ctx context.Context, tx pgx.Tx, amount money.Cents, settlementID string) (money.Cents, error) {
	return ledger.CreditTx(ctx, tx, ledger.KindReserve, ledger.ReserveOwner, amount,
		ledger.TypePlatformCutAccrual, fmt.Sprintf("platform cut from settlement %s", settlementID))
}

// Accrue credits the platform's cut as a standalone atomic unit.
func (s *Service) Accrue(ctx context.Context, amount money.Cents, settlementID string) (money.Cents, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	var newBalance money.Cents
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		newBalance, err = AccrueTx(ctx, tx, amount, settlementID)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.audit(fmt.Sprintf("reserve accrual settlement=%s amount=%s balance=%s", settlementID, amount, newBalance))
	return newBalance, nil
}

// RecordObligation registers a pending disbursement commitment. Repeated
// calls with the same reference are no-ops.
func (s *Service) RecordObligation(ctx context.Context, referenceID string, amount money.Cents) error {
	if amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(queryCtx,
		`INSERT INTO reserve_obligations (reference_id, amount) VALUES ($1, $2)
		 ON CONFLICT (reference_id) DO NOTHING`,
		referenceID, amount)
	if err != nil {
		return fmt.Errorf("failed to record obligation: %w", err)
	}
	return nil
}

// FrontDisbursement pays out an obligation from the reserve. The balance
// check happens inside the same transaction as the debit, so two concurrent
// disbursements cannot both pass on a stale balance.
func (s *Service) FrontDisbursement(ctx context.Context, amount money.Cents, referenceID string) (money.Cents, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	var newBalance money.Cents
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		newBalance, err = ledger.DebitTx(ctx, tx, ledger.KindReserve, ledger.ReserveOwner, amount,
			ledger.TypeDisbursementFronted, fmt.Sprintf("disbursement fronted for %s", referenceID))
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				return ErrInsufficientReserve
			}
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE reserve_obligations
			 SET disbursed = TRUE, disbursed_at = now()
			 WHERE reference_id = $1 AND NOT disbursed`,
			referenceID)
		if err != nil {
			return fmt.Errorf("failed to mark obligation disbursed: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.audit(fmt.Sprintf("reserve disbursement ref=%s amount=%s balance=%s", referenceID, amount, newBalance))
	return newBalance, nil
}

// Adjust applies a signed manual correction. Positive adjustments also count
// toward total_replenished.
func (s *Service) Adjust(ctx context.Context, amount money.Cents, description string) (money.Cents, error) {
	if amount == 0 {
		return 0, ledger.ErrInvalidAmount
	}

	var newBalance money.Cents
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if amount > 0 {
			newBalance, err = ledger.CreditTx(ctx, tx, ledger.KindReserve, ledger.ReserveOwner, amount,
				ledger.TypeReserveAdjustment, description)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx,
				`UPDATE ledger_accounts SET total_replenished = total_replenished + $1
				 WHERE kind = $2 AND owner_ref = $3`,
				amount, ledger.KindReserve, ledger.ReserveOwner)
			if err != nil {
				return fmt.Errorf("failed to update total_replenished: %w", err)
			}
			return nil
		}

		newBalance, err = ledger.DebitTx(ctx, tx, ledger.KindReserve, ledger.ReserveOwner, -amount,
			ledger.TypeReserveAdjustment, description)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return ErrInsufficientReserve
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	s.audit(fmt.Sprintf("reserve adjustment amount=%s balance=%s desc=%q", amount, newBalance, description))
	return newBalance, nil
}

// PendingObligations sums obligations not yet disbursed.
func (s *Service) PendingObligations(ctx context.Context) (money.Cents, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var total money.Cents
	err := s.pool.QueryRow(queryCtx,
		`SELECT COALESCE(SUM(amount), 0) FROM reserve_obligations WHERE NOT disbursed`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum obligations: %w", err)
	}
	return total, nil
}

// Health reports the reserve balance, outstanding obligations and the
// configured coverage classification.
func (s *Service) Health(ctx context.Context) (*Health, error) {
	account, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.PendingObligations(ctx)
	if err != nil {
		return nil, err
	}

	ratio, status := Classify(account.Balance, pending, s.thresholds)
	return &Health{
		Balance:              account.Balance,
		PendingDisbursements: pending,
		CoverageRatio:        ratio,
		Status:               status,
	}, nil
}

func (s *Service) audit(payload string) {
	if s.auditor != nil {
		s.auditor.Append(payload)
	}
}

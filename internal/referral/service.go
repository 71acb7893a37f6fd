package referral

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
	"github.com/example/watershed-core/internal/settlement"
)

// Config holds the referral program parameters.
type Config struct {
	// AdThreshold qualifies a referred user once their lifetime ad views
	// reach it.
	AdThreshold int64
	// ContributionThreshold qualifies on lifetime contribution total
	// instead. Either threshold suffices.
	ContributionThreshold money.Cents
	// SignupCredit is paid to the referrer when the referred user signs up.
	SignupCredit money.Cents
	// ActionCredit is paid to the referrer exactly once, at activation.
	ActionCredit money.Cents
	// ActivationWindowDays bounds how long a signed-up referral may wait
	// for its first qualifying action.
	ActivationWindowDays int
}

// Service runs the referral state machine.
type Service struct {
	pool    *pgxpool.Pool
	cfg     Config
	auditor ledger.Auditor
}

// NewService creates a referral service. auditor may be nil.
func NewService(pool *pgxpool.Pool, cfg Config, auditor ledger.Auditor) *Service {
	return &Service{pool: pool, cfg: cfg, auditor: auditor}
}

const referralColumns = `id, referrer_id, referred_id, status, signup_credit, action_credit,
	signed_up_at, activated_at, created_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral
	err := row.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.Status, &r.SignupCredit,
		&r.ActionCredit, &r.SignedUpAt, &r.ActivatedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create records a pending referral. Each user can be referred at most once;
// the unique constraint on referred_id turns duplicates into
// ErrAlreadyReferred.
func (s *Service) Create(ctx context.Context, referrerID, referredID string) (*Referral, error) {
	if referrerID == "" || referredID == "" {
		return nil, fmt.Errorf("referrer and referred IDs are required")
	}
	if referrerID == referredID {
		return nil, fmt.Errorf("users cannot refer themselves")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r, err := scanReferral(s.pool.QueryRow(queryCtx,
		`INSERT INTO referrals (referrer_id, referred_id)
		 VALUES ($1, $2)
		 ON CONFLICT (referred_id) DO NOTHING
		 RETURNING `+referralColumns,
		referrerID, referredID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyReferred
		}
		return nil, fmt.Errorf("failed to insert referral: %w", err)
	}

	s.audit(fmt.Sprintf("referral created referrer=%s referred=%s", referrerID, referredID))
	return r, nil
}

// Get returns the referral for a referred user.
func (s *Service) Get(ctx context.Context, referredID string) (*Referral, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r, err := scanReferral(s.pool.QueryRow(queryCtx,
		`SELECT `+referralColumns+` FROM referrals WHERE referred_id = $1`, referredID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return r, nil
}

// MarkSignedUp advances a pending referral to signed_up and credits the
// referrer the signup credit in the same transaction.
func (s *Service) MarkSignedUp(ctx context.Context, referredID string) (*Referral, error) {
	var updated *Referral
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := scanReferral(tx.QueryRow(ctx,
			`SELECT `+referralColumns+` FROM referrals WHERE referred_id = $1 FOR UPDATE`,
			referredID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrReferralNotFound
			}
			return fmt.Errorf("failed to lock referral: %w", err)
		}
		if r.Status != StatusPending {
			return ErrInvalidTransition
		}

		updated, err = scanReferral(tx.QueryRow(ctx,
			`UPDATE referrals
			 SET status = 'signed_up', signup_credit = $2, signed_up_at = now()
			 WHERE id = $1
			 RETURNING `+referralColumns,
			r.ID, s.cfg.SignupCredit))
		if err != nil {
			return fmt.Errorf("failed to mark signed up: %w", err)
		}

		if s.cfg.SignupCredit > 0 {
			_, err = ledger.CreditTx(ctx, tx, ledger.KindWatershed, r.ReferrerID, s.cfg.SignupCredit,
				ledger.TypeReferralSignup, fmt.Sprintf("referral signup bonus for %s", referredID))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(fmt.Sprintf("referral signed up referred=%s credit=%s", referredID, s.cfg.SignupCredit))
	return updated, nil
}

// CheckFirstAction activates a signed-up referral once the referred user's
// lifetime ad views or contribution total crosses its threshold, crediting
// the referrer the action credit. A no-op for users without a signed_up
// referral, which makes repeated checks after activation idempotent.
func (s *Service) CheckFirstAction(ctx context.Context, userID string) (*Referral, error) {
	var activated *Referral
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		activated = nil

		r, err := scanReferral(tx.QueryRow(ctx,
			`SELECT `+referralColumns+` FROM referrals
			 WHERE referred_id = $1 AND status = 'signed_up' FOR UPDATE`, userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to lock referral: %w", err)
		}

		adViews, err := settlement.AdViewCount(ctx, tx, userID)
		if err != nil {
			return err
		}
		qualified := adViews >= s.cfg.AdThreshold
		if !qualified {
			contributed, err := ledger.SumByTypeTx(ctx, tx, ledger.KindWatershed, userID,
				ledger.TypeContribution)
			if err != nil {
				return err
			}
			qualified = contributed >= s.cfg.ContributionThreshold
		}
		if !qualified {
			return nil
		}

		activated, err = scanReferral(tx.QueryRow(ctx,
			`UPDATE referrals
			 SET status = 'activated', action_credit = $2, activated_at = now()
			 WHERE id = $1
			 RETURNING `+referralColumns,
			r.ID, s.cfg.ActionCredit))
		if err != nil {
			return fmt.Errorf("failed to activate referral: %w", err)
		}

		if s.cfg.ActionCredit > 0 {
			_, err = ledger.CreditTx(ctx, tx, ledger.KindWatershed, r.ReferrerID, s.cfg.ActionCredit,
				ledger.TypeReferralAction, fmt.Sprintf("referral activation bonus for %s", userID))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated != nil {
		s.audit(fmt.Sprintf("referral activated referred=%s credit=%s", userID, s.cfg.ActionCredit))
	}
	return activated, nil
}

// ExpireStale expires signed-up referrals whose activation window has
// closed. The status guard makes daemon reruns no-ops. Returns the number of
// referrals expired.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cutoff := now.AddDate(0, 0, -s.cfg.ActivationWindowDays)
	tag, err := s.pool.Exec(queryCtx,
		`UPDATE referrals SET status = 'expired'
		 WHERE status = 'signed_up' AND signed_up_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire referrals: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.audit(fmt.Sprintf("expired %d stale referrals", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}

func (s *Service) audit(payload string) {
	if s.auditor != nil {
		s.auditor.Append(payload)
	}
}

package loan

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

// Config holds the loan engine parameters.
type Config struct {
	// FeeRate is the servicing fee carved out of each repayment.
	FeeRate float64
	// FundingWindowDays bounds how long a loan may sit in funding before
	// the daemon expires it.
	FundingWindowDays int
}

// Service operates loans against the shared connection pool.
type Service struct {
	pool    *pgxpool.Pool
	cfg     Config
	auditor ledger.Auditor
}

// NewService creates a loan service. auditor may be nil.
func NewService(pool *pgxpool.Pool, cfg Config, auditor ledger.Auditor) *Service {
	return &Service{pool: pool, cfg: cfg, auditor: auditor}
}

// CreateRequest describes a new loan. Amount must be an exact multiple of
// SharePrice; the quotient becomes the total share count.
type CreateRequest struct {
	BorrowerID        string
	Amount            money.Cents
	SharePrice        money.Cents
	MonthlyPayment    money.Cents
	SponsorshipAmount money.Cents
	SeekingSponsor    bool
	StretchGoals      []money.Cents // ordered; index+1 becomes the priority
}

func (r CreateRequest) validate() error {
	if r.BorrowerID == "" {
		return fmt.Errorf("borrower ID is required")
	}
	if r.Amount <= 0 || r.SharePrice <= 0 || r.MonthlyPayment <= 0 {
		return ledger.ErrInvalidAmount
	}
	if r.Amount%r.SharePrice != 0 {
		return fmt.Errorf("amount must be a whole number of shares")
	}
	if r.SponsorshipAmount < 0 {
		return ledger.ErrInvalidAmount
	}
	if r.SeekingSponsor && r.SponsorshipAmount == 0 {
		return fmt.Errorf("seeking a sponsor requires a sponsorship amount")
	}
	for _, g := range r.StretchGoals {
		if g <= 0 {
			return ledger.ErrInvalidAmount
		}
	}
	return nil
}

const loanColumns = `id, borrower_id, amount, share_price, shares_total, shares_remaining,
	status, monthly_payment, sponsorship_amount, seeking_sponsor,
	funding_deadline, activated_at, completed_at, created_at, updated_at`

func scanLoan(row pgx.Row) (*Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.BorrowerID, &l.Amount, &l.SharePrice, &l.SharesTotal,
		&l.SharesRemaining, &l.Status, &l.MonthlyPayment, &l.SponsorshipAmount,
		&l.SeekingSponsor, &l.FundingDeadline, &l.ActivatedAt, &l.CompletedAt,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Create opens a new loan in the funding state with its stretch goals.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Loan, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	shares := int64(req.Amount / req.SharePrice)
	deadline := time.Now().UTC().AddDate(0, 0, s.cfg.FundingWindowDays)

	var created *Loan
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanLoan(tx.QueryRow(ctx,
			`INSERT INTO loans
				(borrower_id, amount, share_price, shares_total, shares_remaining,
				 monthly_payment, sponsorship_amount, seeking_sponsor, funding_deadline)
			 VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8)
			 RETURNING `+loanColumns,
			req.BorrowerID, req.Amount, req.SharePrice, shares,
			req.MonthlyPayment, req.SponsorshipAmount, req.SeekingSponsor, deadline))
		if err != nil {
			return fmt.Errorf("failed to insert loan: %w", err)
		}

		for i, amount := range req.StretchGoals {
			_, err = tx.Exec(ctx,
				`INSERT INTO loan_stretch_goals (loan_id, priority, amount) VALUES ($1, $2, $3)`,
				created.ID, i+1, amount)
			if err != nil {
				return fmt.Errorf("failed to insert stretch goal: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(fmt.Sprintf("loan created id=%s borrower=%s amount=%s shares=%d",
		created.ID, created.BorrowerID, created.Amount, shares))
	return created, nil
}

// Get returns a loan by id.
func (s *Service) Get(ctx context.Context, loanID string) (*Loan, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	l, err := scanLoan(s.pool.QueryRow(queryCtx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

func lockLoan(ctx context.Context, tx pgx.Tx, loanID string) (*Loan, error) {
	l, err := scanLoan(tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to lock loan: %w", err)
	}
	return l, nil
}

// Fund purchases up to requestedShares shares of a funding loan. The
// purchase that sells the last share also activates the loan and credits the
// borrower the full loan amount, all in the same transaction.
func (s *Service) Fund(ctx context.Context, loanID, funderID string, requestedShares int64) (*FundResult, error) {
	if funderID == "" {
		return nil, fmt.Errorf("funder ID is required")
	}
	if requestedShares <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	var result FundResult
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		l, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if l.Status != StatusFunding || l.SharesRemaining == 0 {
			return ErrNotFundable
		}
		if l.BorrowerID == funderID {
			return ErrSelfFunding
		}

		sharesToBuy := requestedShares
		if sharesToBuy > l.SharesRemaining {
			sharesToBuy = l.SharesRemaining
		}
		cost := money.Cents(sharesToBuy) * l.SharePrice

		newBalance, err := ledger.DebitTx(ctx, tx, ledger.KindWatershed, funderID, cost,
			ledger.TypeLoanFunding, fmt.Sprintf("funded %d shares of loan %s", sharesToBuy, loanID))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO loan_shares (loan_id, funder_id, count, amount) VALUES ($1, $2, $3, $4)`,
			loanID, funderID, sharesToBuy, cost)
		if err != nil {
			return fmt.Errorf("failed to insert share: %w", err)
		}

		remaining := l.SharesRemaining - sharesToBuy
		fullyFunded := remaining == 0

		if fullyFunded {
			_, err = tx.Exec(ctx,
				`UPDATE loans
				 SET shares_remaining = 0, status = 'active', activated_at = now(), updated_at = now()
				 WHERE id = $1`, loanID)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE loans SET shares_remaining = $2, updated_at = now() WHERE id = $1`,
				loanID, remaining)
		}
		if err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}

		if fullyFunded {
			_, err = ledger.CreditTx(ctx, tx, ledger.KindWatershed, l.BorrowerID, l.Amount,
				ledger.TypeLoanDisbursement, fmt.Sprintf("loan %s fully funded", loanID))
			if err != nil {
				return err
			}
		}

		result = FundResult{
			SharesBought: sharesToBuy,
			Cost:         cost,
			NewBalance:   newBalance,
			FullyFunded:  fullyFunded,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(fmt.Sprintf("loan funded id=%s funder=%s shares=%d cost=%s fully_funded=%t",
		loanID, funderID, result.SharesBought, result.Cost, result.FullyFunded))
	return &result, nil
}

// Repay collects one scheduled payment from the borrower and distributes the
// principal portion pro-rata to funders by share count. Per-funder credits
// round independently, so the distributed total may drift from the principal
// by up to one cent per funder.
func (s *Service) Repay(ctx context.Context, loanID string) (*RepayResult, error) {
	var result RepayResult
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		l, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if l.Status != StatusActive && l.Status != StatusRepaying {
			return ErrNotRepayable
		}

		var repaidSoFar money.Cents
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(principal_paid), 0) FROM loan_repayments WHERE loan_id = $1`,
			loanID).Scan(&repaidSoFar)
		if err != nil {
			return fmt.Errorf("failed to sum repayments: %w", err)
		}
		remaining := l.Amount - repaidSoFar
		if remaining <= 0 {
			return ErrAlreadyRepaid
		}

		payment, principal, fee := repaymentPlan(l.MonthlyPayment, remaining, s.cfg.FeeRate)

		_, err = ledger.DebitTx(ctx, tx, ledger.KindWatershed, l.BorrowerID, payment,
			ledger.TypeLoanRepayment, fmt.Sprintf("repayment on loan %s", loanID))
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`SELECT id, funder_id, count, amount, repaid FROM loan_shares
			 WHERE loan_id = $1 ORDER BY created_at ASC FOR UPDATE`, loanID)
		if err != nil {
			return fmt.Errorf("failed to select shares: %w", err)
		}
		type shareRow struct {
			id       string
			funderID string
			count    int64
			amount   money.Cents
			repaid   money.Cents
		}
		var shares []shareRow
		for rows.Next() {
			var sr shareRow
			if err := rows.Scan(&sr.id, &sr.funderID, &sr.count, &sr.amount, &sr.repaid); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan share: %w", err)
			}
			shares = append(shares, sr)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read shares: %w", err)
		}

		for _, sr := range shares {
			credit := money.ProRata(principal, sr.count, l.SharesTotal)
			if credit <= 0 {
				continue
			}
			_, err = ledger.CreditTx(ctx, tx, ledger.KindWatershed, sr.funderID, credit,
				ledger.TypeLoanRepayment, fmt.Sprintf("principal distribution from loan %s", loanID))
			if err != nil {
				return err
			}
			// Clamp the running total so rounding can never push
			// repaid past the share's principal.
			_, err = tx.Exec(ctx,
				`UPDATE loan_shares SET repaid = LEAST(repaid + $2, amount) WHERE id = $1`,
				sr.id, credit)
			if err != nil {
				return fmt.Errorf("failed to update share: %w", err)
			}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO loan_repayments (loan_id, amount, principal_paid, servicing_fee)
			 VALUES ($1, $2, $3, $4)`,
			loanID, payment, principal, fee)
		if err != nil {
			return fmt.Errorf("failed to insert repayment: %w", err)
		}

		completed := principal >= remaining
		if completed {
			_, err = tx.Exec(ctx,
				`UPDATE loans SET status = 'completed', completed_at = now(), updated_at = now()
				 WHERE id = $1`, loanID)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE loans SET status = 'repaying', updated_at = now() WHERE id = $1`, loanID)
		}
		if err != nil {
			return fmt.Errorf("failed to update loan status: %w", err)
		}

		result = RepayResult{
			Payment:       payment,
			PrincipalPaid: principal,
			ServicingFee:  fee,
			Completed:     completed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(fmt.Sprintf("loan repayment id=%s payment=%s principal=%s fee=%s completed=%t",
		loanID, result.Payment, result.PrincipalPaid, result.ServicingFee, result.Completed))
	return &result, nil
}

// Sponsor backs a loan with its fixed sponsorship amount. A retried request
// finds the recorded sponsorship and echoes it back instead of double
// debiting or tripping the seeking-sponsor guard.
func (s *Service) Sponsor(ctx context.Context, loanID, sponsorID string) (*Sponsorship, error) {
	if sponsorID == "" {
		return nil, fmt.Errorf("sponsor ID is required")
	}

	var sp Sponsorship
	var duplicate bool
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		duplicate = false

		l, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}

		// The duplicate check runs before the state guards: the first
		// sponsorship clears seeking_sponsor, so a replay would otherwise
		// be rejected instead of answered idempotently.
		err = tx.QueryRow(ctx,
			`SELECT id, loan_id, sponsor_id, amount, created_at
			 FROM loan_sponsorships WHERE loan_id = $1 AND sponsor_id = $2`,
			loanID, sponsorID).Scan(&sp.ID, &sp.LoanID, &sp.SponsorID, &sp.Amount, &sp.CreatedAt)
		if err == nil {
			duplicate = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to check sponsorship: %w", err)
		}

		if !l.SeekingSponsor || l.SponsorshipAmount <= 0 {
			return ErrNotSeekingSponsor
		}
		if l.BorrowerID == sponsorID {
			return ErrSelfFunding
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO loan_sponsorships (loan_id, sponsor_id, amount)
			 VALUES ($1, $2, $3)
			 RETURNING id, loan_id, sponsor_id, amount, created_at`,
			loanID, sponsorID, l.SponsorshipAmount).Scan(
			&sp.ID, &sp.LoanID, &sp.SponsorID, &sp.Amount, &sp.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert sponsorship: %w", err)
		}

		_, err = ledger.DebitTx(ctx, tx, ledger.KindWatershed, sponsorID, l.SponsorshipAmount,
			ledger.TypeLoanSponsorship, fmt.Sprintf("sponsorship of loan %s", loanID))
		if err != nil {
			return err
		}
		_, err = ledger.CreditTx(ctx, tx, ledger.KindWatershed, l.BorrowerID, l.SponsorshipAmount,
			ledger.TypeLoanSponsorship, fmt.Sprintf("sponsorship received on loan %s", loanID))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE loans SET seeking_sponsor = FALSE, updated_at = now() WHERE id = $1`, loanID)
		if err != nil {
			return fmt.Errorf("failed to clear seeking_sponsor: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !duplicate {
		s.audit(fmt.Sprintf("loan sponsored id=%s sponsor=%s amount=%s", loanID, sponsorID, sp.Amount))
	}
	return &sp, nil
}

// StretchGoals returns a loan's stretch goals in priority order.
func (s *Service) StretchGoals(ctx context.Context, loanID string) ([]StretchGoal, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(queryCtx,
		`SELECT id, loan_id, priority, amount, funded, resolved_at, created_at
		 FROM loan_stretch_goals WHERE loan_id = $1 ORDER BY priority ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stretch goals: %w", err)
	}
	defer rows.Close()

	var goals []StretchGoal
	for rows.Next() {
		var g StretchGoal
		if err := rows.Scan(&g.ID, &g.LoanID, &g.Priority, &g.Amount, &g.Funded,
			&g.ResolvedAt, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stretch goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// ResolveStretchGoals runs the funding waterfall over what the loan actually
// raised (share purchases plus sponsorships) and persists each goal's funded
// flag.
func (s *Service) ResolveStretchGoals(ctx context.Context, loanID string) (*FundingDistribution, error) {
	var dist FundingDistribution
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		l, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}

		var raised money.Cents
		err = tx.QueryRow(ctx,
			`SELECT COALESCE((SELECT SUM(amount) FROM loan_shares WHERE loan_id = $1), 0)
			      + COALESCE((SELECT SUM(amount) FROM loan_sponsorships WHERE loan_id = $1), 0)`,
			loanID).Scan(&raised)
		if err != nil {
			return fmt.Errorf("failed to sum raised funds: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT id, loan_id, priority, amount, funded, resolved_at, created_at
			 FROM loan_stretch_goals WHERE loan_id = $1 ORDER BY priority ASC FOR UPDATE`, loanID)
		if err != nil {
			return fmt.Errorf("failed to select stretch goals: %w", err)
		}
		var goals []StretchGoal
		for rows.Next() {
			var g StretchGoal
			if err := rows.Scan(&g.ID, &g.LoanID, &g.Priority, &g.Amount, &g.Funded,
				&g.ResolvedAt, &g.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan stretch goal: %w", err)
			}
			goals = append(goals, g)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read stretch goals: %w", err)
		}

		dist = CalculateFundingDistribution(l.Amount, goals, raised)

		for i, g := range goals {
			funded := dist.Goals[i].Shortfall == 0
			_, err = tx.Exec(ctx,
				`UPDATE loan_stretch_goals SET funded = $2, resolved_at = now() WHERE id = $1`,
				g.ID, funded)
			if err != nil {
				return fmt.Errorf("failed to resolve stretch goal: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(fmt.Sprintf("stretch goals resolved loan=%s surplus=%s", loanID, dist.Surplus))
	return &dist, nil
}

// ExpireStale expires funding loans whose deadline has passed. The status
// guard makes daemon reruns no-ops. Returns the number of loans expired.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(queryCtx,
		`UPDATE loans SET status = 'expired', updated_at = now()
		 WHERE status = 'funding' AND funding_deadline IS NOT NULL AND funding_deadline <= $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire loans: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.audit(fmt.Sprintf("expired %d stale funding loans", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}

func (s *Service) audit(payload string) {
	if s.auditor != nil {
		s.auditor.Append(payload)
	}
}

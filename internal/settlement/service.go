package settlement

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
	"github.com/example/watershed-core/internal/reserve"
)

// Config holds the settlement pipeline parameters.
type Config struct {
	// PlatformShare is the platform's fraction of gross ad revenue.
	PlatformShare float64
	// NetTermDays delays clearing of a batch after its creation.
	NetTermDays int
}

// Service runs the two-phase settlement pipeline.
type Service struct {
	pool    *pgxpool.Pool
	cfg     Config
	auditor ledger.Auditor
}

// NewService creates a settlement service. auditor may be nil.
func NewService(pool *pgxpool.Pool, cfg Config, auditor ledger.Auditor) *Service {
	return &Service{pool: pool, cfg: cfg, auditor: auditor}
}

// RecordAdView creates a revenue event for one ad view and credits the
// viewer's watershed share in the same atomic unit. The platform's cut
// stays pending until its batch clears.
func (s *Service) RecordAdView(ctx context.Context, userID string, gross money.Cents) (*AdRevenueEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if gross <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	cut, credit := SplitRevenue(gross, s.cfg.PlatformShare)

	var event AdRevenueEvent
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO ad_revenue_events (user_id, gross_revenue, platform_cut, watershed_credit)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, user_id, gross_revenue, platform_cut, watershed_credit, settlement_status, settlement_id, created_at`,
			userID, gross, cut, credit).Scan(
			&event.ID, &event.UserID, &event.GrossRevenue, &event.PlatformCut,
			&event.WatershedCredit, &event.SettlementStatus, &event.SettlementID, &event.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert ad revenue event: %w", err)
		}

		if credit > 0 {
			_, err = ledger.CreditTx(ctx, tx, ledger.KindWatershed, userID, credit,
				ledger.TypeAdView, fmt.Sprintf("ad view revenue share (event %s)", event.ID))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(fmt.Sprintf("ad view user=%s gross=%s cut=%s credit=%s event=%s",
		userID, gross, cut, credit, event.ID))
	return &event, nil
}

const batchColumns = `id, total_gross, total_platform_cut, total_watershed_credit, ad_view_count,
	status, net_term_days, expected_clear_date, cleared_at, provider_ref, created_at`

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.TotalGross, &b.TotalPlatformCut, &b.TotalWatershedCredit,
		&b.AdViewCount, &b.Status, &b.NetTermDays, &b.ExpectedClearDate, &b.ClearedAt,
		&b.ProviderRef, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBatch claims every pending, unbatched event (optionally only those
// created at or before `before`) into a new batch. Returns nil when there is
// nothing to batch. The claim re-checks `settlement_id IS NULL` at write
// time, so two concurrent calls can never claim the same event.
func (s *Service) CreateBatch(ctx context.Context, before *time.Time) (*Batch, error) {
	var batch *Batch
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		batch = nil

		query := `SELECT id, gross_revenue, platform_cut, watershed_credit
			 FROM ad_revenue_events
			 WHERE settlement_status = 'pending' AND settlement_id IS NULL`
		args := []any{}
		if before != nil {
			query += ` AND created_at <= $1`
			args = append(args, *before)
		}
		query += ` FOR UPDATE`

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to select pending events: %w", err)
		}

		var ids []string
		var totalGross, totalCut, totalCredit money.Cents
		for rows.Next() {
			var id string
			var gross, cut, credit money.Cents
			if err := rows.Scan(&id, &gross, &cut, &credit); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan pending event: %w", err)
			}
			ids = append(ids, id)
			totalGross += gross
			totalCut += cut
			totalCredit += credit
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read pending events: %w", err)
		}

		if len(ids) == 0 {
			return nil
		}

		expectedClear := time.Now().UTC().AddDate(0, 0, s.cfg.NetTermDays)
		batch, err = scanBatch(tx.QueryRow(ctx,
			`INSERT INTO settlement_batches
				(total_gross, total_platform_cut, total_watershed_credit, ad_view_count, net_term_days, expected_clear_date)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+batchColumns,
			totalGross, totalCut, totalCredit, len(ids), s.cfg.NetTermDays, expectedClear))
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE ad_revenue_events SET settlement_id = $1
			 WHERE id = ANY($2) AND settlement_id IS NULL`,
			batch.ID, ids)
		if err != nil {
			return fmt.Errorf("failed to claim events: %w", err)
		}
		if int(tag.RowsAffected()) != len(ids) {
			return fmt.Errorf("batch claim conflict: claimed %d of %d events", tag.RowsAffected(), len(ids))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}

	s.audit(fmt.Sprintf("settlement batch created id=%s events=%d gross=%s cut=%s",
		batch.ID, batch.AdViewCount, batch.TotalGross, batch.TotalPlatformCut))
	return batch, nil
}

// Clear transitions a batch to cleared, flips every linked event, and
// accrues the platform cut into the reserve, all in one atomic unit.
// Clearing an already-cleared batch is a no-op, which makes the scheduled
// clearing job safely restartable.
func (s *Service) Clear(ctx context.Context, batchID, providerRef string) (*Batch, error) {
	if batchID == "" {
		return nil, ErrBatchNotFound
	}

	var batch *Batch
	var alreadyCleared bool
	err := database.WithSerializable(ctx, s.pool, func(tx pgx.Tx) error {
		alreadyCleared = false

		var err error
		batch, err = scanBatch(tx.QueryRow(ctx,
			`SELECT `+batchColumns+` FROM settlement_batches WHERE id = $1 FOR UPDATE`, batchID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBatchNotFound
			}
			return fmt.Errorf("failed to lock batch: %w", err)
		}

		if batch.Status == StatusCleared {
			alreadyCleared = true
			return nil
		}

		var ref *string
		if providerRef != "" {
			ref = &providerRef
		}
		batch, err = scanBatch(tx.QueryRow(ctx,
			`UPDATE settlement_batches
			 SET status = 'cleared', cleared_at = now(), provider_ref = COALESCE($2, provider_ref)
			 WHERE id = $1
			 RETURNING `+batchColumns,
			batchID, ref))
		if err != nil {
			return fmt.Errorf("failed to clear batch: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE ad_revenue_events SET settlement_status = 'cleared' WHERE settlement_id = $1`,
			batchID)
		if err != nil {
			return fmt.Errorf("failed to clear events: %w", err)
		}

		if batch.TotalPlatformCut > 0 {
			if _, err := reserve.AccrueTx(ctx, tx, batch.TotalPlatformCut, batchID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyCleared {
		s.audit(fmt.Sprintf("settlement batch cleared id=%s accrued=%s", batch.ID, batch.TotalPlatformCut))
	}
	return batch, nil
}

// GetBatch returns a batch by id.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	batch, err := scanBatch(s.pool.QueryRow(queryCtx,
		`SELECT `+batchColumns+` FROM settlement_batches WHERE id = $1`, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

// DueBatches returns pending batches whose expected clear date has passed.
// The settlement daemon clears these on its schedule.
func (s *Service) DueBatches(ctx context.Context, now time.Time) ([]*Batch, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(queryCtx,
		`SELECT `+batchColumns+` FROM settlement_batches
		 WHERE status = 'pending' AND expected_clear_date <= $1
		 ORDER BY expected_clear_date ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// AdViewCount returns the user's lifetime ad-view count inside an existing
// transaction. Referral activation uses it as a qualification signal.
func AdViewCount(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	var count int64
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM ad_revenue_events WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ad views: %w", err)
	}
	return count, nil
}

func (s *Service) audit(payload string) {
	if s.auditor != nil {
		s.auditor.Append(payload)
	}
}

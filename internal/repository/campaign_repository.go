package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/service"
	"github.com/fairyhunter13/fuel-coupon-engine/pkg/database"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const campaignColumns = `id, seq, name, discount_type, discount_value, min_purchase, max_discount,
	total_usage_limit, per_user_usage_limit, current_usage_count, max_coupons, issued_coupons,
	budget, spent_amount, start_date, end_date, status, stations, fuel_types, raffle_tickets,
	terms, created_at, updated_at`

// CampaignRepository provides data access for campaigns using pgx.
type CampaignRepository struct {
	pool PoolInterface
}

// NewCampaignRepository creates a new CampaignRepository with the given pool.
func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

// NewCampaignRepositoryWithPool creates a CampaignRepository with a custom
// pool interface. This is primarily used for testing.
func NewCampaignRepositoryWithPool(pool PoolInterface) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var c model.Campaign
	var discountType string
	var status string
	err := row.Scan(
		&c.ID, &c.Seq, &c.Name, &discountType, &c.Discount.Value, &c.Discount.MinPurchase,
		&c.Discount.MaxDiscount, &c.TotalUsageLimit, &c.PerUserUsageLimit, &c.CurrentUsageCount,
		&c.MaxCoupons, &c.IssuedCoupons, &c.Budget, &c.SpentAmount, &c.StartDate, &c.EndDate,
		&status, &c.Stations, &c.FuelTypes, &c.RaffleTickets, &c.Terms, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Discount.Type = model.DiscountType(discountType)
	c.Status = model.CampaignStatus(status)
	return &c, nil
}

// Insert inserts a new campaign and fills in its generated sequence number.
// Returns service.ErrDuplicateName if the campaign name is already taken.
func (r *CampaignRepository) Insert(ctx context.Context, c *model.Campaign) error {
	query := `INSERT INTO campaigns (id, name, discount_type, discount_value, min_purchase, max_discount,
		total_usage_limit, per_user_usage_limit, max_coupons, budget, start_date, end_date, status,
		stations, fuel_types, raffle_tickets, terms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING seq`

	err := r.pool.QueryRow(ctx, query,
		c.ID, c.Name, string(c.Discount.Type), c.Discount.Value, c.Discount.MinPurchase,
		c.Discount.MaxDiscount, c.TotalUsageLimit, c.PerUserUsageLimit, c.MaxCoupons, c.Budget,
		c.StartDate, c.EndDate, string(c.Status), c.Stations, c.FuelTypes, c.RaffleTickets,
		c.Terms, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrDuplicateName
		}
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by id.
// Returns nil, nil if the campaign is not found (service layer handles this).
func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return c, nil
}

// GetBySeq retrieves a campaign by its QR payload sequence number.
// Returns nil, nil if the campaign is not found.
func (r *CampaignRepository) GetBySeq(ctx context.Context, seq int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE seq = $1`

	c, err := scanCampaign(r.pool.QueryRow(ctx, query, seq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get campaign seq %d: %w", seq, err)
	}
	return c, nil
}

// GetByName retrieves a campaign by name. Returns nil, nil when not found.
func (r *CampaignRepository) GetByName(ctx context.Context, name string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE name = $1`

	c, err := scanCampaign(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get campaign by name %s: %w", name, err)
	}
	return c, nil
}

// UpdateStatus moves a campaign between statuses with a conditional update so
// a concurrent transition cannot be overwritten. Returns
// service.ErrConcurrencyConflict when the campaign is no longer in the
// expected status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) error {
	query := `UPDATE campaigns SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`

	tag, err := r.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update campaign status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrConcurrencyConflict
	}
	return nil
}

// ReserveCapacity atomically reserves n coupon slots against the campaign's
// max_coupons cap before bulk generation fans out. Returns
// service.ErrCapacityExceeded when the reservation would over-issue.
func (r *CampaignRepository) ReserveCapacity(ctx context.Context, id uuid.UUID, n int) error {
	query := `UPDATE campaigns SET issued_coupons = issued_coupons + $2, updated_at = now()
		WHERE id = $1 AND (max_coupons IS NULL OR issued_coupons + $2 <= max_coupons)`

	tag, err := r.pool.Exec(ctx, query, id, n)
	if err != nil {
		return fmt.Errorf("reserve capacity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrCapacityExceeded
	}
	return nil
}

// ReleaseCapacity returns unused reserved slots after a partially failed batch.
func (r *CampaignRepository) ReleaseCapacity(ctx context.Context, id uuid.UUID, n int) error {
	query := `UPDATE campaigns SET issued_coupons = issued_coupons - $2, updated_at = now()
		WHERE id = $1 AND issued_coupons >= $2`

	if _, err := r.pool.Exec(ctx, query, id, n); err != nil {
		return fmt.Errorf("release capacity %s: %w", id, err)
	}
	return nil
}

// RecordSpend adds a redemption's discount to the campaign ledger as a single
// conditional statement: the update succeeds only while it keeps spent_amount
// within budget and current_usage_count within the total usage limit. Must be
// called inside the redemption transaction. Returns service.ErrBudgetExceeded
// when the redemption would overrun either bound.
func (r *CampaignRepository) RecordSpend(ctx context.Context, tx database.TxQuerier, id uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return service.ErrNegativeAmount
	}

	query := `UPDATE campaigns
		SET spent_amount = spent_amount + $2, current_usage_count = current_usage_count + 1, updated_at = now()
		WHERE id = $1
		  AND (budget IS NULL OR spent_amount + $2 <= budget)
		  AND (total_usage_limit IS NULL OR current_usage_count + 1 <= total_usage_limit)`

	tag, err := tx.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("record spend %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrBudgetExceeded
	}
	return nil
}

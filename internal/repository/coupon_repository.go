package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/service"
	"github.com/fairyhunter13/fuel-coupon-engine/pkg/database"
)

const couponColumns = `id, campaign_id, code, qr_payload, signature, qr_generated_at, status,
	discount_value, remaining_value, raffle_tickets, valid_from, valid_until, current_uses,
	max_uses, assigned_user, metadata, terms, version, created_at, updated_at`

// CouponRepository provides data access for coupons using pgx.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a CouponRepository with a custom pool
// interface. This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var c model.Coupon
	var status string
	err := row.Scan(
		&c.ID, &c.CampaignID, &c.Code, &c.QRPayload, &c.Signature, &c.QRGeneratedAt, &status,
		&c.DiscountValue, &c.RemainingValue, &c.RaffleTickets, &c.ValidFrom, &c.ValidUntil,
		&c.CurrentUses, &c.MaxUses, &c.AssignedUser, &c.Metadata, &c.Terms, &c.Version,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.CouponStatus(status)
	return &c, nil
}

// Insert inserts a new coupon.
// Returns service.ErrDuplicateCode on a coupon code collision so the caller
// can regenerate the code and retry.
func (r *CouponRepository) Insert(ctx context.Context, c *model.Coupon) error {
	query := `INSERT INTO coupons (id, campaign_id, code, qr_payload, signature, qr_generated_at,
		status, discount_value, remaining_value, raffle_tickets, valid_from, valid_until,
		current_uses, max_uses, assigned_user, metadata, terms, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.CampaignID, c.Code, c.QRPayload, c.Signature, c.QRGeneratedAt, string(c.Status),
		c.DiscountValue, c.RemainingValue, c.RaffleTickets, c.ValidFrom, c.ValidUntil,
		c.CurrentUses, c.MaxUses, c.AssignedUser, c.Metadata, c.Terms, c.Version,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrDuplicateCode
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// GetByID retrieves a coupon by id.
// Returns nil, nil if the coupon is not found (service layer handles this).
func (r *CouponRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	c, err := scanCoupon(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon %s: %w", id, err)
	}
	return c, nil
}

// GetByCode retrieves a coupon by its code.
// Returns nil, nil if the coupon is not found.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	c, err := scanCoupon(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon by code %s: %w", code, err)
	}
	return c, nil
}

// UpdateCAS persists a coupon's mutable redemption state with an optimistic
// version check. The update applies only while the stored version still equals
// expectedVersion; a lost race returns service.ErrConcurrencyConflict so the
// caller can re-read and retry a bounded number of times. Only the single
// coupon row is touched, never the campaign.
func (r *CouponRepository) UpdateCAS(ctx context.Context, tx database.TxQuerier, c *model.Coupon, expectedVersion int) error {
	query := `UPDATE coupons
		SET status = $3, current_uses = $4, remaining_value = $5, version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $2`

	tag, err := tx.Exec(ctx, query, c.ID, expectedVersion,
		string(c.Status), c.CurrentUses, c.RemainingValue, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update coupon %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrConcurrencyConflict
	}
	c.Version = expectedVersion + 1
	return nil
}

// UpdateQR replaces the coupon's QR payload and signature. The previous QR
// value becomes unverifiable because the payload it signed no longer matches
// the stored one.
func (r *CouponRepository) UpdateQR(ctx context.Context, id uuid.UUID, payload, signature string, generatedAt time.Time) error {
	query := `UPDATE coupons SET qr_payload = $2, signature = $3, qr_generated_at = $4, updated_at = $4
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, payload, signature, generatedAt)
	if err != nil {
		return fmt.Errorf("update coupon qr %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrCouponNotFound
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/pkg/database"
)

// UsageRepository provides append-only access to usage records and validation
// attempts. Neither table is ever updated or deleted; they form the audit
// trail the fraud detector reads from.
type UsageRepository struct {
	pool PoolInterface
}

// NewUsageRepository creates a new UsageRepository with the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// NewUsageRepositoryWithPool creates a UsageRepository with a custom pool
// interface. This is primarily used for testing.
func NewUsageRepositoryWithPool(pool PoolInterface) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// InsertUsageRecord appends a usage record inside the redemption transaction
// so the audit entry commits atomically with the coupon and campaign updates.
func (r *UsageRepository) InsertUsageRecord(ctx context.Context, tx database.TxQuerier, rec *model.UsageRecord) error {
	query := `INSERT INTO usage_records (id, coupon_id, campaign_id, user_id, station_id, fuel_type,
		original_amount, discount_amount, final_amount, raffle_tickets, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		rec.ID, rec.CouponID, rec.CampaignID, rec.UserID, rec.StationID, rec.FuelType,
		rec.OriginalAmount, rec.DiscountAmount, rec.FinalAmount, rec.RaffleTickets,
		rec.CorrelationID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// InsertAttempt appends a validation attempt. Failure-path attempts pass the
// pool and may be written best-effort; success-path attempts pass the
// redemption transaction so the audit entry cannot be lost.
func (r *UsageRepository) InsertAttempt(ctx context.Context, q database.TxQuerier, a *model.ValidationAttempt) error {
	query := `INSERT INTO validation_attempts (id, coupon_code, outcome, reason, user_id, station_id,
		client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := q.Exec(ctx, query,
		a.ID, a.CouponCode, string(a.Outcome), a.Reason, a.UserID, a.StationID, a.ClientIP, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert validation attempt: %w", err)
	}
	return nil
}

// LogAttempt appends a validation attempt outside any transaction, using the
// repository's own pool. Used on failure paths where best-effort is enough.
func (r *UsageRepository) LogAttempt(ctx context.Context, a *model.ValidationAttempt) error {
	return r.InsertAttempt(ctx, r.pool, a)
}

// CountUserCodeAttempts counts how often a user attempted a given coupon code
// since the given time. Read by the fraud detector.
func (r *UsageRepository) CountUserCodeAttempts(ctx context.Context, userID, code string, since time.Time) (int, error) {
	query := `SELECT count(*) FROM validation_attempts
		WHERE user_id = $1 AND coupon_code = $2 AND created_at >= $3`

	var n int
	if err := r.pool.QueryRow(ctx, query, userID, code, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count user code attempts: %w", err)
	}
	return n, nil
}

// CountDistinctCodesByIP counts the distinct coupon codes one IP has tried
// since the given time. A high count indicates scanning or brute force.
func (r *UsageRepository) CountDistinctCodesByIP(ctx context.Context, clientIP string, since time.Time) (int, error) {
	query := `SELECT count(DISTINCT coupon_code) FROM validation_attempts
		WHERE client_ip = $1 AND created_at >= $2`

	var n int
	if err := r.pool.QueryRow(ctx, query, clientIP, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count distinct codes by ip: %w", err)
	}
	return n, nil
}

// CountUserRedemptions counts a user's successful redemptions against a
// campaign, backing the per-user usage limit.
func (r *UsageRepository) CountUserRedemptions(ctx context.Context, campaignID uuid.UUID, userID string) (int, error) {
	query := `SELECT count(*) FROM usage_records WHERE campaign_id = $1 AND user_id = $2`

	var n int
	if err := r.pool.QueryRow(ctx, query, campaignID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count user redemptions: %w", err)
	}
	return n, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/qrcode"
	"github.com/fairyhunter13/fuel-coupon-engine/pkg/database"
)

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UsageRepositoryInterface defines the interface for the usage ledger.
type UsageRepositoryInterface interface {
	InsertUsageRecord(ctx context.Context, tx database.TxQuerier, rec *model.UsageRecord) error
	InsertAttempt(ctx context.Context, q database.TxQuerier, a *model.ValidationAttempt) error
	LogAttempt(ctx context.Context, a *model.ValidationAttempt) error
	CountUserRedemptions(ctx context.Context, campaignID uuid.UUID, userID string) (int, error)
}

// FraudChecker is the advisory fraud heuristics port.
type FraudChecker interface {
	Check(ctx context.Context, userID, code, stationID, clientIP string) (string, error)
}

// RedemptionService runs the ordered validation pipeline against a scanned QR
// coupon and, when every stage passes, commits the redemption atomically:
// coupon compare-and-set, campaign budget/usage update and usage record all
// land in one transaction.
type RedemptionService struct {
	pool         TxBeginner
	campaignRepo CampaignRepositoryInterface
	couponRepo   CouponRepositoryInterface
	usageRepo    UsageRepositoryInterface
	signer       *qrcode.Signer
	fraud        FraudChecker
	clock        Clock
	publisher    EventPublisher
	qrMaxAge     time.Duration
}

// NewRedemptionService creates a RedemptionService.
func NewRedemptionService(pool TxBeginner, campaignRepo CampaignRepositoryInterface,
	couponRepo CouponRepositoryInterface, usageRepo UsageRepositoryInterface,
	signer *qrcode.Signer, fraud FraudChecker, clock Clock, publisher EventPublisher,
	qrMaxAge time.Duration) *RedemptionService {
	return &RedemptionService{
		pool:         pool,
		campaignRepo: campaignRepo,
		couponRepo:   couponRepo,
		usageRepo:    usageRepo,
		signer:       signer,
		fraud:        fraud,
		clock:        clock,
		publisher:    publisher,
		qrMaxAge:     qrMaxAge,
	}
}

// ValidateAndRedeem runs the validation pipeline. Every attempt, success or
// failure, is appended to the validation attempt log. Stage failures return a
// result carrying the outcome, not an error; errors are reserved for bad
// input and infrastructure trouble.
func (s *RedemptionService) ValidateAndRedeem(ctx context.Context, req *model.RedeemRequest) (*model.RedemptionResult, error) {
	if req == nil {
		return nil, ErrInvalidInput
	}
	purchase, err := decimal.NewFromString(req.PurchaseAmount)
	if err != nil || !purchase.IsPositive() {
		return nil, ErrInvalidInput
	}

	now := s.clock.Now()

	// Stage 1: parse payload and check freshness.
	payload, err := qrcode.Decode(req.QRPayload)
	if err != nil {
		return s.fail(req, req.QRPayload, model.OutcomeInvalidCode, "malformed payload", now), nil
	}
	if !payload.Fresh(now, s.qrMaxAge) {
		return s.fail(req, payload.CouponCode, model.OutcomeInvalidCode, "stale qr code", now), nil
	}

	// Stage 2: resolve the campaign and coupon the payload names.
	campaign, err := s.campaignRepo.GetBySeq(ctx, payload.CampaignSeq)
	if err != nil {
		return s.internal(req, payload.CouponCode, now, err)
	}
	if campaign == nil {
		return s.fail(req, payload.CouponCode, model.OutcomeInvalidCode, "unknown campaign", now), nil
	}

	coupon, err := s.couponRepo.GetByCode(ctx, payload.CouponCode)
	if err != nil {
		return s.internal(req, payload.CouponCode, now, err)
	}
	if coupon == nil {
		return s.fail(req, payload.CouponCode, model.OutcomeInvalidCode, "unknown coupon", now), nil
	}

	// Stage 3: verify the signature against the stored coupon. The coupon must
	// belong to the campaign the payload names, the presented payload must
	// match the stored one, so a regenerated QR invalidates the old code, and
	// the recomputed MAC must match the presented signature.
	if coupon.CampaignID != campaign.ID || req.QRPayload != coupon.QRPayload {
		return s.fail(req, coupon.Code, model.OutcomeInvalidCode, "payload mismatch", now), nil
	}
	if !s.signer.Verify(signedFields(coupon, campaign), req.Signature) {
		return s.fail(req, coupon.Code, model.OutcomeInvalidCode, "signature mismatch", now), nil
	}

	// Stage 4: coupon status.
	if !coupon.AllowsUsage() {
		switch coupon.Status {
		case model.CouponSuspended:
			return s.fail(req, coupon.Code, model.OutcomeSuspended, "coupon suspended", now), nil
		case model.CouponExpired:
			return s.fail(req, coupon.Code, model.OutcomeExpired, "coupon expired", now), nil
		default:
			return s.fail(req, coupon.Code, model.OutcomeAlreadyUsed, "coupon "+string(coupon.Status), now), nil
		}
	}

	// Stage 5: validity window.
	if now.Before(coupon.ValidFrom) {
		return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "validity window not started", now), nil
	}
	if !now.Before(coupon.ValidUntil) {
		return s.fail(req, coupon.Code, model.OutcomeExpired, "validity window passed", now), nil
	}

	// Stage 6: campaign status and applicability.
	if !campaign.AllowsCouponUsage() {
		return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "campaign not active", now), nil
	}
	stationOK, fuelOK := campaign.AppliesTo(req.StationID, req.FuelType)
	if !stationOK {
		return s.fail(req, coupon.Code, model.OutcomeWrongStation, "station not covered", now), nil
	}
	if !fuelOK {
		return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "fuel type not covered", now), nil
	}
	if purchase.LessThan(campaign.Discount.MinPurchase) {
		return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "below minimum purchase", now), nil
	}
	if coupon.AssignedUser != nil && *coupon.AssignedUser != req.UserID {
		return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "coupon assigned to another user", now), nil
	}
	if campaign.PerUserUsageLimit != nil {
		n, err := s.usageRepo.CountUserRedemptions(ctx, campaign.ID, req.UserID)
		if err != nil {
			return s.internal(req, coupon.Code, now, err)
		}
		if n >= *campaign.PerUserUsageLimit {
			return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "per-user limit reached", now), nil
		}
	}

	// Stage 7: fraud heuristics. The detector is advisory; when it cannot
	// decide the attempt is allowed and the outage logged.
	if s.fraud != nil {
		reason, err := s.fraud.Check(ctx, req.UserID, coupon.Code, req.StationID, req.ClientIP)
		if err != nil {
			log.Warn().Err(err).Str("coupon_code", coupon.Code).
				Msg("fraud detector unavailable, allowing redemption")
		} else if reason != "" {
			return s.fail(req, coupon.Code, model.OutcomeFraudDetected, reason, now), nil
		}
	}

	return s.commit(ctx, req, coupon, campaign, purchase, now)
}

// commit applies the redemption atomically, retrying lost compare-and-set
// races against the coupon row with fresh state. The campaign is never locked
// for the coupon check; only the budget update touches the campaign row, as a
// single conditional statement.
func (s *RedemptionService) commit(ctx context.Context, req *model.RedeemRequest,
	coupon *model.Coupon, campaign *model.Campaign, purchase decimal.Decimal, now time.Time) (*model.RedemptionResult, error) {

	correlationID := uuid.NewString()

	for attempt := 0; attempt <= casRetryLimit; attempt++ {
		updated, redemption, events, err := coupon.Use(campaign, purchase, req.FuelType, req.StationID, now)
		if err != nil {
			return s.mapUseError(req, coupon, err, now), nil
		}

		conflict, result, err := s.commitOnce(ctx, req, coupon, campaign, &updated, redemption, purchase, correlationID, now)
		if err != nil {
			return s.internal(req, coupon.Code, now, err)
		}
		if !conflict {
			publishAll(ctx, s.publisher, events)
			return result, nil
		}

		// Lost the race: another request changed the coupon first. Re-read
		// and re-evaluate; an exhausted coupon fails with AlreadyUsed above.
		coupon, err = s.couponRepo.GetByCode(ctx, coupon.Code)
		if err != nil {
			return s.internal(req, req.QRPayload, now, err)
		}
		if coupon == nil {
			return s.fail(req, req.QRPayload, model.OutcomeInvalidCode, "unknown coupon", now), nil
		}
	}

	return nil, ErrConcurrencyConflict
}

// commitOnce runs one transactional commit attempt. A true conflict return
// means the optimistic version check lost and the caller should retry.
func (s *RedemptionService) commitOnce(ctx context.Context, req *model.RedeemRequest,
	coupon *model.Coupon, campaign *model.Campaign, updated *model.Coupon,
	redemption model.Redemption, purchase decimal.Decimal, correlationID string, now time.Time) (conflict bool, result *model.RedemptionResult, err error) {

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	if err := s.couponRepo.UpdateCAS(ctx, tx, updated, coupon.Version); err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			return true, nil, nil
		}
		return false, nil, err
	}

	if err := s.campaignRepo.RecordSpend(ctx, tx, campaign.ID, redemption.Discount); err != nil {
		if errors.Is(err, ErrBudgetExceeded) {
			return false, s.fail(req, coupon.Code, model.OutcomeNotApplicable, "campaign budget exhausted", now), nil
		}
		return false, nil, err
	}

	record := &model.UsageRecord{
		ID:             uuid.New(),
		CouponID:       coupon.ID,
		CampaignID:     campaign.ID,
		UserID:         req.UserID,
		StationID:      req.StationID,
		FuelType:       req.FuelType,
		OriginalAmount: purchase,
		DiscountAmount: redemption.Discount,
		FinalAmount:    redemption.FinalAmount,
		RaffleTickets:  redemption.RaffleTickets,
		CorrelationID:  correlationID,
		CreatedAt:      now,
	}
	if err := s.usageRepo.InsertUsageRecord(ctx, tx, record); err != nil {
		return false, nil, err
	}

	// The success attempt commits with the redemption so the audit trail for
	// successful redemptions is never lost.
	success := &model.ValidationAttempt{
		ID:         uuid.New(),
		CouponCode: coupon.Code,
		Outcome:    model.OutcomeSuccess,
		UserID:     req.UserID,
		StationID:  req.StationID,
		ClientIP:   req.ClientIP,
		CreatedAt:  now,
	}
	if err := s.usageRepo.InsertAttempt(ctx, tx, success); err != nil {
		return false, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("commit redemption: %w", err)
	}

	return false, &model.RedemptionResult{
		Outcome:        model.OutcomeSuccess,
		CouponCode:     coupon.Code,
		DiscountAmount: redemption.Discount,
		FinalAmount:    redemption.FinalAmount,
		RaffleTickets:  redemption.RaffleTickets,
		CouponStatus:   redemption.NewStatus,
		CorrelationID:  correlationID,
	}, nil
}

// mapUseError converts a domain Use failure into the matching pipeline outcome.
func (s *RedemptionService) mapUseError(req *model.RedeemRequest, coupon *model.Coupon, err error, now time.Time) *model.RedemptionResult {
	switch {
	case errors.Is(err, model.ErrCouponExpired):
		return s.fail(req, coupon.Code, model.OutcomeExpired, "coupon expired", now)
	case errors.Is(err, model.ErrNotYetValid):
		return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "validity window not started", now)
	case errors.Is(err, model.ErrWrongStation):
		return s.fail(req, coupon.Code, model.OutcomeWrongStation, "station not covered", now)
	case errors.Is(err, model.ErrWrongFuelType):
		return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "fuel type not covered", now)
	case errors.Is(err, model.ErrBelowMinPurchase):
		return s.fail(req, coupon.Code, model.OutcomeNotApplicable, "below minimum purchase", now)
	default:
		if coupon.Status == model.CouponSuspended {
			return s.fail(req, coupon.Code, model.OutcomeSuspended, "coupon suspended", now)
		}
		return s.fail(req, coupon.Code, model.OutcomeAlreadyUsed, "coupon "+string(coupon.Status), now)
	}
}

// fail records a failed attempt and builds the matching result. Failure
// attempts are appended best-effort off the critical path.
func (s *RedemptionService) fail(req *model.RedeemRequest, code string, outcome model.ValidationOutcome, reason string, now time.Time) *model.RedemptionResult {
	s.logAttemptAsync(&model.ValidationAttempt{
		ID:         uuid.New(),
		CouponCode: code,
		Outcome:    outcome,
		Reason:     reason,
		UserID:     req.UserID,
		StationID:  req.StationID,
		ClientIP:   req.ClientIP,
		CreatedAt:  now,
	})
	return &model.RedemptionResult{Outcome: outcome, Reason: reason, CouponCode: code}
}

// internal records an unexpected failure in the attempt log so the audit
// trail stays complete, then maps the error so no raw storage error escapes.
func (s *RedemptionService) internal(req *model.RedeemRequest, code string, now time.Time, err error) (*model.RedemptionResult, error) {
	log.Error().Err(err).Str("coupon_code", code).Msg("redemption pipeline internal error")
	s.logAttemptAsync(&model.ValidationAttempt{
		ID:         uuid.New(),
		CouponCode: code,
		Outcome:    model.OutcomeInvalidCode,
		Reason:     "internal error",
		UserID:     req.UserID,
		StationID:  req.StationID,
		ClientIP:   req.ClientIP,
		CreatedAt:  now,
	})
	return nil, ErrStorageUnavailable
}

func (s *RedemptionService) logAttemptAsync(a *model.ValidationAttempt) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.usageRepo.LogAttempt(ctx, a); err != nil {
			log.Warn().Err(err).Str("coupon_code", a.CouponCode).Msg("failed to append validation attempt")
		}
	}()
}

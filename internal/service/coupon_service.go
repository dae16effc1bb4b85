package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/qrcode"
	"github.com/fairyhunter13/fuel-coupon-engine/pkg/database"
)

// casRetryLimit bounds optimistic-concurrency retries. Losing more races than
// this surfaces ErrConcurrencyConflict instead of spinning.
const casRetryLimit = 3

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	Insert(ctx context.Context, c *model.Coupon) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Coupon, error)
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	UpdateCAS(ctx context.Context, tx database.TxQuerier, c *model.Coupon, expectedVersion int) error
	UpdateQR(ctx context.Context, id uuid.UUID, payload, signature string, generatedAt time.Time) error
}

// GenerateOptions bounds bulk coupon generation.
type GenerateOptions struct {
	Workers      int
	CodeRetries  int
	MaxBatchSize int
}

// CancellationResult reports the outcome of a coupon cancellation.
type CancellationResult struct {
	CouponID        uuid.UUID          `json:"coupon_id"`
	Status          model.CouponStatus `json:"status"`
	RefundPercent   int64              `json:"refund_percent"`
	RefundAmount    decimal.Decimal    `json:"refund_amount"`
	RefundProcessed bool               `json:"refund_processed"`
}

// CouponService issues, cancels and re-signs coupons. Campaign capacity is
// reserved atomically before any generation fans out.
type CouponService struct {
	db           database.TxQuerier
	campaignRepo CampaignRepositoryInterface
	couponRepo   CouponRepositoryInterface
	signer       *qrcode.Signer
	clock        Clock
	publisher    EventPublisher
	payment      PaymentProcessor
	refund       model.RefundPolicy
	gen          GenerateOptions
}

// NewCouponService creates a CouponService.
func NewCouponService(db database.TxQuerier, campaignRepo CampaignRepositoryInterface, couponRepo CouponRepositoryInterface,
	signer *qrcode.Signer, clock Clock, publisher EventPublisher, payment PaymentProcessor,
	refund model.RefundPolicy, gen GenerateOptions) *CouponService {
	return &CouponService{
		db:           db,
		campaignRepo: campaignRepo,
		couponRepo:   couponRepo,
		signer:       signer,
		clock:        clock,
		publisher:    publisher,
		payment:      payment,
		refund:       refund,
		gen:          gen,
	}
}

// codeAlphabet excludes easily confused characters (I, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newCouponCode generates a code in the XXXX-XXXX-XXXX format.
func newCouponCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, 14)
	for i := range buf {
		if i == 4 || i == 9 {
			buf[i] = '-'
			continue
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate coupon code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// signedFields assembles the canonical field set the QR signature covers.
// The same assembly runs at issuance and at verification so a mismatch in any
// field invalidates the signature.
func signedFields(c *model.Coupon, campaign *model.Campaign) qrcode.SignedFields {
	percent := decimal.Zero
	if campaign.Discount.Type == model.DiscountPercentage {
		percent = campaign.Discount.Value
	}
	return qrcode.SignedFields{
		Payload:         c.QRPayload,
		DiscountAmount:  c.DiscountValue,
		DiscountPercent: percent,
		RaffleTickets:   c.RaffleTickets,
		ValidFrom:       c.ValidFrom,
		ValidUntil:      c.ValidUntil,
		Terms:           c.Terms,
	}
}

// Issue generates a single coupon against the campaign. Capacity is reserved
// before generation; a code collision is retried with a fresh code.
func (s *CouponService) Issue(ctx context.Context, campaignID uuid.UUID, req *model.IssueCouponRequest) (*model.Coupon, error) {
	campaign, err := s.loadForGeneration(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := s.campaignRepo.ReserveCapacity(ctx, campaignID, 1); err != nil {
		return nil, err
	}

	coupon, err := s.generateOne(ctx, campaign, req)
	if err != nil {
		if relErr := s.campaignRepo.ReleaseCapacity(ctx, campaignID, 1); relErr != nil {
			log.Error().Err(relErr).Str("campaign_id", campaignID.String()).Msg("failed to release reserved capacity")
		}
		return nil, err
	}

	publishAll(ctx, s.publisher, []model.Event{model.NewCouponCreated(coupon, s.clock.Now())})
	return coupon, nil
}

// GenerateBatch generates count coupons with a bounded worker pool. Capacity
// for the whole batch is reserved atomically before fan-out; slots for
// coupons that could not be generated are released afterwards.
func (s *CouponService) GenerateBatch(ctx context.Context, campaignID uuid.UUID, count int, req *model.IssueCouponRequest) ([]*model.Coupon, error) {
	if count <= 0 || (s.gen.MaxBatchSize > 0 && count > s.gen.MaxBatchSize) {
		return nil, ErrInvalidInput
	}

	campaign, err := s.loadForGeneration(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := s.campaignRepo.ReserveCapacity(ctx, campaignID, count); err != nil {
		return nil, err
	}

	workers := s.gen.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > count {
		workers = count
	}

	jobs := make(chan struct{}, count)
	for i := 0; i < count; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	results := make(chan *model.Coupon, count)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if ctx.Err() != nil {
					return
				}
				coupon, err := s.generateOne(ctx, campaign, req)
				if err != nil {
					log.Error().Err(err).Str("campaign_id", campaignID.String()).Msg("batch coupon generation failed")
					continue
				}
				results <- coupon
			}
		}()
	}
	wg.Wait()
	close(results)

	coupons := make([]*model.Coupon, 0, count)
	for c := range results {
		coupons = append(coupons, c)
	}

	if unused := count - len(coupons); unused > 0 {
		if err := s.campaignRepo.ReleaseCapacity(ctx, campaignID, unused); err != nil {
			log.Error().Err(err).Str("campaign_id", campaignID.String()).Int("unused", unused).
				Msg("failed to release reserved capacity after partial batch")
		}
	}
	if len(coupons) == 0 {
		return nil, fmt.Errorf("%w: no coupons generated", ErrStorageUnavailable)
	}

	now := s.clock.Now()
	for _, c := range coupons {
		publishAll(ctx, s.publisher, []model.Event{model.NewCouponCreated(c, now)})
	}
	return coupons, nil
}

func (s *CouponService) loadForGeneration(ctx context.Context, campaignID uuid.UUID) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if !campaign.AllowsCouponGeneration() {
		return nil, ErrInvalidTransition
	}
	return campaign, nil
}

// generateOne builds, signs and persists a coupon, retrying on code collision.
func (s *CouponService) generateOne(ctx context.Context, campaign *model.Campaign, req *model.IssueCouponRequest) (*model.Coupon, error) {
	now := s.clock.Now()

	maxUses := 1
	validUntil := campaign.EndDate
	var assignedUser *string
	if req != nil {
		if req.MaxUses != nil {
			maxUses = *req.MaxUses
		}
		if req.ValidUntil != nil && req.ValidUntil.Before(campaign.EndDate) {
			validUntil = *req.ValidUntil
		}
		assignedUser = req.AssignedUser
	}

	// Fixed-amount coupons carry the rule value as a face value; percentage
	// coupons are value-capped by the rule at redemption time, not here.
	faceValue := decimal.Zero
	if campaign.Discount.Type == model.DiscountFixedAmount {
		faceValue = campaign.Discount.Value
	}

	retries := s.gen.CodeRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		code, err := newCouponCode()
		if err != nil {
			return nil, err
		}
		token, err := qrcode.NewToken()
		if err != nil {
			return nil, err
		}

		coupon := &model.Coupon{
			ID:             uuid.New(),
			CampaignID:     campaign.ID,
			Code:           code,
			QRPayload:      qrcode.Encode(campaign.Seq, now, token, code),
			QRGeneratedAt:  now,
			Status:         model.CouponActive,
			DiscountValue:  faceValue,
			RemainingValue: faceValue,
			RaffleTickets:  campaign.RaffleTickets,
			ValidFrom:      campaign.StartDate,
			ValidUntil:     validUntil,
			MaxUses:        maxUses,
			AssignedUser:   assignedUser,
			Terms:          campaign.Terms,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		coupon.Signature = s.signer.Sign(signedFields(coupon, campaign))

		if err := s.couponRepo.Insert(ctx, coupon); err != nil {
			if errors.Is(err, ErrDuplicateCode) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return coupon, nil
	}
	return nil, fmt.Errorf("coupon code collisions exhausted retries: %w", lastErr)
}

// GetByCode returns the coupon or ErrCouponNotFound.
func (s *CouponService) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	coupon, err := s.couponRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	return coupon, nil
}

// Cancel cancels a coupon, computing the tiered refund owed for the elapsed
// time since issuance. The refund is processed through the payment port when
// requested; a refund failure is logged and left for out-of-band retry, the
// cancellation itself stands.
func (s *CouponService) Cancel(ctx context.Context, couponID uuid.UUID, req *model.CancelCouponRequest) (*CancellationResult, error) {
	if req == nil {
		return nil, ErrInvalidInput
	}

	var (
		cancelled model.Coupon
		refund    model.Refund
		events    []model.Event
	)
	err := s.withCASRetry(ctx, couponID, func(coupon *model.Coupon) (model.Coupon, error) {
		var err error
		cancelled, refund, events, err = coupon.Cancel(req.Reason, s.refund, s.clock.Now())
		return cancelled, err
	})
	if err != nil {
		return nil, err
	}

	result := &CancellationResult{
		CouponID:      couponID,
		Status:        cancelled.Status,
		RefundPercent: refund.Percent,
		RefundAmount:  refund.Amount,
	}

	if req.RequestRefund && refund.Amount.IsPositive() {
		if err := s.payment.ProcessRefund(ctx, couponID.String(), refund.Amount); err != nil {
			log.Error().Err(err).Str("coupon_id", couponID.String()).
				Str("amount", refund.Amount.String()).Msg("refund processing failed, needs manual retry")
		} else {
			result.RefundProcessed = true
		}
	}

	publishAll(ctx, s.publisher, events)
	return result, nil
}

// Suspend suspends an active coupon.
func (s *CouponService) Suspend(ctx context.Context, couponID uuid.UUID) error {
	var events []model.Event
	err := s.withCASRetry(ctx, couponID, func(coupon *model.Coupon) (model.Coupon, error) {
		updated, evs, err := coupon.Suspend(s.clock.Now())
		events = evs
		return updated, err
	})
	if err != nil {
		return err
	}
	publishAll(ctx, s.publisher, events)
	return nil
}

// Reactivate moves a suspended coupon back to active.
func (s *CouponService) Reactivate(ctx context.Context, couponID uuid.UUID) error {
	var events []model.Event
	err := s.withCASRetry(ctx, couponID, func(coupon *model.Coupon) (model.Coupon, error) {
		updated, evs, err := coupon.Reactivate(s.clock.Now())
		events = evs
		return updated, err
	})
	if err != nil {
		return err
	}
	publishAll(ctx, s.publisher, events)
	return nil
}

// RegenerateQR replaces the coupon's QR payload and signature with fresh
// values. The previous QR code stops verifying because the stored payload no
// longer matches it.
func (s *CouponService) RegenerateQR(ctx context.Context, couponID uuid.UUID) (*model.Coupon, error) {
	coupon, err := s.couponRepo.GetByID(ctx, couponID)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	if coupon.IsFinalState() {
		return nil, ErrInvalidTransition
	}

	campaign, err := s.campaignRepo.GetByID(ctx, coupon.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}

	now := s.clock.Now()
	token, err := qrcode.NewToken()
	if err != nil {
		return nil, err
	}

	coupon.QRPayload = qrcode.Encode(campaign.Seq, now, token, coupon.Code)
	coupon.QRGeneratedAt = now
	coupon.Signature = s.signer.Sign(signedFields(coupon, campaign))

	if err := s.couponRepo.UpdateQR(ctx, couponID, coupon.QRPayload, coupon.Signature, now); err != nil {
		return nil, err
	}
	return coupon, nil
}

// withCASRetry loads the coupon, applies op, and persists the result with an
// optimistic version check, re-reading on a lost race up to casRetryLimit.
func (s *CouponService) withCASRetry(ctx context.Context, couponID uuid.UUID, op func(*model.Coupon) (model.Coupon, error)) error {
	for attempt := 0; attempt <= casRetryLimit; attempt++ {
		coupon, err := s.couponRepo.GetByID(ctx, couponID)
		if err != nil {
			return fmt.Errorf("get coupon: %w", err)
		}
		if coupon == nil {
			return ErrCouponNotFound
		}

		updated, err := op(coupon)
		if err != nil {
			if errors.Is(err, model.ErrInvalidTransition) {
				return ErrInvalidTransition
			}
			return err
		}

		err = s.couponRepo.UpdateCAS(ctx, s.db, &updated, coupon.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return ErrConcurrencyConflict
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/pkg/database"
)

// CampaignRepositoryInterface defines the interface for campaign data access.
type CampaignRepositoryInterface interface {
	Insert(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	GetBySeq(ctx context.Context, seq int64) (*model.Campaign, error)
	GetByName(ctx context.Context, name string) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) error
	ReserveCapacity(ctx context.Context, id uuid.UUID, n int) error
	ReleaseCapacity(ctx context.Context, id uuid.UUID, n int) error
	RecordSpend(ctx context.Context, tx database.TxQuerier, id uuid.UUID, amount decimal.Decimal) error
}

// CampaignService is the campaign registry: the single source of truth for
// whether a campaign may still produce or accept coupons.
type CampaignService struct {
	repo      CampaignRepositoryInterface
	clock     Clock
	publisher EventPublisher
}

// NewCampaignService creates a CampaignService.
func NewCampaignService(repo CampaignRepositoryInterface, clock Clock, publisher EventPublisher) *CampaignService {
	return &CampaignService{repo: repo, clock: clock, publisher: publisher}
}

// Create validates and persists a new campaign in Draft status.
// Returns ErrDuplicateName, model.ErrInvalidDateRange, ErrInvalidBudget or
// model.ErrConflictingDiscount on rule violations.
func (s *CampaignService) Create(ctx context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	if req == nil {
		return nil, ErrInvalidInput
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, model.ErrInvalidDateRange
	}

	// Cheap precheck for a friendly error; the unique constraint on the name
	// column still backstops concurrent creates.
	existing, err := s.repo.GetByName(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("check campaign name: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateName
	}

	rule, err := parseDiscountRule(req)
	if err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var budget *decimal.Decimal
	if req.Budget != nil {
		b, err := decimal.NewFromString(*req.Budget)
		if err != nil || !b.IsPositive() {
			return nil, ErrInvalidBudget
		}
		budget = &b
	}

	now := s.clock.Now()
	campaign := &model.Campaign{
		ID:                uuid.New(),
		Name:              req.Name,
		Discount:          rule,
		TotalUsageLimit:   req.TotalUsageLimit,
		PerUserUsageLimit: req.PerUserUsageLimit,
		MaxCoupons:        req.MaxCoupons,
		Budget:            budget,
		SpentAmount:       decimal.Zero,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		Status:            model.CampaignDraft,
		Stations:          req.Stations,
		FuelTypes:         req.FuelTypes,
		RaffleTickets:     req.RaffleTickets,
		Terms:             req.Terms,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func parseDiscountRule(req *model.CreateCampaignRequest) (model.DiscountRule, error) {
	value, err := decimal.NewFromString(req.DiscountValue)
	if err != nil {
		return model.DiscountRule{}, ErrInvalidInput
	}

	minPurchase := decimal.Zero
	if req.MinPurchase != "" {
		if minPurchase, err = decimal.NewFromString(req.MinPurchase); err != nil {
			return model.DiscountRule{}, ErrInvalidInput
		}
	}

	var maxDiscount *decimal.Decimal
	if req.MaxDiscount != nil {
		m, err := decimal.NewFromString(*req.MaxDiscount)
		if err != nil {
			return model.DiscountRule{}, ErrInvalidInput
		}
		maxDiscount = &m
	}

	return model.DiscountRule{
		Type:        model.DiscountType(req.DiscountType),
		Value:       value,
		MinPurchase: minPurchase,
		MaxDiscount: maxDiscount,
	}, nil
}

// GetByID returns the campaign or ErrCampaignNotFound.
func (s *CampaignService) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	campaign, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	return campaign, nil
}

// Activate moves a campaign to Active. Activation fails with ErrAlreadyExpired
// when the campaign's end date has passed.
func (s *CampaignService) Activate(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return s.transition(ctx, id, model.CampaignActive, func(c *model.Campaign, now time.Time) error {
		if now.After(c.EndDate) {
			return ErrAlreadyExpired
		}
		return nil
	})
}

// Pause moves an Active campaign to Paused.
func (s *CampaignService) Pause(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return s.transition(ctx, id, model.CampaignPaused, nil)
}

// Complete moves an Active or Paused campaign to the terminal Completed status.
func (s *CampaignService) Complete(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return s.transition(ctx, id, model.CampaignCompleted, nil)
}

// Cancel moves a campaign to the terminal Cancelled status.
func (s *CampaignService) Cancel(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return s.transition(ctx, id, model.CampaignCancelled, nil)
}

// transition applies a status change gated by the campaign state machine.
// The guard runs extra checks specific to the target status.
func (s *CampaignService) transition(ctx context.Context, id uuid.UUID, to model.CampaignStatus,
	guard func(c *model.Campaign, now time.Time) error) (*model.Campaign, error) {

	campaign, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !model.CanTransitionCampaign(campaign.Status, to) {
		return nil, ErrInvalidTransition
	}
	now := s.clock.Now()
	if guard != nil {
		if err := guard(campaign, now); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateStatus(ctx, id, campaign.Status, to); err != nil {
		return nil, err
	}

	from := campaign.Status
	campaign.Status = to
	campaign.UpdatedAt = now
	publishAll(ctx, s.publisher, []model.Event{model.NewCampaignStatusChanged(campaign, from, now)})
	return campaign, nil
}

// ReserveCapacity atomically reserves n coupon slots before bulk generation.
func (s *CampaignService) ReserveCapacity(ctx context.Context, id uuid.UUID, n int) error {
	if n <= 0 {
		return ErrInvalidInput
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return s.repo.ReserveCapacity(ctx, id, n)
}

// RecordSpend adds to the campaign ledger inside the given transaction.
// Returns ErrNegativeAmount for negative amounts and ErrBudgetExceeded when
// the spend would overrun the budget or usage limit.
func (s *CampaignService) RecordSpend(ctx context.Context, tx database.TxQuerier, id uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	return s.repo.RecordSpend(ctx, tx, id, amount)
}

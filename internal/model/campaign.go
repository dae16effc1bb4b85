package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// campaignTransitions is the closed set of legal campaign status transitions.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:  {CampaignActive, CampaignCancelled},
	CampaignActive: {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused: {CampaignActive, CampaignCompleted, CampaignCancelled},
}

// CanTransitionCampaign reports whether a campaign may move from one status to another.
// Completed and Cancelled are terminal.
func CanTransitionCampaign(from, to CampaignStatus) bool {
	for _, allowed := range campaignTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DiscountType distinguishes fixed-amount from percentage discounts.
type DiscountType string

const (
	DiscountFixedAmount DiscountType = "fixed_amount"
	DiscountPercentage  DiscountType = "percentage"
)

// DiscountRule describes how a campaign computes the discount for a purchase.
type DiscountRule struct {
	Type        DiscountType     `json:"type"`
	Value       decimal.Decimal  `json:"value"`
	MinPurchase decimal.Decimal  `json:"min_purchase"`
	MaxDiscount *decimal.Decimal `json:"max_discount,omitempty"`
}

// hundred is used for percentage math.
var hundred = decimal.NewFromInt(100)

// DiscountFor computes the discount this rule grants for a purchase amount.
// Returns zero when the purchase is below the minimum. The result is capped at
// MaxDiscount for percentage rules and never exceeds the purchase amount.
func (r DiscountRule) DiscountFor(purchase decimal.Decimal) decimal.Decimal {
	if purchase.LessThan(r.MinPurchase) {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch r.Type {
	case DiscountPercentage:
		d = purchase.Mul(r.Value).Div(hundred).Round(2)
		if r.MaxDiscount != nil && d.GreaterThan(*r.MaxDiscount) {
			d = *r.MaxDiscount
		}
	case DiscountFixedAmount:
		d = r.Value
	default:
		return decimal.Zero
	}

	if d.GreaterThan(purchase) {
		d = purchase
	}
	return d
}

// Validate checks the rule for internally conflicting values.
func (r DiscountRule) Validate() error {
	switch r.Type {
	case DiscountFixedAmount, DiscountPercentage:
	default:
		return ErrConflictingDiscount
	}
	if !r.Value.IsPositive() {
		return ErrConflictingDiscount
	}
	if r.Type == DiscountPercentage && r.Value.GreaterThan(hundred) {
		return ErrConflictingDiscount
	}
	if r.Type == DiscountFixedAmount && r.MaxDiscount != nil {
		// Max-discount caps only make sense for percentage rules.
		return ErrConflictingDiscount
	}
	if r.MinPurchase.IsNegative() {
		return ErrConflictingDiscount
	}
	return nil
}

// Campaign is a time-boxed marketing configuration that authorizes coupon
// issuance and redemption under a discount/budget policy.
type Campaign struct {
	ID                uuid.UUID        `json:"id"`
	Seq               int64            `json:"seq"` // sequential number embedded in QR payloads
	Name              string           `json:"name"`
	Discount          DiscountRule     `json:"discount"`
	TotalUsageLimit   *int             `json:"total_usage_limit,omitempty"`
	PerUserUsageLimit *int             `json:"per_user_usage_limit,omitempty"`
	CurrentUsageCount int              `json:"current_usage_count"`
	MaxCoupons        *int             `json:"max_coupons,omitempty"`
	IssuedCoupons     int              `json:"issued_coupons"`
	Budget            *decimal.Decimal `json:"budget,omitempty"` // nil = unlimited
	SpentAmount       decimal.Decimal  `json:"spent_amount"`
	StartDate         time.Time        `json:"start_date"`
	EndDate           time.Time        `json:"end_date"`
	Status            CampaignStatus   `json:"status"`
	Stations          []string         `json:"stations,omitempty"`   // empty = all stations
	FuelTypes         []string         `json:"fuel_types,omitempty"` // empty = all fuel types
	RaffleTickets     int              `json:"raffle_tickets"`
	Terms             string           `json:"terms,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// AllowsCouponGeneration reports whether coupons may be generated against the
// campaign. Draft and Paused allow generation (bulk pre-generation commonly
// happens before activation) but not redemption.
func (c *Campaign) AllowsCouponGeneration() bool {
	switch c.Status {
	case CampaignDraft, CampaignActive, CampaignPaused:
		return true
	}
	return false
}

// AllowsCouponUsage reports whether coupons of this campaign may be redeemed.
// Only Active campaigns accept redemptions.
func (c *Campaign) AllowsCouponUsage() bool {
	return c.Status == CampaignActive
}

// IsEditable reports whether campaign fields may still be changed.
func (c *Campaign) IsEditable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignPaused
}

// AppliesTo reports whether a redemption at the given station with the given
// fuel type falls inside the campaign's applicability sets.
func (c *Campaign) AppliesTo(stationID, fuelType string) (station, fuel bool) {
	station = len(c.Stations) == 0
	for _, s := range c.Stations {
		if s == stationID {
			station = true
			break
		}
	}
	fuel = len(c.FuelTypes) == 0
	for _, f := range c.FuelTypes {
		if f == fuelType {
			fuel = true
			break
		}
	}
	return station, fuel
}

// CreateCampaignRequest is the DTO for creating a campaign.
type CreateCampaignRequest struct {
	Name              string    `json:"name" validate:"required,notblank,max=255"`
	DiscountType      string    `json:"discount_type" validate:"required,oneof=fixed_amount percentage"`
	DiscountValue     string    `json:"discount_value" validate:"required"`
	MinPurchase       string    `json:"min_purchase"`
	MaxDiscount       *string   `json:"max_discount"`
	TotalUsageLimit   *int      `json:"total_usage_limit" validate:"omitempty,gte=1"`
	PerUserUsageLimit *int      `json:"per_user_usage_limit" validate:"omitempty,gte=1"`
	MaxCoupons        *int      `json:"max_coupons" validate:"omitempty,gte=1"`
	Budget            *string   `json:"budget"`
	StartDate         time.Time `json:"start_date" validate:"required"`
	EndDate           time.Time `json:"end_date" validate:"required"`
	Stations          []string  `json:"stations"`
	FuelTypes         []string  `json:"fuel_types"`
	RaffleTickets     int       `json:"raffle_tickets" validate:"gte=0"`
	Terms             string    `json:"terms" validate:"max=2000"`
}

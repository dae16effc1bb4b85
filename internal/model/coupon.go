package model

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponStatus is the lifecycle state of a coupon.
type CouponStatus string

const (
	CouponActive            CouponStatus = "active"
	CouponUsed              CouponStatus = "used"
	CouponPartiallyRedeemed CouponStatus = "partially_redeemed"
	CouponExpired           CouponStatus = "expired"
	CouponCancelled         CouponStatus = "cancelled"
	CouponSuspended         CouponStatus = "suspended"
)

// couponTransitions is the closed set of legal coupon status transitions.
// Used, Expired and Cancelled are terminal.
var couponTransitions = map[CouponStatus][]CouponStatus{
	CouponActive:            {CouponUsed, CouponPartiallyRedeemed, CouponExpired, CouponCancelled, CouponSuspended},
	CouponPartiallyRedeemed: {CouponUsed, CouponPartiallyRedeemed, CouponExpired, CouponCancelled, CouponSuspended},
	CouponSuspended:         {CouponActive, CouponExpired, CouponCancelled},
}

// CanTransitionCoupon reports whether a coupon may move from one status to another.
func CanTransitionCoupon(from, to CouponStatus) bool {
	for _, allowed := range couponTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// couponCodePattern is the accepted shape of a coupon code. Codes never contain
// underscores: the QR payload uses underscore as its field separator.
var couponCodePattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// ValidCouponCode reports whether a string is a well-formed coupon code.
func ValidCouponCode(code string) bool {
	return couponCodePattern.MatchString(code)
}

// Coupon is a single redeemable unit tied to one campaign, carrying a signed
// QR payload. The Version field backs optimistic concurrency on updates.
type Coupon struct {
	ID             uuid.UUID         `json:"id"`
	CampaignID     uuid.UUID         `json:"campaign_id"`
	Code           string            `json:"code"`
	QRPayload      string            `json:"qr_payload"`
	Signature      string            `json:"signature"`
	QRGeneratedAt  time.Time         `json:"qr_generated_at"`
	Status         CouponStatus      `json:"status"`
	DiscountValue  decimal.Decimal   `json:"discount_value"`
	RemainingValue decimal.Decimal   `json:"remaining_value"`
	RaffleTickets  int               `json:"raffle_tickets"`
	ValidFrom      time.Time         `json:"valid_from"`
	ValidUntil     time.Time         `json:"valid_until"`
	CurrentUses    int               `json:"current_uses"`
	MaxUses        int               `json:"max_uses"`
	AssignedUser   *string           `json:"assigned_user,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Terms          string            `json:"terms,omitempty"`
	Version        int               `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// AllowsUsage reports whether the coupon may still be redeemed.
func (c *Coupon) AllowsUsage() bool {
	return c.Status == CouponActive || c.Status == CouponPartiallyRedeemed
}

// IsFinalState reports whether the coupon can never be redeemed again.
func (c *Coupon) IsFinalState() bool {
	switch c.Status {
	case CouponUsed, CouponExpired, CouponCancelled:
		return true
	}
	return false
}

// Redemption is the result of a successful Use.
type Redemption struct {
	Discount      decimal.Decimal
	FinalAmount   decimal.Decimal
	RaffleTickets int
	NewStatus     CouponStatus
}

// Use applies the coupon to a purchase and returns the updated coupon state
// together with the redemption details and the events to dispatch. The
// receiver is not mutated; the caller persists the returned state.
func (c Coupon) Use(campaign *Campaign, purchase decimal.Decimal, fuelType, stationID string, now time.Time) (Coupon, Redemption, []Event, error) {
	if !c.AllowsUsage() {
		return c, Redemption{}, nil, ErrNotActive
	}
	if !now.Before(c.ValidUntil) {
		return c, Redemption{}, nil, ErrCouponExpired
	}
	if now.Before(c.ValidFrom) {
		return c, Redemption{}, nil, ErrNotYetValid
	}
	stationOK, fuelOK := campaign.AppliesTo(stationID, fuelType)
	if !stationOK {
		return c, Redemption{}, nil, ErrWrongStation
	}
	if !fuelOK {
		return c, Redemption{}, nil, ErrWrongFuelType
	}
	if purchase.LessThan(campaign.Discount.MinPurchase) {
		return c, Redemption{}, nil, ErrBelowMinPurchase
	}

	discount := campaign.Discount.DiscountFor(purchase)

	// Value-based coupons carry a face value; the applied discount never
	// exceeds what is left of it. Percentage coupons have no stored value.
	valueBased := c.DiscountValue.IsPositive()
	if valueBased {
		if discount.GreaterThan(c.RemainingValue) {
			discount = c.RemainingValue
		}
		c.RemainingValue = c.RemainingValue.Sub(discount)
	}
	c.CurrentUses++

	prev := c.Status
	if c.CurrentUses >= c.MaxUses || (valueBased && c.RemainingValue.IsZero()) {
		c.Status = CouponUsed
	} else {
		c.Status = CouponPartiallyRedeemed
	}
	c.UpdatedAt = now

	events := []Event{NewCouponUsed(&c, stationID, discount, now)}
	if c.Status != prev {
		events = append(events, NewCouponStatusChanged(&c, prev, now))
	}

	return c, Redemption{
		Discount:      discount,
		FinalAmount:   purchase.Sub(discount),
		RaffleTickets: c.RaffleTickets,
		NewStatus:     c.Status,
	}, events, nil
}

// RefundTier grants Percent of the coupon's remaining value when cancellation
// happens within Within of issuance.
type RefundTier struct {
	Within  time.Duration
	Percent int64
}

// RefundPolicy computes refund percentages by elapsed time since issuance.
// Tiers must be ordered by ascending Within; elapsed time past the last tier
// refunds nothing.
type RefundPolicy struct {
	Tiers []RefundTier
}

// DefaultRefundPolicy refunds 100% within 2h of issuance and 90% within 24h.
func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{Tiers: []RefundTier{
		{Within: 2 * time.Hour, Percent: 100},
		{Within: 24 * time.Hour, Percent: 90},
	}}
}

// PercentFor returns the refund percentage for a coupon issued at the given time.
func (p RefundPolicy) PercentFor(issuedAt, now time.Time) int64 {
	elapsed := now.Sub(issuedAt)
	for _, tier := range p.Tiers {
		if elapsed <= tier.Within {
			return tier.Percent
		}
	}
	return 0
}

// Refund describes the outcome of a cancellation.
type Refund struct {
	Percent int64
	Amount  decimal.Decimal
}

// Cancel moves the coupon to Cancelled and computes the refund owed under the
// given policy. Returns ErrInvalidTransition when the coupon is already in a
// final state.
func (c Coupon) Cancel(reason string, policy RefundPolicy, now time.Time) (Coupon, Refund, []Event, error) {
	if !CanTransitionCoupon(c.Status, CouponCancelled) {
		return c, Refund{}, nil, ErrInvalidTransition
	}

	percent := policy.PercentFor(c.CreatedAt, now)
	amount := c.RemainingValue.Mul(decimal.NewFromInt(percent)).Div(hundred).Round(2)

	prev := c.Status
	c.Status = CouponCancelled
	c.UpdatedAt = now

	events := []Event{
		NewCouponCancelled(&c, reason, now),
		NewCouponStatusChanged(&c, prev, now),
	}
	return c, Refund{Percent: percent, Amount: amount}, events, nil
}

// Suspend moves the coupon to Suspended.
func (c Coupon) Suspend(now time.Time) (Coupon, []Event, error) {
	if !CanTransitionCoupon(c.Status, CouponSuspended) {
		return c, nil, ErrInvalidTransition
	}
	prev := c.Status
	c.Status = CouponSuspended
	c.UpdatedAt = now
	return c, []Event{NewCouponStatusChanged(&c, prev, now)}, nil
}

// Reactivate moves a Suspended coupon back to Active.
func (c Coupon) Reactivate(now time.Time) (Coupon, []Event, error) {
	if c.Status != CouponSuspended {
		return c, nil, ErrInvalidTransition
	}
	prev := c.Status
	c.Status = CouponActive
	c.UpdatedAt = now
	return c, []Event{NewCouponStatusChanged(&c, prev, now)}, nil
}

// Expire moves the coupon to Expired once its validity window has passed.
func (c Coupon) Expire(now time.Time) (Coupon, []Event, error) {
	if !CanTransitionCoupon(c.Status, CouponExpired) {
		return c, nil, ErrInvalidTransition
	}
	prev := c.Status
	c.Status = CouponExpired
	c.UpdatedAt = now
	return c, []Event{NewCouponStatusChanged(&c, prev, now)}, nil
}

// IssueCouponRequest is the DTO for issuing coupons against a campaign.
// Count greater than 1 requests a bulk batch.
type IssueCouponRequest struct {
	AssignedUser *string    `json:"assigned_user" validate:"omitempty,notblank,max=255"`
	Count        int        `json:"count" validate:"omitempty,gte=0,lte=10000"`
	MaxUses      *int       `json:"max_uses" validate:"omitempty,gte=1"`
	ValidUntil   *time.Time `json:"valid_until"`
}

// CancelCouponRequest is the DTO for cancelling a coupon.
type CancelCouponRequest struct {
	Reason        string `json:"reason" validate:"required,notblank,max=500"`
	RequestRefund bool   `json:"request_refund"`
}

// RedeemRequest is the DTO for validating and redeeming a scanned QR coupon.
type RedeemRequest struct {
	QRPayload      string `json:"qr_payload" validate:"required,notblank"`
	Signature      string `json:"signature" validate:"required,notblank"`
	StationID      string `json:"station_id" validate:"required,notblank,max=64"`
	FuelType       string `json:"fuel_type" validate:"required,notblank,max=32"`
	PurchaseAmount string `json:"purchase_amount" validate:"required"`
	UserID         string `json:"user_id" validate:"required,notblank,max=255"`
	ClientIP       string `json:"-"`
}

package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationOutcome is the closed set of results a validation attempt can produce.
type ValidationOutcome string

const (
	OutcomeSuccess       ValidationOutcome = "success"
	OutcomeInvalidCode   ValidationOutcome = "invalid_code"
	OutcomeExpired       ValidationOutcome = "expired"
	OutcomeAlreadyUsed   ValidationOutcome = "already_used"
	OutcomeSuspended     ValidationOutcome = "suspended"
	OutcomeFraudDetected ValidationOutcome = "fraud_detected"
	OutcomeWrongStation  ValidationOutcome = "wrong_station"
	OutcomeNotApplicable ValidationOutcome = "not_applicable"
)

// UsageRecord is the append-only audit entry written exactly once per
// successful redemption. Records are never mutated or deleted.
type UsageRecord struct {
	ID             uuid.UUID       `json:"id"`
	CouponID       uuid.UUID       `json:"coupon_id"`
	CampaignID     uuid.UUID       `json:"campaign_id"`
	UserID         string          `json:"user_id"`
	StationID      string          `json:"station_id"`
	FuelType       string          `json:"fuel_type"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	RaffleTickets  int             `json:"raffle_tickets"`
	CorrelationID  string          `json:"correlation_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ValidationAttempt is the append-only log entry written for every validation
// attempt, success or failure. It carries the raw coupon code rather than an
// id because a malformed or forged code may not resolve to a coupon at all.
type ValidationAttempt struct {
	ID         uuid.UUID         `json:"id"`
	CouponCode string            `json:"coupon_code"`
	Outcome    ValidationOutcome `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	UserID     string            `json:"user_id"`
	StationID  string            `json:"station_id"`
	ClientIP   string            `json:"client_ip"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RedemptionResult is the API response for a redemption request.
type RedemptionResult struct {
	Outcome        ValidationOutcome `json:"outcome"`
	Reason         string            `json:"reason,omitempty"`
	CouponCode     string            `json:"coupon_code,omitempty"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	FinalAmount    decimal.Decimal   `json:"final_amount"`
	RaffleTickets  int               `json:"raffle_tickets"`
	CouponStatus   CouponStatus      `json:"coupon_status,omitempty"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
}

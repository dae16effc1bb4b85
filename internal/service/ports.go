package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
)

// Clock is the injectable time source. Production wiring uses SystemClock;
// tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// EventPublisher is the fire-and-forget event port. Publish failures are
// logged, never fatal; the core does not depend on delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event model.Event)
}

// LogPublisher writes events to the structured log. It stands in until a
// broker adapter is wired at the edge.
type LogPublisher struct{}

// Publish logs the event.
func (LogPublisher) Publish(_ context.Context, event model.Event) {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("coupon_id", event.CouponID.String()).
		Str("campaign_id", event.CampaignID.String()).
		Msg("domain event")
}

// PaymentProcessor is the payment port consumed by cancellation flows. The
// engine never implements payment protocols itself.
type PaymentProcessor interface {
	ProcessRefund(ctx context.Context, couponID string, amount decimal.Decimal) error
}

// NoopPaymentProcessor acknowledges refunds without moving money. Used in
// environments without a payment gateway.
type NoopPaymentProcessor struct{}

// ProcessRefund logs and succeeds.
func (NoopPaymentProcessor) ProcessRefund(_ context.Context, couponID string, amount decimal.Decimal) error {
	log.Info().Str("coupon_id", couponID).Str("amount", amount.String()).Msg("refund acknowledged (noop)")
	return nil
}

// publishAll dispatches events after state has been persisted.
func publishAll(ctx context.Context, pub EventPublisher, events []model.Event) {
	if pub == nil {
		return
	}
	for _, e := range events {
		pub.Publish(ctx, e)
	}
}

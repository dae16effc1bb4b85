package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType identifies a domain event on the publishing port.
type EventType string

const (
	EventCouponCreated         EventType = "coupon.created"
	EventCouponUsed            EventType = "coupon.used"
	EventCouponStatusChanged   EventType = "coupon.status_changed"
	EventCouponCancelled       EventType = "coupon.cancelled"
	EventCampaignStatusChanged EventType = "campaign.status_changed"
)

// Event is a domain event produced by a mutating operation. Mutating
// operations return events instead of buffering them on the aggregate; the
// application layer dispatches them after the new state is persisted.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	CouponID   uuid.UUID      `json:"coupon_id,omitempty"`
	CampaignID uuid.UUID      `json:"campaign_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func newEvent(t EventType, now time.Time) Event {
	return Event{ID: uuid.New(), Type: t, OccurredAt: now}
}

// NewCouponCreated builds the event emitted when a coupon is issued.
func NewCouponCreated(c *Coupon, now time.Time) Event {
	e := newEvent(EventCouponCreated, now)
	e.CouponID = c.ID
	e.CampaignID = c.CampaignID
	e.Payload = map[string]any{"code": c.Code}
	return e
}

// NewCouponUsed builds the event emitted on a successful redemption.
func NewCouponUsed(c *Coupon, stationID string, discount decimal.Decimal, now time.Time) Event {
	e := newEvent(EventCouponUsed, now)
	e.CouponID = c.ID
	e.CampaignID = c.CampaignID
	e.Payload = map[string]any{
		"code":       c.Code,
		"station_id": stationID,
		"discount":   discount.String(),
	}
	return e
}

// NewCouponStatusChanged builds the event emitted on a coupon status transition.
func NewCouponStatusChanged(c *Coupon, from CouponStatus, now time.Time) Event {
	e := newEvent(EventCouponStatusChanged, now)
	e.CouponID = c.ID
	e.CampaignID = c.CampaignID
	e.Payload = map[string]any{"from": string(from), "to": string(c.Status)}
	return e
}

// NewCouponCancelled builds the event emitted when a coupon is cancelled.
func NewCouponCancelled(c *Coupon, reason string, now time.Time) Event {
	e := newEvent(EventCouponCancelled, now)
	e.CouponID = c.ID
	e.CampaignID = c.CampaignID
	e.Payload = map[string]any{"reason": reason}
	return e
}

// NewCampaignStatusChanged builds the event emitted on a campaign status transition.
func NewCampaignStatusChanged(c *Campaign, from CampaignStatus, now time.Time) Event {
	e := newEvent(EventCampaignStatusChanged, now)
	e.CampaignID = c.ID
	e.Payload = map[string]any{"from": string(from), "to": string(c.Status)}
	return e
}

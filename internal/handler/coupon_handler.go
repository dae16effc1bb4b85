package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/service"
)

// CouponServiceInterface defines the interface for coupon business logic.
type CouponServiceInterface interface {
	Issue(ctx context.Context, campaignID uuid.UUID, req *model.IssueCouponRequest) (*model.Coupon, error)
	GenerateBatch(ctx context.Context, campaignID uuid.UUID, count int, req *model.IssueCouponRequest) ([]*model.Coupon, error)
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	Cancel(ctx context.Context, couponID uuid.UUID, req *model.CancelCouponRequest) (*service.CancellationResult, error)
	Suspend(ctx context.Context, couponID uuid.UUID) error
	Reactivate(ctx context.Context, couponID uuid.UUID) error
	RegenerateQR(ctx context.Context, couponID uuid.UUID) (*model.Coupon, error)
}

// CouponHandler handles HTTP requests for coupon operations.
type CouponHandler struct {
	service   CouponServiceInterface
	validator *validator.Validate
}

// NewCouponHandler creates a new CouponHandler with the given service and validator.
func NewCouponHandler(svc CouponServiceInterface, v *validator.Validate) *CouponHandler {
	return &CouponHandler{service: svc, validator: v}
}

// IssueCoupons handles POST /api/campaigns/:id/coupons. A count greater than
// one generates a batch.
func (h *CouponHandler) IssueCoupons(c *fiber.Ctx) error {
	campaignID, ok := parseID(c, "id")
	if !ok {
		return badID(c, "id")
	}

	req := model.IssueCouponRequest{}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := h.validator.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
		}
	}

	if req.Count > 1 {
		coupons, err := h.service.GenerateBatch(c.Context(), campaignID, req.Count, &req)
		if err != nil {
			return h.issueError(c, campaignID, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"count": len(coupons), "coupons": coupons})
	}

	coupon, err := h.service.Issue(c.Context(), campaignID, &req)
	if err != nil {
		return h.issueError(c, campaignID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(coupon)
}

func (h *CouponHandler) issueError(c *fiber.Ctx, campaignID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, service.ErrCampaignNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "campaign not found"})
	case errors.Is(err, service.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign status does not allow coupon generation"})
	case errors.Is(err, service.ErrCapacityExceeded):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign coupon capacity exceeded"})
	case errors.Is(err, service.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	log.Error().Err(err).Str("campaign_id", campaignID.String()).Msg("failed to issue coupons")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

// GetCoupon handles GET /api/coupons/:code.
func (h *CouponHandler) GetCoupon(c *fiber.Ctx) error {
	code := c.Params("code")
	if !model.ValidCouponCode(code) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: malformed coupon code"})
	}

	coupon, err := h.service.GetByCode(c.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrCouponNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
		}
		log.Error().Err(err).Str("coupon_code", code).Msg("failed to get coupon")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.JSON(coupon)
}

// CancelCoupon handles POST /api/coupons/:id/cancel.
func (h *CouponHandler) CancelCoupon(c *fiber.Ctx) error {
	couponID, ok := parseID(c, "id")
	if !ok {
		return badID(c, "id")
	}

	var req model.CancelCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	result, err := h.service.Cancel(c.Context(), couponID, &req)
	if err != nil {
		return h.couponOpError(c, couponID, err, "failed to cancel coupon")
	}

	log.Info().
		Str("coupon_id", couponID.String()).
		Int64("refund_percent", result.RefundPercent).
		Str("refund_amount", result.RefundAmount.String()).
		Msg("coupon cancelled")

	return c.JSON(result)
}

// SuspendCoupon handles POST /api/coupons/:id/suspend.
func (h *CouponHandler) SuspendCoupon(c *fiber.Ctx) error {
	couponID, ok := parseID(c, "id")
	if !ok {
		return badID(c, "id")
	}
	if err := h.service.Suspend(c.Context(), couponID); err != nil {
		return h.couponOpError(c, couponID, err, "failed to suspend coupon")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ReactivateCoupon handles POST /api/coupons/:id/reactivate.
func (h *CouponHandler) ReactivateCoupon(c *fiber.Ctx) error {
	couponID, ok := parseID(c, "id")
	if !ok {
		return badID(c, "id")
	}
	if err := h.service.Reactivate(c.Context(), couponID); err != nil {
		return h.couponOpError(c, couponID, err, "failed to reactivate coupon")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RegenerateQR handles POST /api/coupons/:id/regenerate-qr. The previous QR
// code stops validating once the new one is issued.
func (h *CouponHandler) RegenerateQR(c *fiber.Ctx) error {
	couponID, ok := parseID(c, "id")
	if !ok {
		return badID(c, "id")
	}

	coupon, err := h.service.RegenerateQR(c.Context(), couponID)
	if err != nil {
		return h.couponOpError(c, couponID, err, "failed to regenerate qr")
	}
	return c.JSON(coupon)
}

func (h *CouponHandler) couponOpError(c *fiber.Ctx, couponID uuid.UUID, err error, msg string) error {
	switch {
	case errors.Is(err, service.ErrCouponNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
	case errors.Is(err, service.ErrCampaignNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "campaign not found"})
	case errors.Is(err, service.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid status transition"})
	case errors.Is(err, service.ErrConcurrencyConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon was updated concurrently, retry"})
	case errors.Is(err, service.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	log.Error().Err(err).Str("coupon_id", couponID.String()).Msg(msg)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

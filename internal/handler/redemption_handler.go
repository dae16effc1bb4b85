package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/service"
)

// RedemptionServiceInterface defines the interface for the validation pipeline.
type RedemptionServiceInterface interface {
	ValidateAndRedeem(ctx context.Context, req *model.RedeemRequest) (*model.RedemptionResult, error)
}

// RedemptionHandler handles HTTP requests for coupon redemption.
type RedemptionHandler struct {
	service   RedemptionServiceInterface
	validator *validator.Validate
}

// NewRedemptionHandler creates a new RedemptionHandler with the given service and validator.
func NewRedemptionHandler(svc RedemptionServiceInterface, v *validator.Validate) *RedemptionHandler {
	return &RedemptionHandler{service: svc, validator: v}
}

// Redeem handles POST /api/redemptions. A completed pipeline always returns
// the result body; the status code distinguishes success (200) from a
// rejected coupon (422) so station clients can differentiate outcomes.
func (h *RedemptionHandler) Redeem(c *fiber.Ctx) error {
	var req model.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}
	req.ClientIP = c.IP()

	result, err := h.service.ValidateAndRedeem(c.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		case errors.Is(err, service.ErrConcurrencyConflict):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon is being redeemed concurrently, retry"})
		case errors.Is(err, service.ErrStorageUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service temporarily unavailable"})
		}
		log.Error().Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("station_id", req.StationID).
			Msg("redemption failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	if result.Outcome != model.OutcomeSuccess {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("coupon_code", result.CouponCode).
		Str("station_id", req.StationID).
		Str("discount", result.DiscountAmount.String()).
		Str("correlation_id", result.CorrelationID).
		Msg("coupon redeemed")

	return c.JSON(result)
}

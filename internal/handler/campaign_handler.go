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

// CampaignServiceInterface defines the interface for campaign business logic.
type CampaignServiceInterface interface {
	Create(ctx context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	Activate(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	Pause(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	Complete(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	Cancel(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
}

// CampaignHandler handles HTTP requests for campaign operations.
type CampaignHandler struct {
	service   CampaignServiceInterface
	validator *validator.Validate
}

// NewCampaignHandler creates a new CampaignHandler with the given service and validator.
func NewCampaignHandler(svc CampaignServiceInterface, v *validator.Validate) *CampaignHandler {
	return &CampaignHandler{service: svc, validator: v}
}

// formatValidationError converts validator errors to stable messages.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			switch fe.Tag() {
			case "required":
				return "invalid request: " + field + " is required"
			case "notblank":
				return "invalid request: " + field + " cannot be whitespace only"
			case "max":
				return "invalid request: " + field + " exceeds maximum length"
			case "gte", "lte", "oneof":
				return "invalid request: " + field + " is out of range"
			default:
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

// parseID reads a UUID path parameter.
func parseID(c *fiber.Ctx, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(param))
	return id, err == nil
}

func badID(c *fiber.Ctx, param string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid request: " + param + " must be a UUID",
	})
}

// CreateCampaign handles POST /api/campaigns.
func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req model.CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	campaign, err := h.service.Create(c.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateName):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign name already exists"})
		case errors.Is(err, model.ErrInvalidDateRange):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "end date must be after start date"})
		case errors.Is(err, service.ErrInvalidBudget):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "budget must be a positive amount"})
		case errors.Is(err, model.ErrConflictingDiscount):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "conflicting discount specification"})
		case errors.Is(err, service.ErrInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		log.Error().Err(err).Str("campaign_name", req.Name).Msg("failed to create campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// GetCampaign handles GET /api/campaigns/:id.
func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c, "id")
	}

	campaign, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrCampaignNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "campaign not found"})
		}
		log.Error().Err(err).Str("campaign_id", id.String()).Msg("failed to get campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.JSON(campaign)
}

// Activate handles POST /api/campaigns/:id/activate.
func (h *CampaignHandler) Activate(c *fiber.Ctx) error {
	return h.transition(c, h.service.Activate)
}

// Pause handles POST /api/campaigns/:id/pause.
func (h *CampaignHandler) Pause(c *fiber.Ctx) error {
	return h.transition(c, h.service.Pause)
}

// Complete handles POST /api/campaigns/:id/complete.
func (h *CampaignHandler) Complete(c *fiber.Ctx) error {
	return h.transition(c, h.service.Complete)
}

// Cancel handles POST /api/campaigns/:id/cancel.
func (h *CampaignHandler) Cancel(c *fiber.Ctx) error {
	return h.transition(c, h.service.Cancel)
}

func (h *CampaignHandler) transition(c *fiber.Ctx, op func(context.Context, uuid.UUID) (*model.Campaign, error)) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c, "id")
	}

	campaign, err := op(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCampaignNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "campaign not found"})
		case errors.Is(err, service.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid status transition"})
		case errors.Is(err, service.ErrAlreadyExpired):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign already expired"})
		case errors.Is(err, service.ErrConcurrencyConflict):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign was updated concurrently, retry"})
		}
		log.Error().Err(err).Str("campaign_id", id.String()).Msg("failed to transition campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().
		Str("campaign_id", campaign.ID.String()).
		Str("status", string(campaign.Status)).
		Msg("campaign status changed")

	return c.JSON(campaign)
}

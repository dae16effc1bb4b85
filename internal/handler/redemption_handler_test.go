package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/service"
	appvalidator "github.com/fairyhunter13/fuel-coupon-engine/internal/validator"
)

// mockRedemptionService is a mock implementation of RedemptionServiceInterface.
type mockRedemptionService struct {
	validateAndRedeemFn func(ctx context.Context, req *model.RedeemRequest) (*model.RedemptionResult, error)
}

func (m *mockRedemptionService) ValidateAndRedeem(ctx context.Context, req *model.RedeemRequest) (*model.RedemptionResult, error) {
	if m.validateAndRedeemFn != nil {
		return m.validateAndRedeemFn(ctx, req)
	}
	return nil, nil
}

func setupRedemptionApp(mockSvc *mockRedemptionService) *fiber.App {
	app := fiber.New()
	validate := appvalidator.New()
	h := NewRedemptionHandler(mockSvc, validate)
	app.Post("/api/redemptions", h.Redeem)
	return app
}

func redeemBody() string {
	return `{
		"qr_payload": "FUEL_V1_000042_20250615143000_a1b2c3d4_AB12-CD34-EF56",
		"signature": "deadbeef",
		"station_id": "ST-001",
		"fuel_type": "diesel",
		"purchase_amount": "80",
		"user_id": "user_001"
	}`
}

func TestRedeem_Success(t *testing.T) {
	var gotReq *model.RedeemRequest
	mockSvc := &mockRedemptionService{
		validateAndRedeemFn: func(ctx context.Context, req *model.RedeemRequest) (*model.RedemptionResult, error) {
			gotReq = req
			return &model.RedemptionResult{
				Outcome:        model.OutcomeSuccess,
				CouponCode:     "AB12-CD34-EF56",
				DiscountAmount: decimal.NewFromInt(10),
				FinalAmount:    decimal.NewFromInt(70),
				CouponStatus:   model.CouponUsed,
				CorrelationID:  "corr-1",
			}, nil
		},
	}
	app := setupRedemptionApp(mockSvc)

	resp := postJSON(t, app, "/api/redemptions", redeemBody())
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result model.RedemptionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "AB12-CD34-EF56", result.CouponCode)

	require.NotNil(t, gotReq)
	assert.NotEmpty(t, gotReq.ClientIP, "the handler stamps the caller address on the request")
	assert.Equal(t, "ST-001", gotReq.StationID)
}

func TestRedeem_RejectedOutcomeIs422(t *testing.T) {
	outcomes := []model.ValidationOutcome{
		model.OutcomeInvalidCode,
		model.OutcomeExpired,
		model.OutcomeAlreadyUsed,
		model.OutcomeSuspended,
		model.OutcomeFraudDetected,
		model.OutcomeWrongStation,
		model.OutcomeNotApplicable,
	}

	for _, outcome := range outcomes {
		t.Run(string(outcome), func(t *testing.T) {
			mockSvc := &mockRedemptionService{
				validateAndRedeemFn: func(ctx context.Context, req *model.RedeemRequest) (*model.RedemptionResult, error) {
					return &model.RedemptionResult{Outcome: outcome, Reason: "rejected"}, nil
				},
			}
			app := setupRedemptionApp(mockSvc)

			resp := postJSON(t, app, "/api/redemptions", redeemBody())
			assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

			var result model.RedemptionResult
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
			assert.Equal(t, outcome, result.Outcome, "the result body still reports the outcome")
		})
	}
}

func TestRedeem_MissingFields(t *testing.T) {
	app := setupRedemptionApp(&mockRedemptionService{})

	resp := postJSON(t, app, "/api/redemptions", `{"qr_payload": "x"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRedeem_MalformedBody(t *testing.T) {
	app := setupRedemptionApp(&mockRedemptionService{})

	resp := postJSON(t, app, "/api/redemptions", "{not json")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRedeem_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid input", service.ErrInvalidInput, fiber.StatusBadRequest},
		{"concurrent redemption", service.ErrConcurrencyConflict, fiber.StatusConflict},
		{"storage unavailable", service.ErrStorageUnavailable, fiber.StatusServiceUnavailable},
		{"internal", errors.New("unexpected"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := &mockRedemptionService{
				validateAndRedeemFn: func(ctx context.Context, req *model.RedeemRequest) (*model.RedemptionResult, error) {
					return nil, tt.err
				},
			}
			app := setupRedemptionApp(mockSvc)

			resp := postJSON(t, app, "/api/redemptions", redeemBody())
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
